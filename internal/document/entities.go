package document

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/alloyist/internal/engine"
	"github.com/kalambet/alloyist/internal/knowledge"
)

// Bounds on the text sent for entity analysis, in characters.
const (
	MinEntityTextLen = 50
	MaxEntityTextLen = 5000
)

const entityTimeout = 15 * time.Second

// Entities is the outcome of entity and key phrase detection.
type Entities struct {
	Entities   []knowledge.Entity
	KeyPhrases []string
}

// EntityAnalyzer detects named entities and key phrases in text.
type EntityAnalyzer interface {
	Analyze(ctx context.Context, text, language string) (Entities, error)
}

const entityPromptTemplate = `You are an entity and key phrase extraction engine for stainless steel standards documents. Your output must be ONLY a single valid JSON object that conforms to the provided schema.

Rules:
- "entities" lists named entities, each with "type" and "text". Use these types: ORGANIZATION, STANDARD, GRADE, QUANTITY, DATE, LOCATION, PERSON, OTHER.
- "key_phrases" lists the noun phrases that best summarize the text, most important first.
- Copy entity and phrase text exactly as it appears in the input.
- The input language is %s. Keep the output in that language.`

// LLMEntityAnalyzer extracts entities with a local model and a JSON schema.
type LLMEntityAnalyzer struct {
	chat  Chatter
	model string
}

// NewLLMEntityAnalyzer creates an LLMEntityAnalyzer using the given model.
func NewLLMEntityAnalyzer(chat Chatter, model string) *LLMEntityAnalyzer {
	return &LLMEntityAnalyzer{chat: chat, model: model}
}

type entityResult struct {
	Entities   []knowledge.Entity `json:"entities"`
	KeyPhrases []string           `json:"key_phrases"`
}

// Analyze runs one structured chat call bounded by a 15 second timeout.
func (a *LLMEntityAnalyzer) Analyze(ctx context.Context, text, language string) (Entities, error) {
	ctx, cancel := context.WithTimeout(ctx, entityTimeout)
	defer cancel()

	messages := []engine.Message{
		engine.System(fmt.Sprintf(entityPromptTemplate, languageName(language))),
		engine.User(text),
	}
	zero := 0.0
	raw, err := a.chat.Chat(ctx, a.model, messages, engine.ChatOptions{Schema: entitySchema(), Temperature: &zero})
	if err != nil {
		return Entities{}, fmt.Errorf("entity chat: %w", err)
	}

	var res entityResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Entities{}, fmt.Errorf("parsing entity response: %w", err)
	}

	out := Entities{}
	for _, e := range res.Entities {
		e.Type = strings.ToUpper(strings.TrimSpace(e.Type))
		e.Text = strings.TrimSpace(e.Text)
		if e.Type == "" || e.Text == "" {
			continue
		}
		out.Entities = append(out.Entities, e)
	}
	for _, p := range res.KeyPhrases {
		if p = strings.TrimSpace(p); p != "" {
			out.KeyPhrases = append(out.KeyPhrases, p)
		}
	}
	return out, nil
}

func languageName(code string) string {
	if code == "zh" {
		return "Chinese"
	}
	return "English"
}

func entitySchema() *engine.Schema {
	entity := &engine.SchemaProperty{Type: "object", Description: "An entity with type and text"}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"entities":    {Type: "array", Description: "Named entities found in the text", Items: entity},
			"key_phrases": {Type: "array", Description: "Key phrases, most important first", Items: &engine.SchemaProperty{Type: "string"}},
		},
		Required: []string{"entities", "key_phrases"},
	}
}
