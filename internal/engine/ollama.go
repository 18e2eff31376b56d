package engine

import (
	"context"
	"encoding/base64"

	"github.com/kalambet/alloyist/internal/ollama"
)

var _ Engine = (*OllamaEngine)(nil)

// OllamaEngine runs models on an Ollama server.
type OllamaEngine struct {
	*ollama.Client
}

func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{Client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	return e.Client.Chat(ctx, ollama.ChatRequest{
		Model:    model,
		Messages: toOllamaMessages(messages),
		Format:   toOllamaSchema(opts.Schema),
		Options:  toOllamaOptions(opts),
	})
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	if onProgress == nil {
		return e.Client.PullModel(ctx, name, nil)
	}
	return e.Client.PullModel(ctx, name, func(p ollama.PullProgress) {
		onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
	})
}

func toOllamaMessages(messages []Message) []ollama.Message {
	out := make([]ollama.Message, 0, len(messages))
	for _, m := range messages {
		om := ollama.Message{Role: m.Role, Content: m.Content}
		for _, img := range m.Images {
			om.Images = append(om.Images, base64.StdEncoding.EncodeToString(img))
		}
		out = append(out, om)
	}
	return out
}

func toOllamaSchema(s *Schema) *ollama.Schema {
	if s == nil {
		return nil
	}
	out := &ollama.Schema{Type: s.Type, Required: s.Required, Properties: map[string]ollama.SchemaProperty{}}
	for name, p := range s.Properties {
		out.Properties[name] = toOllamaProperty(p)
	}
	return out
}

func toOllamaProperty(p SchemaProperty) ollama.SchemaProperty {
	out := ollama.SchemaProperty{Type: p.Type, Description: p.Description}
	if p.Items != nil {
		items := toOllamaProperty(*p.Items)
		out.Items = &items
	}
	return out
}

// toOllamaOptions returns nil when nothing is tuned so the server applies
// the model's own defaults.
func toOllamaOptions(o ChatOptions) *ollama.Options {
	if o.Temperature == nil && o.TopP == nil && o.TopK == 0 && o.MaxTokens == 0 {
		return nil
	}
	return &ollama.Options{Temperature: o.Temperature, TopP: o.TopP, TopK: o.TopK, NumPredict: o.MaxTokens}
}
