package generator

import (
	"context"

	"github.com/kalambet/alloyist/internal/engine"
)

// Ollama generates with a local inference engine.
type Ollama struct {
	engine engine.Engine
	model  string
}

// NewOllama creates a backend for the given engine and model name.
func NewOllama(e engine.Engine, model string) *Ollama {
	return &Ollama{engine: e, model: model}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	temp, topP := p.Temperature, p.TopP
	return o.engine.Chat(ctx, o.model, []engine.Message{engine.User(prompt)}, engine.ChatOptions{
		Temperature: &temp,
		TopP:        &topP,
		TopK:        p.TopK,
		MaxTokens:   p.MaxTokens,
	})
}
