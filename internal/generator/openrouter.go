package generator

import (
	"context"
	"log/slog"

	"github.com/kalambet/alloyist/internal/proxy"
)

// OpenRouter generates through the OpenRouter chat completions API.
type OpenRouter struct {
	client *proxy.Client
	model  string
}

func NewOpenRouter(client *proxy.Client, model string) *OpenRouter {
	return &OpenRouter{client: client, model: model}
}

func (o *OpenRouter) Name() string { return "openrouter" }

func (o *OpenRouter) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	temp, topP := p.Temperature, p.TopP
	comp, err := o.client.Complete(ctx, proxy.ChatRequest{
		Model:       o.model,
		Messages:    []proxy.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
		TopP:        &topP,
		TopK:        p.TopK,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	slog.Debug("openrouter completion",
		"model", comp.Model,
		"finish_reason", comp.FinishReason,
		"prompt_tokens", comp.Usage.PromptTokens,
		"completion_tokens", comp.Usage.CompletionTokens,
	)
	if comp.FinishReason == "length" {
		slog.Warn("openrouter answer hit the token limit", "model", o.model, "max_tokens", p.MaxTokens)
	}
	return comp.Content, nil
}
