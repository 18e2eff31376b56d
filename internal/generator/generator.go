// Package generator invokes the generative model with fixed sampling
// parameters. Backends adapt OpenRouter, a local Ollama engine or Gemini to a
// single Generate call.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Reminder closes every answer prompt.
const Reminder = "記住，不要向用戶請求提供額外資訊，使用現有資料作出最佳回答。"

// Fallback is the reply used when the model produced no text at all.
const Fallback = "很抱歉，無法生成回應。請稍後再試。"

// Params are the sampling parameters for one call.
type Params struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// AnswerParams are used for every answer call.
var AnswerParams = Params{Temperature: 0.1, TopP: 0.9, TopK: 250, MaxTokens: 4000}

// ReasoningParams are used for the analyze/draft/refine stages.
var ReasoningParams = Params{Temperature: 0.2, TopP: 0.9, TopK: 250, MaxTokens: 4000}

// generateTimeout bounds one backend call. It matches the OpenRouter client
// timeout and also caps the local and Gemini backends, which have none.
const generateTimeout = 120 * time.Second

// ErrEmptyPrompt is returned when asked to generate from an empty prompt.
var ErrEmptyPrompt = errors.New("empty prompt")

// Backend generates text for a prompt. Implementations make exactly one
// request per call.
type Backend interface {
	Generate(ctx context.Context, prompt string, p Params) (string, error)
	Name() string
}

// Invoker calls a Backend with the fixed parameters. It never retries.
type Invoker struct {
	backend Backend
	timeout time.Duration
}

// NewInvoker creates an Invoker over the given backend.
func NewInvoker(b Backend) *Invoker {
	return &Invoker{backend: b, timeout: generateTimeout}
}

// Backend returns the name of the underlying backend.
func (inv *Invoker) Backend() string {
	return inv.backend.Name()
}

// Invoke appends the closing reminder and generates an answer.
func (inv *Invoker) Invoke(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	return inv.generate(ctx, prompt+"\n\n"+Reminder, AnswerParams)
}

// Reason generates one reasoning stage from a prompt used as is. The final
// stage prompt carries the reminder itself.
func (inv *Invoker) Reason(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	return inv.generate(ctx, prompt, ReasoningParams)
}

func (inv *Invoker) generate(ctx context.Context, prompt string, p Params) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()
	text, err := inv.backend.Generate(ctx, prompt, p)
	if err != nil {
		return "", fmt.Errorf("%s: %w", inv.backend.Name(), err)
	}
	return text, nil
}

// Reply turns a generation outcome into the text shown to the user: an error
// becomes "Error: <cause>" and an empty answer becomes Fallback.
func Reply(text string, err error) string {
	if err != nil {
		slog.Warn("model invocation failed", "error", err)
		return "Error: " + err.Error()
	}
	if strings.TrimSpace(text) == "" {
		return Fallback
	}
	return text
}
