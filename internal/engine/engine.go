// Package engine is the seam between the assistant and its local model
// server. Vision extraction, entity analysis, embeddings and the local
// generator backend all talk to an Engine.
package engine

import "context"

type Engine interface {
	// Chat returns the model's reply. With opts.Schema set the reply is a
	// JSON document matching it.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)
	Embed(ctx context.Context, model string, text string) ([]float32, error)
	IsRunning(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool
	// PullModel downloads name. onProgress may be nil.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
