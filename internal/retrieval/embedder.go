package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/alloyist/internal/engine"
	"golang.org/x/sync/errgroup"
)

// maxEmbedRunes caps the text sent to the embedding model. Knowledge chunks
// are split well below this, so only oversized queries are cut.
const maxEmbedRunes = 8000

// embedWorkers bounds concurrent embedding calls while indexing a document.
const embedWorkers = 4

// embedTimeout bounds a single embedding call, including a cold model load.
const embedTimeout = 30 * time.Second

// ErrEmptyText is returned when there is nothing to embed after trimming.
var ErrEmptyText = errors.New("nothing to embed")

// taskPrefixes holds the query and passage instructions some embedding
// families were trained with. Models not listed embed raw text.
var taskPrefixes = map[string]struct{ query, passage string }{
	"nomic-embed-text":  {"search_query: ", "search_document: "},
	"mxbai-embed-large": {"Represent this sentence for searching relevant passages: ", ""},
}

// Embedder turns questions and knowledge passages into vectors with a local
// embedding model.
type Embedder struct {
	engine  engine.Engine
	model   string
	query   string
	passage string
	timeout time.Duration
}

func NewEmbedder(e engine.Engine, model string) *Embedder {
	emb := &Embedder{engine: e, model: model, timeout: embedTimeout}
	family := model
	if i := strings.IndexByte(family, ':'); i >= 0 {
		family = family[:i]
	}
	if p, ok := taskPrefixes[family]; ok {
		emb.query, emb.passage = p.query, p.passage
	}
	return emb
}

// EmbedQuery embeds a user question for similarity search.
func (e *Embedder) EmbedQuery(ctx context.Context, question string) ([]float32, error) {
	text, err := prepareText(question)
	if err != nil {
		return nil, err
	}
	vec, err := e.embed(ctx, e.query+text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vec, nil
}

// EmbedPassages embeds knowledge chunks for storage. The result has one
// vector per passage in input order; an empty input yields nil.
func (e *Embedder) EmbedPassages(ctx context.Context, passages []string) ([][]float32, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		text, err := prepareText(p)
		if err != nil {
			return nil, fmt.Errorf("passage %d: %w", i, err)
		}
		texts[i] = e.passage + text
	}

	vecs := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)
	for i := range texts {
		g.Go(func() error {
			vec, err := e.embed(gctx, texts[i])
			if err != nil {
				return fmt.Errorf("embedding passage %d: %w", i, err)
			}
			vecs[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("passage %d: embedding has %d dimensions, expected %d", i, len(v), dim)
		}
	}
	return vecs, nil
}

func (e *Embedder) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.engine.Embed(ctx, e.model, text)
}

// prepareText collapses whitespace and truncates to maxEmbedRunes.
func prepareText(s string) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(s) > maxEmbedRunes {
		s = string([]rune(s)[:maxEmbedRunes])
	}
	return s, nil
}
