package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source types recorded on indexed chunks.
const (
	SourceKnowledge = "knowledge"
	SourceUpload    = "uploaded_document"
)

// Language tags stored with each chunk and used to filter queries.
const (
	LanguageChinese = "zh"
	LanguageEnglish = "en"
)

// DefaultTopK is the number of chunks a query returns when none is configured.
const DefaultTopK = 10

// ChunkSize is the maximum number of runes per indexed chunk.
const ChunkSize = 5000

// ContextChunk is an indexed text fragment. Score is set on query results only.
type ContextChunk struct {
	ID         string
	SourceID   string
	SourceType string
	Title      string
	Text       string
	Language   string
	Score      float32
	CreatedAt  time.Time
}

// Index combines embedding and vector search into the semantic search index
// used for internal knowledge.
type Index struct {
	embedder *Embedder
	store    VectorStore
	topK     int
}

// NewIndex creates an Index backed by the given Embedder and VectorStore.
// A non-positive topK falls back to DefaultTopK.
func NewIndex(embedder *Embedder, store VectorStore, topK int) *Index {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Index{embedder: embedder, store: store, topK: topK}
}

// Query embeds text and returns the most similar chunks in the given language,
// best match first. Chunks with no text are dropped. An empty language
// searches every chunk.
func (ix *Index) Query(ctx context.Context, text, language string) ([]ContextChunk, error) {
	vec, err := ix.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	scored, err := ix.store.Search(vec, ix.topK, Filter{Language: language})
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	chunks := make([]ContextChunk, 0, len(scored))
	for _, s := range scored {
		if strings.TrimSpace(s.TextChunk) == "" {
			continue
		}
		chunks = append(chunks, ContextChunk{
			ID:         s.ID,
			SourceID:   s.SourceID,
			SourceType: s.SourceType,
			Title:      s.Title,
			Text:       s.TextChunk,
			Language:   s.Language,
			Score:      s.Score,
			CreatedAt:  s.CreatedAt,
		})
	}
	return chunks, nil
}

// Add embeds and stores the chunks. Missing IDs are generated and a missing
// language is detected from the text. It returns the stored IDs in order.
func (ix *Index) Add(ctx context.Context, chunks []ContextChunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := ix.embedder.EmbedPassages(ctx, texts)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ids := make([]string, len(chunks))
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.Language == "" {
			c.Language = DetectLanguage(c.Text)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		ids[i] = c.ID
		records[i] = Record{
			ID:         c.ID,
			SourceID:   c.SourceID,
			SourceType: c.SourceType,
			Title:      c.Title,
			Language:   c.Language,
			TextChunk:  c.Text,
			Embedding:  vecs[i],
			CreatedAt:  c.CreatedAt,
		}
	}

	if err := ix.store.Insert(records); err != nil {
		return nil, fmt.Errorf("storing chunks: %w", err)
	}
	return ids, nil
}

// Remove deletes every chunk indexed from sourceID.
func (ix *Index) Remove(sourceID string) (int, error) {
	return ix.store.DeleteBySource(sourceID)
}

// Count reports the number of indexed chunks.
func (ix *Index) Count() (int, error) {
	return ix.store.Count()
}

// DetectLanguage returns LanguageChinese when text contains any CJK unified
// ideograph and LanguageEnglish otherwise.
func DetectLanguage(text string) string {
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			return LanguageChinese
		}
	}
	return LanguageEnglish
}

// SplitText cuts text into consecutive pieces of at most size runes.
// Empty text yields no pieces.
func SplitText(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = ChunkSize
	}
	runes := []rune(text)
	pieces := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}
