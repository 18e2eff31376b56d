package retrieval

import "time"

// VectorStore holds embedded knowledge chunks for the Index.
type VectorStore interface {
	Insert(records []Record) error
	// Search returns at most topK records matching filter, most similar
	// first by cosine similarity.
	Search(vector []float32, topK int, filter Filter) ([]ScoredRecord, error)
	// DeleteBySource removes every chunk of a knowledge document or upload
	// and reports how many were removed.
	DeleteBySource(sourceID string) (int, error)
	Count() (int, error)
}

// Filter narrows a Search. Empty fields match everything.
type Filter struct {
	Language string
}

// Record is one indexed chunk. SourceID is the knowledge document id or
// upload storage key the chunk came from.
type Record struct {
	ID         string
	SourceID   string
	SourceType string
	Title      string
	Language   string
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredRecord is a search hit; Score is cosine similarity in [-1, 1].
type ScoredRecord struct {
	Record
	Score float32
}
