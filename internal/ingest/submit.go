package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/alloyist/internal/retrieval"
	"github.com/kalambet/alloyist/internal/storage"
)

// ErrEmptyContent is returned when submitted knowledge has no text.
var ErrEmptyContent = errors.New("content is empty")

// KnowledgeQueue stores knowledge documents and queues them for indexing.
type KnowledgeQueue interface {
	SaveKnowledgeDoc(doc storage.KnowledgeDoc) error
	EnqueueJob(job storage.Job) error
}

// Submission is a body of text to add to the internal knowledge index.
type Submission struct {
	Title   string
	Content string
	Source  string
}

// SubmitKnowledge saves the document and queues its indexing job. It returns
// the new document ID. The document is searchable once the worker has run.
func SubmitKnowledge(q KnowledgeQueue, sub Submission) (string, error) {
	if strings.TrimSpace(sub.Content) == "" {
		return "", ErrEmptyContent
	}
	if sub.Source == "" {
		sub.Source = "manual"
	}

	doc := storage.KnowledgeDoc{
		ID:        uuid.New().String(),
		Title:     sub.Title,
		Content:   sub.Content,
		Source:    sub.Source,
		Language:  retrieval.DetectLanguage(sub.Content),
		CreatedAt: time.Now().UTC(),
	}
	if err := q.SaveKnowledgeDoc(doc); err != nil {
		return "", fmt.Errorf("saving knowledge doc: %w", err)
	}
	if err := EnqueueKnowledge(q, doc.ID); err != nil {
		return doc.ID, err
	}
	return doc.ID, nil
}
