package document

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/alloyist/internal/ingest"
	"github.com/kalambet/alloyist/internal/knowledge"
	"github.com/kalambet/alloyist/internal/retrieval"
	"github.com/kalambet/alloyist/internal/storage"
)

// Store persists uploads, their analysis and the indexing job that follows.
type Store interface {
	SaveUpload(u storage.Upload) error
	UpdateUploadAnalysis(id, analysisJSON string) error
	EnqueueJob(job storage.Job) error
}

// File is an uploaded file as received from the client.
type File struct {
	Name     string
	MIMEType string
	Content  []byte
}

// Analyzer stores an upload once and analyzes it once.
type Analyzer struct {
	store     Store
	extractor *Extractor
	entities  EntityAnalyzer
	now       func() time.Time
}

// NewAnalyzer creates an Analyzer. entities may be nil to skip entity and key
// phrase detection.
func NewAnalyzer(store Store, extractor *Extractor, entities EntityAnalyzer) *Analyzer {
	return &Analyzer{store: store, extractor: extractor, entities: entities, now: time.Now}
}

// StorageKey builds the key an upload is saved under.
func StorageKey(userID, sessionID, name string, at time.Time) string {
	return fmt.Sprintf("uploads/%s/%s/%s_%s", userID, sessionID, at.Format("20060102150405"), name)
}

// Analyze saves the file, extracts its content and records the analysis.
// Only a failure to save the upload is returned as an error; extraction and
// entity failures are reported on the returned analysis.
func (a *Analyzer) Analyze(ctx context.Context, userID, sessionID string, f File) (*knowledge.DocumentAnalysis, error) {
	now := a.now().UTC()
	up := storage.Upload{
		ID:         uuid.New().String(),
		UserID:     userID,
		SessionID:  sessionID,
		Name:       f.Name,
		MIMEType:   f.MIMEType,
		StorageKey: StorageKey(userID, sessionID, f.Name, now),
		Content:    f.Content,
		CreatedAt:  now,
	}
	if err := a.store.SaveUpload(up); err != nil {
		return nil, fmt.Errorf("saving upload %s: %w", up.StorageKey, err)
	}

	analysis := &knowledge.DocumentAnalysis{
		Name:       f.Name,
		MIMEType:   f.MIMEType,
		StorageKey: up.StorageKey,
	}

	ex, err := a.extractor.Extract(ctx, f.Content, f.MIMEType)
	if err != nil {
		slog.Warn("document extraction failed", "key", up.StorageKey, "type", f.MIMEType, "error", err)
		analysis.Error = err.Error()
	} else {
		analysis.Text = ex.Text
		analysis.Tables = ex.Tables
		analysis.DetectedLines = ex.DetectedLines
		analysis.StructuredData = ex.StructuredData
		a.detectEntities(ctx, analysis)
	}

	if raw, err := json.Marshal(analysis); err != nil {
		slog.Warn("encoding document analysis failed", "key", up.StorageKey, "error", err)
	} else if err := a.store.UpdateUploadAnalysis(up.ID, string(raw)); err != nil {
		slog.Warn("saving document analysis failed", "key", up.StorageKey, "error", err)
	} else if analysis.Error == "" && strings.TrimSpace(analysis.Text) != "" {
		if err := ingest.EnqueueUpload(a.store, up.ID); err != nil {
			slog.Warn("queueing document for indexing failed", "key", up.StorageKey, "error", err)
		}
	}

	return analysis, nil
}

// detectEntities fills entities and key phrases when the text length is
// within the analyzable window.
func (a *Analyzer) detectEntities(ctx context.Context, analysis *knowledge.DocumentAnalysis) {
	if a.entities == nil {
		return
	}
	n := utf8.RuneCountInString(analysis.Text)
	if n <= MinEntityTextLen || n > MaxEntityTextLen {
		return
	}
	res, err := a.entities.Analyze(ctx, analysis.Text, retrieval.DetectLanguage(analysis.Text))
	if err != nil {
		slog.Warn("entity analysis failed", "key", analysis.StorageKey, "error", err)
		return
	}
	analysis.Entities = res.Entities
	analysis.KeyPhrases = res.KeyPhrases
}
