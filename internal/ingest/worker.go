package ingest

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/alloyist/internal/knowledge"
	"github.com/kalambet/alloyist/internal/retrieval"
	"github.com/kalambet/alloyist/internal/storage"
)

// Job types handled by the Worker.
const (
	JobIndexUpload    = "index_upload"
	JobIndexKnowledge = "index_knowledge"
)

// JobStore abstracts the job queue and the records jobs point at.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	RequeueRunning() (int, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetUpload(id string) (storage.Upload, error)
	GetKnowledgeDoc(id string) (storage.KnowledgeDoc, error)
	UpdateKnowledgeDocChunks(id string, chunks int) error
}

// ChunkIndexer stores text chunks in the semantic search index.
type ChunkIndexer interface {
	Add(ctx context.Context, chunks []retrieval.ContextChunk) ([]string, error)
}

// Enqueuer accepts new jobs.
type Enqueuer interface {
	EnqueueJob(job storage.Job) error
}

type uploadPayload struct {
	UploadID string `json:"upload_id"`
}

type knowledgePayload struct {
	KnowledgeDocID string `json:"knowledge_doc_id"`
}

// EnqueueUpload queues the extracted text of an analyzed upload for indexing.
func EnqueueUpload(q Enqueuer, uploadID string) error {
	return enqueue(q, JobIndexUpload, uploadPayload{UploadID: uploadID})
}

// EnqueueKnowledge queues a stored knowledge document for indexing.
func EnqueueKnowledge(q Enqueuer, docID string) error {
	return enqueue(q, JobIndexKnowledge, knowledgePayload{KnowledgeDocID: docID})
}

func enqueue(q Enqueuer, jobType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", jobType, err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		PayloadJSON: string(raw),
	}
	if err := q.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}
	return nil
}

// jobTypes are the job types the Worker claims.
var jobTypes = []string{JobIndexUpload, JobIndexKnowledge}

// Worker indexes uploaded document text and knowledge documents from the
// SQLite job queue.
type Worker struct {
	store     JobStore
	index     ChunkIndexer
	chunkSize int
	poll      time.Duration
	wake      chan struct{}
	logger    *slog.Logger
}

// NewWorker creates a Worker. A pollInterval <= 0 means 500ms.
func NewWorker(store JobStore, index ChunkIndexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		index:     index,
		chunkSize: retrieval.ChunkSize,
		poll:      pollInterval,
		wake:      make(chan struct{}, 1),
		logger:    slog.Default().With("component", "ingest"),
	}
}

// Notify wakes a sleeping Run so a newly queued job starts without waiting
// for the next poll. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run requeues jobs interrupted by a previous shutdown, then processes due
// jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueRunning(); err != nil {
		w.logger.Error("requeueing interrupted jobs", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted jobs", "count", n)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-timer.C:
		}
		w.drain(ctx)
		timer.Reset(w.poll)
	}
}

// drain runs due jobs back to back until the queue has nothing runnable.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		worked, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
			return
		}
		if !worked {
			return
		}
	}
}

// RunOnce claims one due job and runs it. It reports whether a job was
// claimed. Job failures are recorded on the job for retry, not returned.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(jobTypes)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	log := w.logger.With("job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1)
	start := time.Now()
	runErr := w.handle(ctx, job)
	if ctx.Err() != nil {
		// Left running; the next Run requeues it.
		return true, nil
	}
	if runErr != nil {
		log.Warn("job failed", "error", runErr)
		if err := w.store.FailJob(job.ID, runErr.Error()); err != nil {
			return true, fmt.Errorf("recording failure of job %s: %w", job.ID, err)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	log.Debug("job completed", "elapsed", time.Since(start))
	return true, nil
}

func (w *Worker) handle(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobIndexUpload:
		p, err := decodePayload[uploadPayload](job)
		if err != nil {
			return err
		}
		return w.indexUpload(ctx, p.UploadID)
	case JobIndexKnowledge:
		p, err := decodePayload[knowledgePayload](job)
		if err != nil {
			return err
		}
		return w.indexKnowledge(ctx, p.KnowledgeDocID)
	}
	return fmt.Errorf("unknown job type %q", job.Type)
}

func decodePayload[T any](job *storage.Job) (T, error) {
	var p T
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return p, fmt.Errorf("parsing %s payload: %w", job.Type, err)
	}
	return p, nil
}

// chunk splits text and labels each piece with title(i, n).
func (w *Worker) chunk(text, sourceID, sourceType, language string, title func(i, n int) string) []retrieval.ContextChunk {
	pieces := retrieval.SplitText(text, w.chunkSize)
	chunks := make([]retrieval.ContextChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = retrieval.ContextChunk{
			SourceID:   sourceID,
			SourceType: sourceType,
			Title:      title(i, len(pieces)),
			Text:       p,
			Language:   language,
		}
	}
	return chunks
}

func (w *Worker) indexUpload(ctx context.Context, uploadID string) error {
	up, err := w.store.GetUpload(uploadID)
	if err != nil {
		return fmt.Errorf("loading upload %s: %w", uploadID, err)
	}
	if up.AnalysisJSON == "" {
		return fmt.Errorf("upload %s has no analysis", uploadID)
	}
	var analysis knowledge.DocumentAnalysis
	if err := json.Unmarshal([]byte(up.AnalysisJSON), &analysis); err != nil {
		return fmt.Errorf("parsing analysis of upload %s: %w", uploadID, err)
	}
	if strings.TrimSpace(analysis.Text) == "" {
		return nil
	}

	chunks := w.chunk(analysis.Text, up.StorageKey, retrieval.SourceUpload, retrieval.DetectLanguage(analysis.Text),
		func(i, _ int) string { return fmt.Sprintf("從%s提取的文本 (片段%d)", up.StorageKey, i+1) })
	if _, err := w.index.Add(ctx, chunks); err != nil {
		return fmt.Errorf("indexing upload %s: %w", uploadID, err)
	}
	w.logger.Info("indexed upload", "upload_id", uploadID, "key", up.StorageKey, "chunks", len(chunks))
	return nil
}

func (w *Worker) indexKnowledge(ctx context.Context, docID string) error {
	doc, err := w.store.GetKnowledgeDoc(docID)
	if err != nil {
		return fmt.Errorf("loading knowledge doc %s: %w", docID, err)
	}

	language := cmp.Or(doc.Language, retrieval.DetectLanguage(doc.Content))
	title := cmp.Or(doc.Title, doc.Source)
	chunks := w.chunk(doc.Content, doc.ID, retrieval.SourceKnowledge, language, func(i, n int) string {
		if n == 1 {
			return title
		}
		return fmt.Sprintf("%s (片段%d)", title, i+1)
	})
	if _, err := w.index.Add(ctx, chunks); err != nil {
		return fmt.Errorf("indexing knowledge doc %s: %w", docID, err)
	}

	if err := w.store.UpdateKnowledgeDocChunks(doc.ID, len(chunks)); err != nil {
		return fmt.Errorf("updating chunk count: %w", err)
	}
	w.logger.Info("indexed knowledge doc", "doc_id", doc.ID, "chunks", len(chunks))
	return nil
}
