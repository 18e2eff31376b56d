package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation. A conversation is keyed by
// (UserID, SessionID); Seq is assigned by the store and grows monotonically.
type Turn struct {
	ID        string
	UserID    string
	SessionID string
	Seq       int
	Role      string
	Content   string
	CreatedAt time.Time
}

// Upload is a user-supplied file kept alongside the conversation it arrived in.
type Upload struct {
	ID           string
	UserID       string
	SessionID    string
	Name         string
	MIMEType     string
	StorageKey   string
	Content      []byte
	AnalysisJSON string
	CreatedAt    time.Time
}

// KnowledgeDoc is a body of text queued for indexing into context_vectors.
type KnowledgeDoc struct {
	ID         string
	Title      string
	Content    string
	Source     string
	Language   string
	ChunkCount int
	CreatedAt  time.Time
}

// Job states. A failed job is one that used up its attempts.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job is a queued unit of background work, such as indexing a knowledge
// document or analyzing an upload.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
