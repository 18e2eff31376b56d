// Package conversation persists and reads back the turns of a
// (user, session) conversation.
package conversation

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/alloyist/internal/storage"
)

// DefaultHistoryLimit is the number of turns read back when no limit is given.
const DefaultHistoryLimit = 10

// Key identifies a conversation.
type Key struct {
	UserID    string
	SessionID string
}

// TurnStore is the subset of storage.Store the log needs.
type TurnStore interface {
	AppendTurns(userID, sessionID string, turns []storage.Turn) ([]storage.Turn, error)
	ListTurns(userID, sessionID string, limit int) ([]storage.Turn, error)
}

// Log appends exchanges and reads conversation history.
type Log struct {
	store TurnStore
}

// NewLog creates a Log over the given store.
func NewLog(store TurnStore) *Log {
	return &Log{store: store}
}

// AppendExchange writes the user message and the assistant reply as two
// consecutive turns in one transaction.
func (l *Log) AppendExchange(key Key, userText, assistantText string) ([]storage.Turn, error) {
	turns, err := l.store.AppendTurns(key.UserID, key.SessionID, []storage.Turn{
		{ID: uuid.New().String(), Role: storage.RoleUser, Content: userText},
		{ID: uuid.New().String(), Role: storage.RoleAssistant, Content: assistantText},
	})
	if err != nil {
		return nil, fmt.Errorf("saving exchange for %s/%s: %w", key.UserID, key.SessionID, err)
	}
	return turns, nil
}

// History returns the last limit turns in chronological order. A
// non-positive limit uses DefaultHistoryLimit.
func (l *Log) History(key Key, limit int) ([]storage.Turn, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	turns, err := l.store.ListTurns(key.UserID, key.SessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading history for %s/%s: %w", key.UserID, key.SessionID, err)
	}
	return turns, nil
}

// UserMessages returns the content of the user turns, oldest first.
func UserMessages(turns []storage.Turn) []string {
	var out []string
	for _, t := range turns {
		if t.Role == storage.RoleUser {
			out = append(out, t.Content)
		}
	}
	return out
}
