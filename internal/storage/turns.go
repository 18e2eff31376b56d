package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// AppendTurns writes turns to the end of the (userID, sessionID)
// conversation in one transaction. Seq numbers continue from the current
// maximum; IDs are taken as given. The stored turns are returned.
func (s *Store) AppendTurns(userID, sessionID string, turns []Turn) ([]Turn, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	for _, t := range turns {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			return nil, fmt.Errorf("invalid turn role %q", t.Role)
		}
	}

	stored := make([]Turn, 0, len(turns))
	err := s.inTx(func(tx *sql.Tx) error {
		var last sql.NullInt64
		if err := tx.QueryRow(`SELECT MAX(seq) FROM conversation_turns WHERE user_id = ? AND session_id = ?`,
			userID, sessionID).Scan(&last); err != nil {
			return fmt.Errorf("reading last seq: %w", err)
		}

		now := time.Now().UTC()
		for i, t := range turns {
			t.UserID, t.SessionID = userID, sessionID
			t.Seq = int(last.Int64) + i + 1
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			if _, err := tx.Exec(`INSERT INTO conversation_turns
				(id, user_id, session_id, seq, role, content, created_at) VALUES (`+placeholders(7)+`)`,
				t.ID, t.UserID, t.SessionID, t.Seq, t.Role, t.Content, formatTime(t.CreatedAt),
			); err != nil {
				return fmt.Errorf("inserting %s turn %d: %w", t.Role, t.Seq, err)
			}
			stored = append(stored, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// ListTurns returns the most recent limit turns of a conversation, oldest
// first. limit <= 0 returns the whole conversation.
func (s *Store) ListTurns(userID, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT id, user_id, session_id, seq, role, content, created_at
		FROM (
			SELECT * FROM conversation_turns
			WHERE user_id = ? AND session_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`, userID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func scanTurn(r rowScanner) (Turn, error) {
	var t Turn
	var created string
	if err := r.Scan(&t.ID, &t.UserID, &t.SessionID, &t.Seq, &t.Role, &t.Content, &created); err != nil {
		return Turn{}, err
	}
	var err error
	t.CreatedAt, err = parseTime("created_at", created)
	return t, err
}
