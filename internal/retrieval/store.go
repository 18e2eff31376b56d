package retrieval

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps chunk embeddings in the context_vectors table and
// searches them with an exhaustive cosine scan. The knowledge library of a
// single standards desk stays small enough that no ANN index is needed.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore uses a database already migrated by the storage package.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert stores records in one transaction. Embeddings are normalized to
// unit length before they are written; a zero embedding is rejected.
func (s *SQLiteStore) Insert(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO context_vectors
		(id, source_id, source_type, title, language, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		vec, ok := unit(r.Embedding)
		if !ok {
			return fmt.Errorf("record %s: embedding is empty or all zeros", r.ID)
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := stmt.Exec(r.ID, r.SourceID, r.SourceType, r.Title, r.Language, r.TextChunk,
			encodeVector(vec), created.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Search returns up to topK records matching filter, most similar first.
// Only ids and embeddings are read during the scan; text is loaded for the
// winners afterwards. Vectors of a different dimension never match.
func (s *SQLiteStore) Search(vector []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	query, ok := unit(vector)
	if !ok {
		return nil, nil
	}

	hits, err := s.scan(query, topK, filter)
	if err != nil || len(hits) == 0 {
		return nil, err
	}
	return s.load(hits)
}

func (s *SQLiteStore) scan(query []float32, topK int, filter Filter) ([]hit, error) {
	sqlText := `SELECT id, embedding FROM context_vectors`
	var args []any
	if filter.Language != "" {
		sqlText += ` WHERE language = ?`
		args = append(args, filter.Language)
	}
	rows, err := s.db.Query(sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	defer rows.Close()

	best := newRanking(topK)
	var vec []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("reading vector row: %w", err)
		}
		if vec, err = decodeVector(vec, blob); err != nil {
			return nil, fmt.Errorf("vector %s: %w", id, err)
		}
		if len(vec) != len(query) {
			continue
		}
		best.offer(hit{id: id, score: dot(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	return best.hits, nil
}

// load fetches the full records for hits and returns them in hit order.
func (s *SQLiteStore) load(hits []hit) ([]ScoredRecord, error) {
	args := make([]any, len(hits))
	pos := make(map[string]int, len(hits))
	for i, h := range hits {
		args[i] = h.id
		pos[h.id] = i
	}

	rows, err := s.db.Query(`SELECT id, source_id, source_type, title, language, text_chunk, embedding, created_at
		FROM context_vectors WHERE id IN (?`+strings.Repeat(", ?", len(hits)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("loading matched records: %w", err)
	}
	defer rows.Close()

	out := make([]ScoredRecord, len(hits))
	found := 0
	for rows.Next() {
		var r Record
		var blob []byte
		var created string
		if err := rows.Scan(&r.ID, &r.SourceID, &r.SourceType, &r.Title, &r.Language, &r.TextChunk, &blob, &created); err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		if r.Embedding, err = decodeVector(nil, blob); err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("record %s created_at: %w", r.ID, err)
		}
		i := pos[r.ID]
		out[i] = ScoredRecord{Record: r, Score: hits[i].score}
		found++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading matched records: %w", err)
	}
	if found != len(hits) {
		return nil, fmt.Errorf("%d of %d matched records disappeared during search", len(hits)-found, len(hits))
	}
	return out, nil
}

// DeleteBySource removes every chunk of sourceID and reports how many went.
func (s *SQLiteStore) DeleteBySource(sourceID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM context_vectors WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks of %s: %w", sourceID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM context_vectors`).Scan(&n)
	return n, err
}
