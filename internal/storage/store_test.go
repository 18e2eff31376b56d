package storage

import (
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_ReopenKeepsSchema(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	first, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := first.AppendTurns("u1", "s1", []Turn{{ID: "t1", Role: RoleUser, Content: "2205 是雙相鋼嗎?"}}); err != nil {
		t.Fatalf("AppendTurns: %v", err)
	}
	before, _ := first.AppliedMigrations()
	first.Close()

	second, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer second.Close()

	after, err := second.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if !slices.Equal(before, after) {
		t.Errorf("migrations changed on reopen: %v -> %v", before, after)
	}
	turns, err := second.ListTurns("u1", "s1", 0)
	if err != nil || len(turns) != 1 {
		t.Errorf("ListTurns after reopen = %v, %v", turns, err)
	}
}

func TestMigrations_AppliedInOrder(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("no migrations applied")
	}
	if !slices.IsSorted(versions) {
		t.Errorf("versions not ascending: %v", versions)
	}
	pending, err := s.pendingMigrations()
	if err != nil || len(pending) != 0 {
		t.Errorf("pendingMigrations = %v, %v; want none", pending, err)
	}
}

func TestSchemaObjects(t *testing.T) {
	s := openTestStore(t)

	objects := map[string]string{
		"conversation_turns":            "table",
		"uploads":                       "table",
		"knowledge_docs":                "table",
		"context_vectors":               "table",
		"jobs":                          "table",
		"idx_turns_conversation":        "index",
		"idx_uploads_conversation":      "index",
		"idx_knowledge_docs_created":    "index",
		"idx_context_vectors_source_id": "index",
		"idx_context_vectors_language":  "index",
		"idx_jobs_status_run_after":     "index",
	}
	for name, typ := range objects {
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, typ, name).Scan(&n); err != nil {
			t.Fatalf("sqlite_master lookup %s: %v", name, err)
		}
		if n != 1 {
			t.Errorf("%s %q missing", typ, name)
		}
	}
}

func TestTimeColumnsSortAsText(t *testing.T) {
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	whole := formatTime(base)
	frac := formatTime(base.Add(500 * time.Millisecond))
	if !(whole < frac) {
		t.Errorf("%q should sort before %q", whole, frac)
	}

	got, err := parseTime("created_at", frac)
	if err != nil || !got.Equal(base.Add(500*time.Millisecond)) {
		t.Errorf("parseTime(%q) = %v, %v", frac, got, err)
	}
	if _, err := parseTime("run_after", "2025-03-01T08:00:00Z"); err != nil {
		t.Errorf("whole-second value rejected: %v", err)
	}
}

func TestPlaceholders(t *testing.T) {
	for n, want := range map[int]string{1: "?", 3: "?, ?, ?"} {
		if got := placeholders(n); got != want {
			t.Errorf("placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}
