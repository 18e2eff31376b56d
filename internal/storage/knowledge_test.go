package storage

import (
	"fmt"
	"testing"
	"time"
)

func TestListKnowledgeDocs_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		doc := KnowledgeDoc{
			ID:        fmt.Sprintf("doc-%02d", i),
			Title:     fmt.Sprintf("CNS 8497 part %d", i),
			Content:   "不銹鋼板 化學成分",
			Source:    "api",
			Language:  "zh",
			CreatedAt: base.Add(time.Duration(i) * 100 * time.Millisecond),
		}
		if err := s.SaveKnowledgeDoc(doc); err != nil {
			t.Fatalf("SaveKnowledgeDoc %d: %v", i, err)
		}
	}

	got, err := s.ListKnowledgeDocs(2)
	if err != nil {
		t.Fatalf("ListKnowledgeDocs: %v", err)
	}
	if len(got) != 2 || got[0].ID != "doc-02" || got[1].ID != "doc-01" {
		t.Errorf("ListKnowledgeDocs(2) = %+v", got)
	}
}

func TestKnowledgeDoc_ChunksAndDelete(t *testing.T) {
	s := openTestStore(t)

	doc := KnowledgeDoc{ID: "kd", Title: "ASTM A240", Content: "x", Source: "cli", Language: "en", CreatedAt: time.Now()}
	if err := s.SaveKnowledgeDoc(doc); err != nil {
		t.Fatalf("SaveKnowledgeDoc: %v", err)
	}
	if err := s.UpdateKnowledgeDocChunks("kd", 3); err != nil {
		t.Fatalf("UpdateKnowledgeDocChunks: %v", err)
	}
	got, err := s.GetKnowledgeDoc("kd")
	if err != nil {
		t.Fatalf("GetKnowledgeDoc: %v", err)
	}
	if got.ChunkCount != 3 || got.Title != "ASTM A240" || got.Language != "en" {
		t.Errorf("got %+v", got)
	}

	if err := s.DeleteKnowledgeDoc("kd"); err != nil {
		t.Fatalf("DeleteKnowledgeDoc: %v", err)
	}
	if _, err := s.GetKnowledgeDoc("kd"); err != ErrNotFound {
		t.Errorf("GetKnowledgeDoc after delete err = %v, want ErrNotFound", err)
	}
}

func TestKnowledgeDoc_NotFound(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpdateKnowledgeDocChunks("nope", 1); err != ErrNotFound {
		t.Errorf("UpdateKnowledgeDocChunks err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteKnowledgeDoc("nope"); err != ErrNotFound {
		t.Errorf("DeleteKnowledgeDoc err = %v, want ErrNotFound", err)
	}
}
