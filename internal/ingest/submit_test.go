package ingest

import (
	"context"
	"errors"
	"testing"
)

func TestSubmitKnowledge_SavesAndQueues(t *testing.T) {
	store := openTestStore(t)

	id, err := SubmitKnowledge(store, Submission{Title: "430", Content: "430 是肥粒體不鏽鋼"})
	if err != nil {
		t.Fatalf("SubmitKnowledge: %v", err)
	}

	doc, err := store.GetKnowledgeDoc(id)
	if err != nil {
		t.Fatalf("GetKnowledgeDoc: %v", err)
	}
	if doc.Source != "manual" || doc.Language != "zh" {
		t.Errorf("doc source=%q language=%q", doc.Source, doc.Language)
	}

	idx := &fakeIndex{}
	if _, err := NewWorker(store, idx, 0).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(idx.added) != 1 || idx.added[0].SourceID != id {
		t.Errorf("indexed = %+v", idx.added)
	}
}

func TestSubmitKnowledge_RejectsBlankContent(t *testing.T) {
	store := openTestStore(t)
	if _, err := SubmitKnowledge(store, Submission{Content: " \n"}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("err = %v, want ErrEmptyContent", err)
	}
}
