package storage

import (
	"testing"
	"time"
)

func millCert(id, session string, at time.Time) Upload {
	return Upload{
		ID:         id,
		UserID:     "u1",
		SessionID:  session,
		Name:       "mill_cert.pdf",
		MIMEType:   "application/pdf",
		StorageKey: "uploads/u1/" + session + "/" + id + "_mill_cert.pdf",
		Content:    []byte("%PDF-1.4"),
		CreatedAt:  at,
	}
}

func TestUpload_SaveAnalyzeGet(t *testing.T) {
	s := openTestStore(t)

	want := millCert("up-1", "s1", time.Now().UTC().Truncate(time.Millisecond))
	if err := s.SaveUpload(want); err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	if err := s.UpdateUploadAnalysis("up-1", `{"text":"Cr 18%"}`); err != nil {
		t.Fatalf("UpdateUploadAnalysis: %v", err)
	}

	got, err := s.GetUpload("up-1")
	if err != nil {
		t.Fatalf("GetUpload: %v", err)
	}
	if got.StorageKey != want.StorageKey || string(got.Content) != "%PDF-1.4" {
		t.Errorf("got %+v", got)
	}
	if got.AnalysisJSON != `{"text":"Cr 18%"}` {
		t.Errorf("AnalysisJSON = %q", got.AnalysisJSON)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestUpload_StorageKeyUnique(t *testing.T) {
	s := openTestStore(t)

	u := millCert("up-1", "s1", time.Now())
	if err := s.SaveUpload(u); err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	u.ID = "up-2"
	if err := s.SaveUpload(u); err == nil {
		t.Error("expected unique constraint error for a reused storage key")
	}
}

func TestUpload_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetUpload("missing"); err != ErrNotFound {
		t.Errorf("GetUpload err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateUploadAnalysis("missing", "{}"); err != ErrNotFound {
		t.Errorf("UpdateUploadAnalysis err = %v, want ErrNotFound", err)
	}
}

func TestListUploads_PerConversation(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, u := range []Upload{
		millCert("b", "s1", base.Add(time.Minute)),
		millCert("a", "s1", base),
		millCert("c", "s2", base),
	} {
		if err := s.SaveUpload(u); err != nil {
			t.Fatalf("SaveUpload %d: %v", i, err)
		}
	}

	got, err := s.ListUploads("u1", "s1")
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("ListUploads = %+v, want a then b", got)
	}
}
