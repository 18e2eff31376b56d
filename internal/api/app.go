package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/alloyist/internal/conversation"
	"github.com/kalambet/alloyist/internal/ingest"
	"github.com/kalambet/alloyist/internal/storage"
)

const maxKnowledgeBodySize = 10 << 20 // 10MB

// KnowledgeStore saves knowledge documents, queues them and lists them.
type KnowledgeStore interface {
	ingest.KnowledgeQueue
	ListKnowledgeDocs(limit int) ([]storage.KnowledgeDoc, error)
}

// HistoryReader reads conversation turns.
type HistoryReader interface {
	History(key conversation.Key, limit int) ([]storage.Turn, error)
}

// PageFetcher returns the readable text of a web page.
type PageFetcher interface {
	Scrape(ctx context.Context, link string) (string, error)
}

// AppDeps holds the collaborators of the HTTP surface. Fetcher is optional;
// without it url submissions are rejected.
type AppDeps struct {
	Assistant     Asker
	Knowledge     KnowledgeStore
	Conversations HistoryReader
	Fetcher       PageFetcher
	AllowedOrigin string
}

// KnowledgeRequest is a body of text submitted to the internal index.
type KnowledgeRequest struct {
	Source  string `json:"source"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// TurnView is the JSON form of a conversation turn.
type TurnView struct {
	Seq       int    `json:"seq"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// KnowledgeDocView is the JSON form of a knowledge document, without content.
type KnowledgeDocView struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Source     string `json:"source"`
	Language   string `json:"language"`
	ChunkCount int    `json:"chunk_count"`
	CreatedAt  string `json:"created_at"`
}

func turnViews(turns []storage.Turn) []TurnView {
	views := make([]TurnView, len(turns))
	for i, t := range turns {
		views[i] = TurnView{Seq: t.Seq, Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt.Format(time.RFC3339)}
	}
	return views
}

func knowledgeDocViews(docs []storage.KnowledgeDoc) []KnowledgeDocView {
	views := make([]KnowledgeDocView, len(docs))
	for i, d := range docs {
		views[i] = KnowledgeDocView{
			ID:         d.ID,
			Title:      d.Title,
			Source:     d.Source,
			Language:   d.Language,
			ChunkCount: d.ChunkCount,
			CreatedAt:  d.CreatedAt.Format(time.RFC3339),
		}
	}
	return views
}

// NewAppHandler routes the assistant endpoint and its supporting endpoints.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(CORS(deps.AllowedOrigin))
		r.Use(RecoverTrace)
		r.Post("/assistant", handleAssistant(deps.Assistant))
		r.Options("/assistant", handlePreflight)
	})

	r.Get("/conversations/{userID}/{sessionID}", handleConversation(deps))
	r.Post("/knowledge", handleAddKnowledge(deps))
	r.Get("/knowledge", handleListKnowledge(deps))

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := conversation.Key{
			UserID:    chi.URLParam(r, "userID"),
			SessionID: chi.URLParam(r, "sessionID"),
		}
		limit := parseIntParam(r, "limit", conversation.DefaultHistoryLimit, 200)

		turns, err := deps.Conversations.History(key, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read conversation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(turnViews(turns))
	}
}

func handleAddKnowledge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxKnowledgeBodySize)
		defer r.Body.Close()

		var req KnowledgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}
		if req.Source == "" {
			req.Source = "api"
		}

		content, err := resolveKnowledge(r.Context(), deps.Fetcher, &req)
		if err != nil {
			var badReq *badRequestError
			if errors.As(err, &badReq) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}

		id, err := ingest.SubmitKnowledge(deps.Knowledge, ingest.Submission{Title: req.Title, Content: content, Source: req.Source})
		if errors.Is(err, ingest.ErrEmptyContent) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is empty")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to submit knowledge: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":     id,
			"status": "queued",
		})
	}
}

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

// resolveKnowledge returns the text to index for a request of type text,
// file (base64 content) or url.
func resolveKnowledge(ctx context.Context, fetcher PageFetcher, req *KnowledgeRequest) (string, error) {
	switch {
	case req.Type == "url" && req.URL != "":
		if fetcher == nil {
			return "", &badRequestError{msg: "url submissions are not supported"}
		}
		text, err := fetcher.Scrape(ctx, req.URL)
		if err != nil {
			return "", fmt.Errorf("failed to fetch url: %w", err)
		}
		if req.Title == "" {
			req.Title = req.URL
		}
		return text, nil
	case req.Type == "file" && req.Content != "":
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return "", &badRequestError{msg: "invalid base64 content"}
		}
		return string(decoded), nil
	default:
		return req.Content, nil
	}
}

func handleListKnowledge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		docs, err := deps.Knowledge.ListKnowledgeDocs(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list knowledge: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(knowledgeDocViews(docs))
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
