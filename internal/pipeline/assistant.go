package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/alloyist/internal/composer"
	"github.com/kalambet/alloyist/internal/conversation"
	"github.com/kalambet/alloyist/internal/document"
	"github.com/kalambet/alloyist/internal/expertise"
	"github.com/kalambet/alloyist/internal/generator"
	"github.com/kalambet/alloyist/internal/knowledge"
	"github.com/kalambet/alloyist/internal/reasoning"
	"github.com/kalambet/alloyist/internal/retrieval"
	"github.com/kalambet/alloyist/internal/storage"
	"github.com/kalambet/alloyist/internal/websearch"
)

// Defaults applied to requests that omit them.
const (
	AnonymousUser    = "anonymous"
	sessionIDPrefix  = "session_"
	DefaultScrapeMax = 2
)

// Request is one assistant call as received from a client.
type Request struct {
	UserID    string      `json:"user_id,omitempty"`
	Message   string      `json:"message"`
	SessionID string      `json:"session_id,omitempty"`
	File      *FileUpload `json:"file,omitempty"`
}

// FileUpload is an attached document with base64 content.
type FileUpload struct {
	Content string `json:"content"`
	Type    string `json:"type"`
	Name    string `json:"name"`
}

// Response is the assistant's reply to one Request.
type Response struct {
	Response       string `json:"response"`
	WebSearchUsed  bool   `json:"web_search_used"`
	ExpertiseLevel string `json:"expertise_level"`
}

// Options tune a single call.
type Options struct {
	// Deep runs the analyze/draft/refine chain instead of a single call.
	Deep bool
}

// RequestError reports a request that could not be decoded.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return "invalid request: " + e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

// KnowledgeIndex queries the internal semantic index.
type KnowledgeIndex interface {
	Query(ctx context.Context, text, language string) ([]retrieval.ContextChunk, error)
}

// WebSearcher runs web searches. Failures yield no results.
type WebSearcher interface {
	Search(ctx context.Context, query string) []websearch.Result
}

// PageScraper fetches the text of search result pages.
type PageScraper interface {
	ScrapeResults(ctx context.Context, results []websearch.Result, limit int) []websearch.Page
}

// DocumentAnalyzer stores and analyzes an uploaded file.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, userID, sessionID string, f document.File) (*knowledge.DocumentAnalysis, error)
}

// Conversations reads and appends conversation turns.
type Conversations interface {
	History(key conversation.Key, limit int) ([]storage.Turn, error)
	AppendExchange(key conversation.Key, userText, assistantText string) ([]storage.Turn, error)
}

// Generator produces answer and reasoning-stage text.
type Generator interface {
	Invoke(ctx context.Context, prompt string) (string, error)
	Reason(ctx context.Context, prompt string) (string, error)
}

// Deps are the collaborators of an Assistant. Index, Searcher, Scraper and
// Documents may be nil; the matching step is then skipped.
type Deps struct {
	Index         KnowledgeIndex
	Searcher      WebSearcher
	Scraper       PageScraper
	Documents     DocumentAnalyzer
	Conversations Conversations
	Generator     Generator
	Composer      *composer.Composer
}

// Config holds the behaviour switches of an Assistant.
type Config struct {
	Mode         expertise.Mode
	Gate         websearch.Gate
	Reasoning    bool
	ScrapePages  int
	HistoryLimit int
}

// Assistant orchestrates one request: classify, retrieve, optionally search
// the web, compose, generate and persist.
type Assistant struct {
	deps     Deps
	cfg      Config
	reasoner *reasoning.Pipeline
	now      func() time.Time
}

// NewAssistant creates an Assistant. A nil Composer uses the default budgets.
func NewAssistant(deps Deps, cfg Config) *Assistant {
	if deps.Composer == nil {
		deps.Composer = composer.New(0, 0)
	}
	if cfg.Mode == "" {
		cfg.Mode = expertise.ModeSimple
	}
	if cfg.ScrapePages < 0 {
		cfg.ScrapePages = 0
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = conversation.DefaultHistoryLimit
	}
	return &Assistant{
		deps:     deps,
		cfg:      cfg,
		reasoner: reasoning.New(deps.Generator),
		now:      time.Now,
	}
}

// Handle answers req. Collaborator failures degrade the answer; a
// RequestError, a failed upload save or a failed conversation write is
// returned as an error.
func (a *Assistant) Handle(ctx context.Context, req Request, opts Options) (Response, error) {
	start := a.now()

	key := conversation.Key{UserID: req.UserID, SessionID: req.SessionID}
	if key.UserID == "" {
		key.UserID = AnonymousUser
	}
	if key.SessionID == "" {
		key.SessionID = fmt.Sprintf("%s%d", sessionIDPrefix, start.Unix())
	}

	analysis, err := a.analyzeFile(ctx, key, req.File)
	if err != nil {
		return Response{}, err
	}

	history, err := a.deps.Conversations.History(key, a.cfg.HistoryLimit)
	if err != nil {
		slog.Warn("loading conversation history failed", "user", key.UserID, "session", key.SessionID, "error", err)
		history = nil
	}

	level := expertise.LevelFor(a.cfg.Mode, req.Message, conversation.UserMessages(history))

	excerpts := a.searchIndex(ctx, req.Message)
	decision := a.cfg.Gate.Decide(req.Message, knowledge.Bodies(excerpts))
	if decision.Required {
		excerpts = append(excerpts, a.searchWeb(ctx, req.Message)...)
	}

	var reply string
	if opts.Deep || a.cfg.Reasoning {
		reply = a.reason(ctx, req.Message, level, excerpts, analysis)
	} else {
		prompt := a.deps.Composer.Compose(composer.Input{
			Level:    level,
			Message:  req.Message,
			History:  history,
			Excerpts: excerpts,
			Document: analysis,
		})
		text, err := a.deps.Generator.Invoke(ctx, prompt)
		reply = generator.Reply(text, err)
	}

	if _, err := a.deps.Conversations.AppendExchange(key, req.Message, reply); err != nil {
		return Response{}, fmt.Errorf("persisting conversation: %w", err)
	}

	slog.Info("assistant request handled",
		"user", key.UserID,
		"session", key.SessionID,
		"level", level,
		"web_search", decision.Required,
		"gate_reason", decision.Reason,
		"excerpts", len(excerpts),
		"duration_ms", a.now().Sub(start).Milliseconds(),
	)

	return Response{
		Response:       reply,
		WebSearchUsed:  decision.Required,
		ExpertiseLevel: string(level),
	}, nil
}

func (a *Assistant) analyzeFile(ctx context.Context, key conversation.Key, f *FileUpload) (*knowledge.DocumentAnalysis, error) {
	if f == nil {
		return nil, nil
	}
	content, err := base64.StdEncoding.DecodeString(f.Content)
	if err != nil {
		return nil, &RequestError{Err: fmt.Errorf("decoding file content: %w", err)}
	}
	if a.deps.Documents == nil {
		slog.Warn("document analysis unavailable, ignoring file", "name", f.Name)
		return nil, nil
	}
	analysis, err := a.deps.Documents.Analyze(ctx, key.UserID, key.SessionID, document.File{
		Name:     f.Name,
		MIMEType: f.Type,
		Content:  content,
	})
	if err != nil {
		return nil, fmt.Errorf("analyzing file %q: %w", f.Name, err)
	}
	return analysis, nil
}

func (a *Assistant) searchIndex(ctx context.Context, message string) []knowledge.Excerpt {
	if a.deps.Index == nil {
		return nil
	}
	chunks, err := a.deps.Index.Query(ctx, message, retrieval.DetectLanguage(message))
	if err != nil {
		slog.Warn("knowledge index query failed", "error", err)
		return nil
	}
	return knowledge.FromIndex(chunks)
}

func (a *Assistant) searchWeb(ctx context.Context, message string) []knowledge.Excerpt {
	if a.deps.Searcher == nil {
		return nil
	}
	results := a.deps.Searcher.Search(ctx, websearch.ExtractQuery(message))
	excerpts := knowledge.FromWeb(results)
	if a.deps.Scraper != nil && a.cfg.ScrapePages > 0 && len(results) > 0 {
		excerpts = append(excerpts, knowledge.FromPages(a.deps.Scraper.ScrapeResults(ctx, results, a.cfg.ScrapePages))...)
	}
	return excerpts
}

// reason runs the three-stage chain. Document text joins the knowledge the
// analysis stage reasons over.
func (a *Assistant) reason(ctx context.Context, message string, level expertise.Level, excerpts []knowledge.Excerpt, analysis *knowledge.DocumentAnalysis) string {
	in := reasoning.Input{
		Message:  message,
		Level:    level,
		Excerpts: append(append([]knowledge.Excerpt(nil), excerpts...), knowledge.FromDocument(analysis)...),
	}
	res, err := a.reasoner.Run(ctx, in)
	var stageErr *reasoning.StageError
	if errors.As(err, &stageErr) {
		slog.Warn("reasoning aborted", "stage", stageErr.Stage)
	}
	return generator.Reply(res.Answer, err)
}
