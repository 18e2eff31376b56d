package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/alloyist/internal/api"
	"github.com/kalambet/alloyist/internal/config"
	"github.com/kalambet/alloyist/internal/engine"
	"github.com/kalambet/alloyist/internal/pipeline"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestAsk(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /assistant": `{"response":"316 含鉬","web_search_used":true,"expertise_level":"intermediate"}`,
	})

	resp, err := ask(ctx, ts.client(), pipeline.Request{UserID: "u1", SessionID: "s1", Message: "304和316?"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Response != "316 含鉬" || !resp.WebSearchUsed || resp.ExpertiseLevel != "intermediate" {
		t.Errorf("resp = %+v", resp)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Path != "/assistant?deep=true" {
		t.Errorf("path = %q, want /assistant?deep=true", r.Path)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["message"] != "304和316?" || body["user_id"] != "u1" || body["session_id"] != "s1" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["file"]; ok {
		t.Error("file should be omitted when no attachment is given")
	}
}

func TestAsk_ServerFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"storage write failed","trace":"..."}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	_, err := ask(ctx, client, pipeline.Request{Message: "hi"}, false)
	if err == nil || !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "storage write failed") {
		t.Errorf("err = %v", err)
	}
}

func TestAsk_Unreachable(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.client()
	ts.server.Close()

	_, err := ask(ctx, client, pipeline.Request{Message: "hi"}, false)
	if err == nil || !strings.Contains(err.Error(), "server not reachable") {
		t.Errorf("err = %v", err)
	}
}

func TestFileUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "composition.csv")
	content := "grade,cr,ni\n304,18,8\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	upload, err := fileUpload(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upload.Name != "composition.csv" {
		t.Errorf("Name = %q", upload.Name)
	}
	if upload.Type != "text/csv" {
		t.Errorf("Type = %q, want text/csv", upload.Type)
	}
	decoded, _ := base64.StdEncoding.DecodeString(upload.Content)
	if string(decoded) != content {
		t.Errorf("decoded content = %q", decoded)
	}

	if _, err := fileUpload(filepath.Join(dir, "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMimeType(t *testing.T) {
	tests := []struct {
		path string
		data []byte
		want string
	}{
		{"cert.pdf", nil, "application/pdf"},
		{"scan.PNG", nil, "image/png"},
		{"sheet.xlsx", nil, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{"notes", []byte("plain words"), "text/plain"},
		{"blob", []byte("%PDF-1.7\n"), "application/pdf"},
	}
	for _, tt := range tests {
		if got := mimeType(tt.path, tt.data); got != tt.want {
			t.Errorf("mimeType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestReadEvent(t *testing.T) {
	event := `{"body": "{\"message\":\"hi\"}"}`

	got, err := readEvent(strings.NewReader(event), nil)
	if err != nil || string(got) != event {
		t.Errorf("stdin: got %q, %v", got, err)
	}

	got, err = readEvent(strings.NewReader(event), []string{"-"})
	if err != nil || string(got) != event {
		t.Errorf("dash: got %q, %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "event.json")
	if err := os.WriteFile(path, []byte(event), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = readEvent(strings.NewReader(""), []string{path})
	if err != nil || string(got) != event {
		t.Errorf("file: got %q, %v", got, err)
	}
}

func TestClassifyCommand(t *testing.T) {
	var out bytes.Buffer
	classifyCmd.SetOut(&out)
	defer classifyCmd.SetOut(nil)

	if err := classifyCmd.RunE(classifyCmd, []string{"ASTM", "A240", "與", "JIS", "G4304"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "expert" {
		t.Errorf("output = %q, want expert", out.String())
	}
}

func TestKnowledgeRequest(t *testing.T) {
	req, err := knowledgeRequest("2205 PREN 約 35", "", "", "2205", "cli")
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if req.Type != "text" || req.Content != "2205 PREN 約 35" || req.Source != "cli" {
		t.Errorf("text req = %+v", req)
	}

	req, err = knowledgeRequest("", "https://example.com/a240", "", "", "cli")
	if err != nil || req.Type != "url" || req.URL != "https://example.com/a240" {
		t.Errorf("url req = %+v, %v", req, err)
	}

	path := filepath.Join(t.TempDir(), "g4304.txt")
	os.WriteFile(path, []byte("JIS G4304 hot-rolled plate"), 0o644)
	req, err = knowledgeRequest("", "", path, "", "cli")
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if req.Type != "file" || req.Title != "g4304.txt" {
		t.Errorf("file req = %+v", req)
	}
	decoded, _ := base64.StdEncoding.DecodeString(req.Content)
	if string(decoded) != "JIS G4304 hot-rolled plate" {
		t.Errorf("decoded = %q", decoded)
	}

	if _, err := knowledgeRequest("", "", "", "", "cli"); err == nil {
		t.Error("expected error when nothing to index")
	}
}

func TestSubmitKnowledge(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /knowledge": `{"id":"doc-123","status":"queued"}`,
	})

	id, err := submitKnowledge(ctx, ts.client(), api.KnowledgeRequest{Type: "text", Content: "430 ferritic", Source: "cli"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "doc-123" {
		t.Errorf("id = %q, want doc-123", id)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["content"] != "430 ferritic" || body["source"] != "cli" {
		t.Errorf("body = %v", body)
	}
}

func TestListKnowledge(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /knowledge": `[{"id":"d1","title":"304","source":"cli","language":"en","chunk_count":2,"created_at":"2026-01-01T00:00:00Z"}]`,
	})

	docs, err := listKnowledge(ctx, ts.client(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0].ChunkCount != 2 {
		t.Errorf("docs = %+v", docs)
	}
	if ts.requests[0].Path != "/knowledge?limit=5" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestConversationHistory(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /conversations/u 1/s1": `[{"seq":1,"role":"user","content":"q","created_at":"t"},{"seq":2,"role":"assistant","content":"a","created_at":"t"}]`,
	})

	turns, err := conversationHistory(ctx, ts.client(), "u 1", "s1", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 2 || turns[1].Role != "assistant" {
		t.Errorf("turns = %+v", turns)
	}
	if ts.requests[0].Path != "/conversations/u%201/s1?limit=4" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestDecodeJSON_ErrorStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := ts.client().get(ctx, "/nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v", err)
	}
}

func TestServerError(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"knowledge endpoint", `{"error":{"message":"content is empty","type":"invalid_request_error"}}`, "server returned 400: content is empty"},
		{"assistant endpoint", `{"error":"Error: generator down","trace":"goroutine 1"}`, "server returned 400: Error: generator down"},
		{"plain text", "bad request\n", "server returned 400: bad request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serverError(http.StatusBadRequest, []byte(tt.body)).Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnnounce(t *testing.T) {
	var buf bytes.Buffer
	old, oldColor := stderr, noColor
	stderr, noColor = &buf, true
	t.Cleanup(func() { stderr, noColor = old, oldColor })

	printSuccess("Stored %s", "generator.gemini_api_key")
	printStatus("Generator", "%s (%s)", "ollama", "qwen2.5")

	want := "✓ Stored generator.gemini_api_key\n  Generator: ollama (qwen2.5)\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestNewBackend(t *testing.T) {
	eng := engine.NewOllamaEngine("http://127.0.0.1:1")

	cfg := config.Config{Generator: config.GeneratorConfig{Provider: "openrouter", OpenRouterAPIKey: "k"}}
	b, err := newBackend(ctx, cfg, eng)
	if err != nil || b.Name() != "openrouter" {
		t.Errorf("openrouter: %v, %v", b, err)
	}

	cfg = config.Config{Generator: config.GeneratorConfig{Provider: "ollama"}, Ollama: config.OllamaConfig{ChatModel: "qwen2.5"}}
	b, err = newBackend(ctx, cfg, eng)
	if err != nil || b.Name() != "ollama" {
		t.Errorf("ollama: %v, %v", b, err)
	}

	cfg = config.Config{Generator: config.GeneratorConfig{Provider: "gemini"}}
	if _, err := newBackend(ctx, cfg, eng); err == nil {
		t.Error("gemini without key: expected error")
	}

	cfg = config.Config{Generator: config.GeneratorConfig{Provider: "bedrock"}}
	if _, err := newBackend(ctx, cfg, eng); err == nil {
		t.Error("unknown provider: expected error")
	}
}

func TestRequiredModels(t *testing.T) {
	cfg := config.Config{
		Ollama:    config.OllamaConfig{ChatModel: "qwen2.5", EmbedModel: "nomic-embed-text", VisionModel: "llama3.2-vision"},
		Generator: config.GeneratorConfig{Provider: "ollama", Model: "qwen2.5:32b"},
	}
	models := requiredModels(cfg)
	if len(models) != 4 || models[3] != (engine.Requirement{Role: engine.RoleGenerator, Model: "qwen2.5:32b"}) {
		t.Errorf("models = %v", models)
	}
	if models[2].Role != engine.RoleVision || models[2].Model != "llama3.2-vision" {
		t.Errorf("vision requirement = %+v", models[2])
	}

	cfg.Generator.Provider = "openrouter"
	if len(requiredModels(cfg)) != 3 {
		t.Errorf("openrouter models = %v", requiredModels(cfg))
	}
}

func TestWebSearchLabel(t *testing.T) {
	cfg := config.Config{WebSearch: config.WebSearchConfig{Enabled: true, Provider: "auto", ScrapePages: 2}}
	if got := webSearchLabel(cfg); got != "duckduckgo, scraping 2 pages" {
		t.Errorf("label = %q", got)
	}
	cfg.WebSearch.GoogleAPIKey, cfg.WebSearch.GoogleEngineID = "k", "e"
	cfg.WebSearch.Enabled = false
	if got := webSearchLabel(cfg); got != "google, keyword-triggered only" {
		t.Errorf("label = %q", got)
	}
}
