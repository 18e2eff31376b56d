package config

import (
	"errors"
	"strings"
	"testing"
)

// memStore is an in-memory Store.
type memStore struct {
	data map[string]string
	err  error
}

func newMemStore(data map[string]string) *memStore {
	if data == nil {
		data = make(map[string]string)
	}
	return &memStore{data: data}
}

func (m *memStore) Get(key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(key, val string) error { m.data[key] = val; return nil }
func (m *memStore) Delete(key string) error   { delete(m.data, key); return nil }

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range settings {
		t.Setenv(s.envVar(), "")
	}
}

// TestDefaults verifies all default values are applied when the store is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOYIST_OPENROUTER_API_KEY", "test-key")

	cfg, err := loadWith(newMemStore(nil), newMemStore(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Server.AllowedOrigin != "*" {
		t.Errorf("Server.AllowedOrigin = %q, want *", cfg.Server.AllowedOrigin)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q, want %q", cfg.Ollama.BaseURL, "http://localhost:11434")
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("Ollama.EmbedModel = %q, want %q", cfg.Ollama.EmbedModel, "nomic-embed-text")
	}
	if cfg.Generator.Provider != "openrouter" {
		t.Errorf("Generator.Provider = %q, want openrouter", cfg.Generator.Provider)
	}
	if !cfg.WebSearch.Enabled || cfg.WebSearch.Provider != "auto" || cfg.WebSearch.ScrapePages != 2 {
		t.Errorf("WebSearch = %+v", cfg.WebSearch)
	}
	if cfg.Reasoning.Enabled {
		t.Error("Reasoning.Enabled should default to false")
	}
	if cfg.Expertise.Mode != "simple" {
		t.Errorf("Expertise.Mode = %q, want simple", cfg.Expertise.Mode)
	}
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("Retrieval.TopK = %d, want 10", cfg.Retrieval.TopK)
	}
}

func TestStoredValues(t *testing.T) {
	clearEnv(t)

	store := newMemStore(map[string]string{
		"server.port":              "5000",
		"server.allowed_origin":    "https://wm.example.com",
		"ollama.chat_model":        "custom-chat",
		"storage.data_dir":         "/tmp/alloyist-test",
		"generator.provider":       "ollama",
		"websearch.enabled":        "false",
		"websearch.scrape_pages":   "4",
		"reasoning.enabled":        "true",
		"expertise.mode":           "full",
		"retrieval.top_k":          "3",
		"generator.gemini_api_key": "ignored-from-store",
	})

	cfg, err := loadWith(store, newMemStore(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Server.AllowedOrigin != "https://wm.example.com" {
		t.Errorf("Server.AllowedOrigin = %q", cfg.Server.AllowedOrigin)
	}
	if cfg.Ollama.ChatModel != "custom-chat" {
		t.Errorf("Ollama.ChatModel = %q", cfg.Ollama.ChatModel)
	}
	if cfg.Storage.DataDir != "/tmp/alloyist-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.WebSearch.Enabled {
		t.Error("WebSearch.Enabled should be false")
	}
	if cfg.WebSearch.ScrapePages != 4 {
		t.Errorf("WebSearch.ScrapePages = %d, want 4", cfg.WebSearch.ScrapePages)
	}
	if !cfg.Reasoning.Enabled {
		t.Error("Reasoning.Enabled should be true")
	}
	if cfg.Expertise.Mode != "full" || cfg.Retrieval.TopK != 3 {
		t.Errorf("Expertise.Mode = %q, Retrieval.TopK = %d", cfg.Expertise.Mode, cfg.Retrieval.TopK)
	}
	if cfg.Generator.GeminiAPIKey != "" {
		t.Error("secrets must not be read from the settings store")
	}
}

func TestStoreReadError(t *testing.T) {
	clearEnv(t)
	store := newMemStore(nil)
	store.err = errors.New("disk on fire")

	_, err := loadWith(store, newMemStore(nil))
	if err == nil || !strings.Contains(err.Error(), "disk on fire") {
		t.Errorf("err = %v", err)
	}
}

// TestEnvOverride verifies that environment variables override stored values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOYIST_OPENROUTER_API_KEY", "env-key")
	t.Setenv("ALLOYIST_SERVER_PORT", "6000")
	t.Setenv("ALLOYIST_REASONING_ENABLED", "true")
	t.Setenv("ALLOYIST_ALLOWED_ORIGIN", "https://env.example.com")

	store := newMemStore(map[string]string{"server.port": "5000", "server.allowed_origin": "https://store.example.com"})
	secrets := newMemStore(map[string]string{"openrouter_api_key": "stored-key"})
	cfg, err := loadWith(store, secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Generator.OpenRouterAPIKey != "env-key" {
		t.Errorf("OpenRouterAPIKey = %q, want %q", cfg.Generator.OpenRouterAPIKey, "env-key")
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Server.AllowedOrigin != "https://env.example.com" {
		t.Errorf("Server.AllowedOrigin = %q", cfg.Server.AllowedOrigin)
	}
	if !cfg.Reasoning.Enabled {
		t.Error("Reasoning.Enabled should be true")
	}
}

// TestUnparsableValuesIgnored verifies bad stored or env values leave the
// previous layer in place.
func TestUnparsableValuesIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOYIST_OPENROUTER_API_KEY", "k")
	t.Setenv("ALLOYIST_RETRIEVAL_TOP_K", "many")
	t.Setenv("ALLOYIST_WEBSEARCH_ENABLED", "maybe")

	store := newMemStore(map[string]string{"retrieval.top_k": "7", "websearch.scrape_pages": "two"})
	cfg, err := loadWith(store, newMemStore(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("TopK = %d, want stored 7", cfg.Retrieval.TopK)
	}
	if !cfg.WebSearch.Enabled || cfg.WebSearch.ScrapePages != 2 {
		t.Errorf("WebSearch = %+v", cfg.WebSearch)
	}
}

// TestMissingRequiredField verifies a clear error when the selected provider's key is missing everywhere.
func TestMissingRequiredField(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(newMemStore(nil), newMemStore(nil))
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	for _, want := range []string{"missing required config", "ALLOYIST_OPENROUTER_API_KEY", "config set generator.openrouter_api_key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	t.Setenv("ALLOYIST_GENERATOR_PROVIDER", "gemini")
	_, err = loadWith(newMemStore(nil), newMemStore(nil))
	if err == nil || !strings.Contains(err.Error(), "ALLOYIST_GEMINI_API_KEY") {
		t.Errorf("gemini error = %v", err)
	}
}

// TestOllamaNeedsNoKey verifies the local provider loads without secrets.
func TestOllamaNeedsNoKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOYIST_GENERATOR_PROVIDER", "ollama")

	if _, err := loadWith(newMemStore(nil), newMemStore(nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		env, value, want string
	}{
		{"ALLOYIST_GENERATOR_PROVIDER", "bedrock", "generator.provider"},
		{"ALLOYIST_EXPERTISE_MODE", "guess", "expertise.mode"},
		{"ALLOYIST_WEBSEARCH_PROVIDER", "altavista", "websearch.provider"},
		{"ALLOYIST_LOG_LEVEL", "loud", "log.level"},
		{"ALLOYIST_WEBSEARCH_SCRAPE_PAGES", "-1", "websearch.scrape_pages"},
		{"ALLOYIST_SERVER_PORT", "70000", "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("ALLOYIST_OPENROUTER_API_KEY", "k")
			t.Setenv(tt.env, tt.value)

			_, err := loadWith(newMemStore(nil), newMemStore(nil))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestSecretStoreFallback(t *testing.T) {
	clearEnv(t)

	secrets := newMemStore(map[string]string{
		"openrouter_api_key": "stored-secret",
		"google_api_key":     "google-secret",
	})
	cfg, err := loadWith(newMemStore(nil), secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Generator.OpenRouterAPIKey != "stored-secret" {
		t.Errorf("OpenRouterAPIKey = %q, want %q", cfg.Generator.OpenRouterAPIKey, "stored-secret")
	}
	if cfg.WebSearch.GoogleAPIKey != "google-secret" {
		t.Errorf("GoogleAPIKey = %q, want %q", cfg.WebSearch.GoogleAPIKey, "google-secret")
	}
}

func TestSecretStoreError(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOYIST_GENERATOR_PROVIDER", "ollama")
	secrets := newMemStore(nil)
	secrets.err = errors.New("locked")

	cfg, err := loadWith(newMemStore(nil), secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WebSearch.GoogleAPIKey != "" {
		t.Errorf("GoogleAPIKey = %q", cfg.WebSearch.GoogleAPIKey)
	}
}

func TestSetKey(t *testing.T) {
	store, secrets := newMemStore(nil), newMemStore(nil)

	if err := setKeyWith(store, secrets, "server.port", " 4100"); err != nil {
		t.Fatalf("server.port: %v", err)
	}
	if store.data["server.port"] != "4100" {
		t.Errorf("server.port stored as %q", store.data["server.port"])
	}

	if err := setKeyWith(store, secrets, "reasoning.enabled", "1"); err != nil {
		t.Fatalf("reasoning.enabled: %v", err)
	}
	if store.data["reasoning.enabled"] != "true" {
		t.Errorf("reasoning.enabled stored as %q", store.data["reasoning.enabled"])
	}

	if err := setKeyWith(store, secrets, "generator.openrouter_api_key", "sk-123"); err != nil {
		t.Fatalf("secret: %v", err)
	}
	if secrets.data["openrouter_api_key"] != "sk-123" {
		t.Errorf("secrets = %v", secrets.data)
	}
	if _, ok := store.data["generator.openrouter_api_key"]; ok {
		t.Error("secret written to the settings store")
	}

	for key, value := range map[string]string{
		"server.port":        "abc",
		"websearch.enabled":  "sometimes",
		"generator.provider": "bedrock",
		"no.such.key":        "x",
	} {
		if err := setKeyWith(store, secrets, key, value); err == nil {
			t.Errorf("SetKey(%s, %s): expected error", key, value)
		}
	}
	if _, ok := store.data["generator.provider"]; ok {
		t.Error("rejected value was stored")
	}
}

func TestUnsetKey(t *testing.T) {
	store := newMemStore(map[string]string{"expertise.mode": "full"})
	secrets := newMemStore(map[string]string{"gemini_api_key": "g"})

	if err := unsetKeyWith(store, secrets, "expertise.mode"); err != nil {
		t.Fatal(err)
	}
	if err := unsetKeyWith(store, secrets, "generator.gemini_api_key"); err != nil {
		t.Fatal(err)
	}
	if len(store.data) != 0 || len(secrets.data) != 0 {
		t.Errorf("store = %v, secrets = %v", store.data, secrets.data)
	}
	if err := unsetKeyWith(store, secrets, "no.such.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Generator.OpenRouterAPIKey = "sk-secret"

	infos := ShowAll(cfg)
	for _, ki := range infos {
		if strings.Contains(ki.Key, "api_key") || ki.Value == "sk-secret" {
			t.Errorf("secret exposed: %+v", ki)
		}
		if ki.Key == "server.port" && (ki.Value != "4000" || ki.EnvVar != "ALLOYIST_SERVER_PORT") {
			t.Errorf("server.port = %+v", ki)
		}
	}
	if len(ValidKeys()) != len(settings) {
		t.Errorf("ValidKeys = %d keys, want %d", len(ValidKeys()), len(settings))
	}
}

func TestEnvVarNames(t *testing.T) {
	tests := map[string]string{
		"ollama.base_url":              "ALLOYIST_OLLAMA_BASE_URL",
		"storage.data_dir":             "ALLOYIST_STORAGE_DATA_DIR",
		"server.allowed_origin":        "ALLOYIST_ALLOWED_ORIGIN",
		"websearch.google_engine_id":   "ALLOYIST_GOOGLE_ENGINE_ID",
		"generator.openrouter_api_key": "ALLOYIST_OPENROUTER_API_KEY",
	}
	for key, want := range tests {
		s, ok := lookup(key)
		if !ok {
			t.Fatalf("%s not registered", key)
		}
		if got := s.envVar(); got != want {
			t.Errorf("%s env = %s, want %s", key, got, want)
		}
	}
}

func TestListChoices(t *testing.T) {
	if got := listChoices([]string{"simple", "full"}); got != "simple or full" {
		t.Errorf("got %q", got)
	}
	if got := listChoices([]string{"a", "b", "c"}); got != "a, b or c" {
		t.Errorf("got %q", got)
	}
}
