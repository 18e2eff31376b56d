package config

import "fmt"

// secretService is the secret store service name for API keys.
const secretService = "alloyist"

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Generator GeneratorConfig
	WebSearch WebSearchConfig
	Reasoning ReasoningConfig
	Expertise ExpertiseConfig
	Retrieval RetrievalConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port          int
	AllowedOrigin string
}

type OllamaConfig struct {
	BaseURL     string
	ChatModel   string
	EmbedModel  string
	VisionModel string
}

type StorageConfig struct {
	DataDir string
}

// GeneratorConfig selects the backend answering prompts: openrouter, ollama
// or gemini. An empty Model selects the backend's default; for ollama that
// is Ollama.ChatModel.
type GeneratorConfig struct {
	Provider         string
	Model            string
	OpenRouterAPIKey string
	GeminiAPIKey     string
}

type WebSearchConfig struct {
	Enabled        bool
	Provider       string
	GoogleAPIKey   string
	GoogleEngineID string
	ScrapePages    int
}

type ReasoningConfig struct {
	Enabled bool
}

type ExpertiseConfig struct {
	Mode string
}

type RetrievalConfig struct {
	TopK int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:          4000,
			AllowedOrigin: "*",
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			ChatModel:   "qwen2.5",
			EmbedModel:  "nomic-embed-text",
			VisionModel: "llama3.2-vision",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Generator: GeneratorConfig{
			Provider: "openrouter",
		},
		WebSearch: WebSearchConfig{
			Enabled:     true,
			Provider:    "auto",
			ScrapePages: 2,
		},
		Expertise: ExpertiseConfig{
			Mode: "simple",
		},
		Retrieval: RetrievalConfig{
			TopK: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform config store, environment
// variables and the platform secret store.
//
// On macOS settings live in UserDefaults (domain: com.alloyist.app) and API
// keys in the login Keychain. Elsewhere settings live in
// $XDG_CONFIG_HOME/alloyist/config.json and API keys in
// $XDG_DATA_HOME/alloyist/secrets.json.
//
// Environment variables (ALLOYIST_*) override stored values on all platforms.
func Load() (Config, error) {
	return loadWith(platformStores())
}

func loadWith(store, secrets Store) (Config, error) {
	cfg := defaults()
	if err := applySettings(&cfg, store); err != nil {
		return Config{}, err
	}
	applySecrets(&cfg, secrets)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	for _, s := range settings {
		if err := s.checkChoice(cfg); err != nil {
			return err
		}
	}

	switch cfg.Generator.Provider {
	case "openrouter":
		if cfg.Generator.OpenRouterAPIKey == "" {
			return missingSecret("OpenRouter API key", "generator.openrouter_api_key")
		}
	case "gemini":
		if cfg.Generator.GeminiAPIKey == "" {
			return missingSecret("Gemini API key", "generator.gemini_api_key")
		}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.WebSearch.ScrapePages < 0 {
		return fmt.Errorf("invalid websearch.scrape_pages %d: must not be negative", cfg.WebSearch.ScrapePages)
	}
	return nil
}

func missingSecret(what, key string) error {
	s, _ := lookup(key)
	return fmt.Errorf("missing required config: %s. Set it via environment variable %s, `alloyist config set %s <key>`%s",
		what, s.envVar(), key, secretHint(s.account()))
}
