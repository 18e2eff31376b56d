package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
)

// setting binds a dotted config key to a Config field. field returns a
// *string, *int or *bool.
type setting struct {
	key     string
	env     string // overrides the derived ALLOYIST_ name
	secret  bool
	choices []string
	field   func(*Config) any
}

var settings = []setting{
	{key: "server.port", field: func(c *Config) any { return &c.Server.Port }},
	{key: "server.allowed_origin", env: "ALLOYIST_ALLOWED_ORIGIN", field: func(c *Config) any { return &c.Server.AllowedOrigin }},
	{key: "ollama.base_url", field: func(c *Config) any { return &c.Ollama.BaseURL }},
	{key: "ollama.chat_model", field: func(c *Config) any { return &c.Ollama.ChatModel }},
	{key: "ollama.embed_model", field: func(c *Config) any { return &c.Ollama.EmbedModel }},
	{key: "ollama.vision_model", field: func(c *Config) any { return &c.Ollama.VisionModel }},
	{key: "storage.data_dir", field: func(c *Config) any { return &c.Storage.DataDir }},
	{
		key:     "generator.provider",
		choices: []string{"openrouter", "ollama", "gemini"},
		field:   func(c *Config) any { return &c.Generator.Provider },
	},
	{key: "generator.model", field: func(c *Config) any { return &c.Generator.Model }},
	{
		key: "generator.openrouter_api_key", env: "ALLOYIST_OPENROUTER_API_KEY", secret: true,
		field: func(c *Config) any { return &c.Generator.OpenRouterAPIKey },
	},
	{
		key: "generator.gemini_api_key", env: "ALLOYIST_GEMINI_API_KEY", secret: true,
		field: func(c *Config) any { return &c.Generator.GeminiAPIKey },
	},
	{key: "websearch.enabled", field: func(c *Config) any { return &c.WebSearch.Enabled }},
	{
		key:     "websearch.provider",
		choices: []string{"auto", "google", "duckduckgo"},
		field:   func(c *Config) any { return &c.WebSearch.Provider },
	},
	{
		key: "websearch.google_api_key", env: "ALLOYIST_GOOGLE_API_KEY", secret: true,
		field: func(c *Config) any { return &c.WebSearch.GoogleAPIKey },
	},
	{key: "websearch.google_engine_id", env: "ALLOYIST_GOOGLE_ENGINE_ID", field: func(c *Config) any { return &c.WebSearch.GoogleEngineID }},
	{key: "websearch.scrape_pages", field: func(c *Config) any { return &c.WebSearch.ScrapePages }},
	{key: "reasoning.enabled", field: func(c *Config) any { return &c.Reasoning.Enabled }},
	{
		key:     "expertise.mode",
		choices: []string{"simple", "full"},
		field:   func(c *Config) any { return &c.Expertise.Mode },
	},
	{key: "retrieval.top_k", field: func(c *Config) any { return &c.Retrieval.TopK }},
	{
		key:     "log.level",
		choices: []string{"debug", "info", "warn", "error"},
		field:   func(c *Config) any { return &c.Log.Level },
	},
}

func lookup(key string) (setting, bool) {
	i := slices.IndexFunc(settings, func(s setting) bool { return s.key == key })
	if i < 0 {
		return setting{}, false
	}
	return settings[i], true
}

func (s setting) envVar() string {
	if s.env != "" {
		return s.env
	}
	return "ALLOYIST_" + strings.ToUpper(strings.ReplaceAll(s.key, ".", "_"))
}

// account is the secret store name for a secret key: the last segment of
// its dotted name.
func (s setting) account() string {
	return s.key[strings.LastIndex(s.key, ".")+1:]
}

// assign parses raw into the field s names. Choices are not checked here;
// validate reports them once everything is loaded.
func (s setting) assign(cfg *Config, raw string) error {
	switch p := s.field(cfg).(type) {
	case *string:
		*p = raw
	case *int:
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%q is not an integer", raw)
		}
		*p = i
	case *bool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%q is not a boolean", raw)
		}
		*p = b
	default:
		panic("config: unsupported field type for " + s.key)
	}
	return nil
}

func (s setting) value(cfg Config) string {
	switch p := s.field(&cfg).(type) {
	case *string:
		return *p
	case *int:
		return strconv.Itoa(*p)
	case *bool:
		return strconv.FormatBool(*p)
	}
	return ""
}

func (s setting) checkChoice(cfg Config) error {
	if len(s.choices) == 0 {
		return nil
	}
	v := s.value(cfg)
	if slices.Contains(s.choices, v) {
		return nil
	}
	return fmt.Errorf("invalid %s %q (want %s)", s.key, v, listChoices(s.choices))
}

func listChoices(choices []string) string {
	if len(choices) == 1 {
		return choices[0]
	}
	return strings.Join(choices[:len(choices)-1], ", ") + " or " + choices[len(choices)-1]
}

// applySettings layers store values and then environment variables over
// cfg. Values that fail to parse are reported on stderr and skipped.
func applySettings(cfg *Config, store Store) error {
	for _, s := range settings {
		if s.secret {
			continue
		}
		raw, ok, err := store.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok && raw != "" {
			if err := s.assign(cfg, raw); err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] ignoring config key %s: %v. Using default value.\n", s.key, err)
			}
		}
		if env := os.Getenv(s.envVar()); env != "" {
			if err := s.assign(cfg, env); err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] ignoring env var %s: %v.\n", s.envVar(), err)
			}
		}
	}
	return nil
}

// applySecrets fills API keys from the environment, falling back to the
// secret store. Store failures leave the key empty for validate to report.
func applySecrets(cfg *Config, secrets Store) {
	for _, s := range settings {
		if !s.secret {
			continue
		}
		if env := os.Getenv(s.envVar()); env != "" {
			_ = s.assign(cfg, env)
			continue
		}
		v, ok, err := secrets.Get(s.account())
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not read %s from the secret store: %v\n", s.account(), err)
			continue
		}
		if ok {
			_ = s.assign(cfg, v)
		}
	}
}
