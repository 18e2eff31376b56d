package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/alloyist/internal/api"
	"github.com/kalambet/alloyist/internal/config"
	"github.com/kalambet/alloyist/internal/conversation"
	"github.com/kalambet/alloyist/internal/document"
	"github.com/kalambet/alloyist/internal/engine"
	"github.com/kalambet/alloyist/internal/expertise"
	"github.com/kalambet/alloyist/internal/generator"
	"github.com/kalambet/alloyist/internal/ingest"
	"github.com/kalambet/alloyist/internal/pipeline"
	"github.com/kalambet/alloyist/internal/proxy"
	"github.com/kalambet/alloyist/internal/retrieval"
	"github.com/kalambet/alloyist/internal/storage"
	"github.com/kalambet/alloyist/internal/websearch"
)

const defaultOpenRouterModel = "anthropic/claude-3.5-sonnet"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the alloyist server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcp, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running alloyist server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show alloyist system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", true, "also serve MCP tools on stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "alloyist.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// app is the fully wired assistant and the resources it owns.
type app struct {
	store     *storage.Store
	jobs      jobStore
	worker    *ingest.Worker
	engine    engine.Engine
	index     *retrieval.Index
	history   *conversation.Log
	scraper   *websearch.Scraper
	assistant *pipeline.Assistant
}

// buildApp opens storage and wires every collaborator of the assistant.
// The caller owns the returned app and must Close it.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	mode, err := expertise.ParseMode(cfg.Expertise.Mode)
	if err != nil {
		return nil, err
	}

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)

	backend, err := newBackend(ctx, cfg, eng)
	if err != nil {
		return nil, err
	}

	provider, err := websearch.NewProvider(cfg.WebSearch.Provider, cfg.WebSearch.GoogleAPIKey, cfg.WebSearch.GoogleEngineID)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	index := retrieval.NewIndex(embedder, retrieval.NewSQLiteStore(store.DB()), cfg.Retrieval.TopK)
	history := conversation.NewLog(store)
	scraper := websearch.NewScraper()
	worker := ingest.NewWorker(store, index, 500*time.Millisecond)
	jobs := jobStore{Store: store, worker: worker}

	extractor := document.NewExtractor(document.NewVisionDetector(eng, cfg.Ollama.VisionModel))
	if cfg.Generator.GeminiAPIKey != "" {
		reader, err := document.NewGeminiPDFReader(ctx, cfg.Generator.GeminiAPIKey, "")
		if err != nil {
			slog.Warn("scanned pdf reading disabled", "error", err)
		} else {
			extractor.WithPDFReader(reader)
		}
	}
	analyzer := document.NewAnalyzer(jobs, extractor, document.NewLLMEntityAnalyzer(eng, cfg.Ollama.ChatModel))

	assistant := pipeline.NewAssistant(pipeline.Deps{
		Index:         index,
		Searcher:      websearch.NewSearcher(provider, websearch.StandardsSites),
		Scraper:       scraper,
		Documents:     analyzer,
		Conversations: history,
		Generator:     generator.NewInvoker(backend),
	}, pipeline.Config{
		Mode:        mode,
		Gate:        websearch.Gate{Enabled: cfg.WebSearch.Enabled},
		Reasoning:   cfg.Reasoning.Enabled,
		ScrapePages: cfg.WebSearch.ScrapePages,
	})

	return &app{
		store:     store,
		jobs:      jobs,
		worker:    worker,
		engine:    eng,
		index:     index,
		history:   history,
		scraper:   scraper,
		assistant: assistant,
	}, nil
}

// jobStore wakes the ingest worker whenever a job is queued.
type jobStore struct {
	*storage.Store
	worker *ingest.Worker
}

func (s jobStore) EnqueueJob(job storage.Job) error {
	if err := s.Store.EnqueueJob(job); err != nil {
		return err
	}
	s.worker.Notify()
	return nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// requiredModels lists the local models the wired app calls.
func requiredModels(cfg config.Config) []engine.Requirement {
	models := []engine.Requirement{
		{Role: engine.RoleEmbedding, Model: cfg.Ollama.EmbedModel},
		{Role: engine.RoleChat, Model: cfg.Ollama.ChatModel},
		{Role: engine.RoleVision, Model: cfg.Ollama.VisionModel},
	}
	if cfg.Generator.Provider == "ollama" {
		models = append(models, engine.Requirement{Role: engine.RoleGenerator, Model: cfg.Generator.Model})
	}
	return models
}

// newBackend selects the generator backend named by generator.provider.
func newBackend(ctx context.Context, cfg config.Config, eng engine.Engine) (generator.Backend, error) {
	model := cfg.Generator.Model
	switch cfg.Generator.Provider {
	case "openrouter":
		if model == "" {
			model = defaultOpenRouterModel
		}
		return generator.NewOpenRouter(proxy.NewClient(cfg.Generator.OpenRouterAPIKey), model), nil
	case "ollama":
		if model == "" {
			model = cfg.Ollama.ChatModel
		}
		return generator.NewOllama(eng, model), nil
	case "gemini":
		return generator.NewGemini(ctx, cfg.Generator.GeminiAPIKey, model)
	}
	return nil, fmt.Errorf("unknown generator provider %q", cfg.Generator.Provider)
}

func runServer(withMCP bool) error {
	fmt.Fprintln(os.Stderr, versionLine())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("alloyist is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("alloyist is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if err := engine.EnsureReady(ctx, a.engine, requiredModels(cfg), os.Stderr); err != nil {
		return err
	}

	handler := api.NewAppHandler(api.AppDeps{
		Assistant:     a.assistant,
		Knowledge:     a.jobs,
		Conversations: a.history,
		Fetcher:       a.scraper,
		AllowedOrigin: cfg.Server.AllowedOrigin,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go a.worker.Run(ctx)

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Assistant:     a.assistant,
			Index:         a.index,
			Knowledge:     a.jobs,
			Conversations: a.history,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("alloyist listening", "addr", addr, "generator", cfg.Generator.Provider, "expertise_mode", cfg.Expertise.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("alloyist is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop alloyist (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to alloyist (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Check server health.
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if eng.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		for _, m := range engine.CheckModels(ctx, eng, requiredModels(cfg)) {
			state := "installed"
			if !m.Installed {
				state = "missing, run: alloyist pull-models"
			}
			printStatus(m.Role+" model", "%s (%s)", m.Model, state)
		}
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Generator", "%s", generatorLabel(ctx, cfg))
	printStatus("Web search", "%s", webSearchLabel(cfg))
	printStatus("Expertise mode", "%s", cfg.Expertise.Mode)
	printStatus("Reasoning", "%t", cfg.Reasoning.Enabled)

	if store, err := storage.Open(cfg.Storage.DataDir); err == nil {
		index := retrieval.NewIndex(nil, retrieval.NewSQLiteStore(store.DB()), cfg.Retrieval.TopK)
		if n, err := index.Count(); err == nil {
			printStatus("Indexed chunks", "%d", n)
		}
		if docs, err := store.ListKnowledgeDocs(100); err == nil {
			printStatus("Knowledge docs", "%s", countLabel(len(docs), 100))
		}
		store.Close()
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func generatorLabel(ctx context.Context, cfg config.Config) string {
	model := cfg.Generator.Model
	switch cfg.Generator.Provider {
	case "openrouter":
		if model == "" {
			model = defaultOpenRouterModel
		}
		m, err := proxy.NewClient(cfg.Generator.OpenRouterAPIKey).LookupModel(ctx, model)
		switch {
		case errors.Is(err, proxy.ErrUnknownModel):
			return fmt.Sprintf("openrouter (%s), model not offered", model)
		case err != nil:
			return fmt.Sprintf("openrouter (%s), unreachable: %v", model, err)
		case m.ContextLength > 0:
			return fmt.Sprintf("openrouter (%s, %dk context)", model, m.ContextLength/1000)
		}
	case "ollama":
		if model == "" {
			model = cfg.Ollama.ChatModel
		}
	}
	if model == "" {
		return cfg.Generator.Provider
	}
	return fmt.Sprintf("%s (%s)", cfg.Generator.Provider, model)
}

func webSearchLabel(cfg config.Config) string {
	provider := cfg.WebSearch.Provider
	if provider == "auto" {
		if cfg.WebSearch.GoogleAPIKey != "" && cfg.WebSearch.GoogleEngineID != "" {
			provider = "google"
		} else {
			provider = "duckduckgo"
		}
	}
	if !cfg.WebSearch.Enabled {
		return provider + ", keyword-triggered only"
	}
	return fmt.Sprintf("%s, scraping %d pages", provider, cfg.WebSearch.ScrapePages)
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
