package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/alloyist/internal/api"
	"github.com/kalambet/alloyist/internal/config"
	"github.com/kalambet/alloyist/internal/document"
	"github.com/kalambet/alloyist/internal/engine"
	"github.com/kalambet/alloyist/internal/expertise"
	"github.com/kalambet/alloyist/internal/pipeline"
	"github.com/kalambet/alloyist/internal/retrieval"
	"github.com/kalambet/alloyist/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the running server a question",
	Long: `Ask the running server a question. The exchange is saved to the
conversation named by --user and --session.

Examples:
  alloyist ask "304和316不鏽鋼有什麼區別?"
  alloyist ask --deep --session s1 "ASTM A240 與 JIS G4304 的 316L 成分差異"
  alloyist ask --file ./mill-cert.pdf "這份材質證明是否符合 ASTM A240?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		session, _ := cmd.Flags().GetString("session")
		file, _ := cmd.Flags().GetString("file")
		deep, _ := cmd.Flags().GetBool("deep")

		req := pipeline.Request{
			UserID:    user,
			SessionID: session,
			Message:   strings.Join(args, " "),
		}
		if file != "" {
			upload, err := fileUpload(file)
			if err != nil {
				return err
			}
			req.File = upload
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := ask(cmd.Context(), client, req, deep)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), resp.Response)
		printStatus("Expertise", "%s", resp.ExpertiseLevel)
		printStatus("Web search", "%t", resp.WebSearchUsed)
		return nil
	},
}

func init() {
	askCmd.Flags().String("user", "", "user identifier (default anonymous)")
	askCmd.Flags().String("session", "", "conversation identifier (default a new session)")
	askCmd.Flags().String("file", "", "document to attach (pdf, png, jpeg, csv, xlsx, txt)")
	askCmd.Flags().Bool("deep", false, "run the analyze/draft/refine reasoning chain")
}

func ask(ctx context.Context, client *apiClient, req pipeline.Request, deep bool) (pipeline.Response, error) {
	path := "/assistant"
	if deep {
		path += "?deep=true"
	}
	resp, err := client.post(ctx, path, req)
	if err != nil {
		return pipeline.Response{}, err
	}

	var out pipeline.Response
	if err := decodeJSON(resp, &out); err != nil {
		return pipeline.Response{}, err
	}
	return out, nil
}

// fileUpload reads a file and encodes it as an attachment. The type comes
// from the extension, falling back to content sniffing.
func fileUpload(path string) (*pipeline.FileUpload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return &pipeline.FileUpload{
		Content: base64.StdEncoding.EncodeToString(data),
		Type:    mimeType(path, data),
		Name:    filepath.Base(path),
	}, nil
}

// documentTypes covers the extensions the document extractor handles that
// the platform MIME table may not know.
var documentTypes = map[string]string{
	".csv":  document.MIMECSV,
	".txt":  document.MIMEPlainText,
	".xls":  document.MIMEXLS,
	".xlsx": document.MIMEXLSX,
	".jpg":  document.MIMEJPEG,
}

func mimeType(path string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := documentTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType
		}
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mediaType
}

// --- invoke ---

var invokeCmd = &cobra.Command{
	Use:   "invoke [event.json]",
	Short: "Answer one raw event in-process and print the response envelope",
	Long: `Answer one raw event in-process and print the response envelope.

The event is read from the named file or from stdin. It may be an API-Gateway
style event ({"body": "<json>"}), an event whose body is an object, or the
request object itself.

Examples:
  alloyist invoke event.json
  echo '{"message": "什麼是雙相不鏽鋼?"}' | alloyist invoke`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		event, err := readEvent(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		resp := api.HandleEvent(cmd.Context(), a.assistant, cfg.Server.AllowedOrigin, event)
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

func readEvent(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading event from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("reading event: %w", err)
	}
	return data, nil
}

// --- classify ---

var classifyCmd = &cobra.Command{
	Use:   "classify <message>",
	Short: "Estimate the expertise level behind a message",
	Long: `Estimate the expertise level behind a message. No server or model is
needed. --full prints the scoring breakdown of the full classifier.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		full, _ := cmd.Flags().GetBool("full")

		if full {
			return printJSON(cmd.OutOrStdout(), expertise.Classify(message, nil))
		}
		fmt.Fprintln(cmd.OutOrStdout(), expertise.ClassifySimple(message))
		return nil
	},
}

func init() {
	classifyCmd.Flags().Bool("full", false, "use the full classifier and print its assessment")
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Add text to the internal knowledge index",
	Long: `Add text to the internal knowledge index. Documents are indexed in the
background by the running server.

Examples:
  alloyist index --text "2205 雙相不鏽鋼 PREN 約 35" --title "2205"
  alloyist index --url https://example.com/astm-a240 --title "ASTM A240"
  alloyist index --file ./jis-g4304-notes.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		link, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		source, _ := cmd.Flags().GetString("source")

		req, err := knowledgeRequest(text, link, file, title, source)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		id, err := submitKnowledge(cmd.Context(), client, req)
		if err != nil {
			return err
		}
		printSuccess("Queued knowledge doc %s", id)
		return nil
	},
}

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge documents, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		docs, err := listKnowledge(cmd.Context(), client, limit)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No knowledge documents.")
			return nil
		}
		for _, d := range docs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-2s  %3d chunks  %s\n",
				colorize(colorCyan, shortID(d.ID)), d.CreatedAt, d.Language, d.ChunkCount, d.Title)
		}
		return nil
	},
}

var indexRemoveCmd = &cobra.Command{
	Use:   "remove <source-id>",
	Short: "Remove a source from the knowledge index",
	Long: `Remove every indexed chunk of a source. The source id is a knowledge
document id or the storage key of an uploaded file. Knowledge documents are
also dropped from the library.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		index := retrieval.NewIndex(nil, retrieval.NewSQLiteStore(store.DB()), cfg.Retrieval.TopK)
		n, err := index.Remove(args[0])
		if err != nil {
			return fmt.Errorf("removing chunks: %w", err)
		}
		switch err := store.DeleteKnowledgeDoc(args[0]); {
		case err == nil:
			printSuccess("Removed knowledge document %s and %d chunks", args[0], n)
		case errors.Is(err, storage.ErrNotFound):
			printSuccess("Removed %d chunks of %s", n, args[0])
		default:
			return fmt.Errorf("removing knowledge document: %w", err)
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().String("text", "", "text content to index")
	indexCmd.Flags().String("url", "", "URL to fetch and index")
	indexCmd.Flags().String("file", "", "text file to index")
	indexCmd.Flags().String("title", "", "title for the document")
	indexCmd.Flags().String("source", "cli", "where the text came from")
	indexListCmd.Flags().Int("limit", 20, "maximum number of documents to list")
	indexCmd.AddCommand(indexListCmd)
	indexCmd.AddCommand(indexRemoveCmd)
}

func knowledgeRequest(text, link, file, title, source string) (api.KnowledgeRequest, error) {
	req := api.KnowledgeRequest{Title: title, Source: source}
	switch {
	case text != "":
		req.Type = "text"
		req.Content = text
	case link != "":
		req.Type = "url"
		req.URL = link
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return api.KnowledgeRequest{}, fmt.Errorf("reading file: %w", err)
		}
		req.Type = "file"
		req.Content = base64.StdEncoding.EncodeToString(data)
		if req.Title == "" {
			req.Title = filepath.Base(file)
		}
	default:
		return api.KnowledgeRequest{}, fmt.Errorf("one of --text, --url, or --file is required")
	}
	return req, nil
}

func submitKnowledge(ctx context.Context, client *apiClient, req api.KnowledgeRequest) (string, error) {
	resp, err := client.post(ctx, "/knowledge", req)
	if err != nil {
		return "", err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	return result["id"], nil
}

func listKnowledge(ctx context.Context, client *apiClient, limit int) ([]api.KnowledgeDocView, error) {
	resp, err := client.get(ctx, fmt.Sprintf("/knowledge?limit=%d", limit))
	if err != nil {
		return nil, err
	}
	var docs []api.KnowledgeDocView
	if err := decodeJSON(resp, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <user-id> <session-id>",
	Short: "Show the most recent turns of a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		turns, err := conversationHistory(cmd.Context(), client, args[0], args[1], limit)
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No turns found.")
			return nil
		}
		for _, t := range turns {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n%s\n\n",
				colorize(colorBold, fmt.Sprintf("[%d] %s", t.Seq, t.Role)), t.CreatedAt, t.Content)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 10, "maximum number of turns")
}

func conversationHistory(ctx context.Context, client *apiClient, userID, sessionID string, limit int) ([]api.TurnView, error) {
	path := fmt.Sprintf("/conversations/%s/%s?limit=%d", url.PathEscape(userID), url.PathEscape(sessionID), limit)
	resp, err := client.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var turns []api.TurnView
	if err := decodeJSON(resp, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "pull-models",
	Short: "Pull the local models the configured assistant needs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		models := requiredModels(cfg)
		printStep("Checking %d model roles at %s", len(models), cfg.Ollama.BaseURL)
		if err := engine.EnsureReady(cmd.Context(), engine.NewOllamaEngine(cfg.Ollama.BaseURL), models, os.Stderr); err != nil {
			return err
		}
		printSuccess("All models ready")
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. API keys are written to the platform secret store.\n\nKeys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if strings.HasSuffix(key, "_api_key") {
			printSuccess("Stored %s", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
