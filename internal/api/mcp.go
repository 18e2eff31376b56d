package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/alloyist/internal/conversation"
	"github.com/kalambet/alloyist/internal/expertise"
	"github.com/kalambet/alloyist/internal/ingest"
	"github.com/kalambet/alloyist/internal/pipeline"
	"github.com/kalambet/alloyist/internal/retrieval"
	"github.com/kalambet/alloyist/internal/websearch"
)

const (
	maxHistoryTurns    = 200
	knowledgeListLimit = 50

	knowledgeURI = "alloyist://knowledge"
	sitesURI     = "alloyist://standards-sites"
)

// KnowledgeSearcher queries the internal semantic index.
type KnowledgeSearcher interface {
	Query(ctx context.Context, text, language string) ([]retrieval.ContextChunk, error)
}

// MCPDeps holds dependencies for the MCP server. Index is optional; without
// it search_knowledge reports an error.
type MCPDeps struct {
	Assistant     Asker
	Index         KnowledgeSearcher
	Knowledge     KnowledgeStore
	Conversations HistoryReader
}

// NewMCPServer exposes the assistant, its knowledge base and conversation
// history as MCP tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"alloyist",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("alloyist answers questions about stainless steel standards (ASTM, JIS, EN, ...), grades, compositions and tolerances."),
		server.WithRecovery(),
	)

	s.AddTools(mcpTools(deps)...)

	s.AddResource(
		mcp.NewResource(knowledgeURI, "Knowledge Documents",
			mcp.WithResourceDescription(fmt.Sprintf("The %d most recent knowledge documents, without content", knowledgeListLimit)),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceKnowledge(deps),
	)
	s.AddResource(
		mcp.NewResource(sitesURI, "Standards Sites",
			mcp.WithResourceDescription("Sites web search is restricted to for standards lookups"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSites,
	)
	return s
}

func mcpTools(deps MCPDeps) []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("ask",
				mcp.WithDescription("Ask the stainless steel standards assistant a question. The exchange is saved to the conversation."),
				mcp.WithString("message", mcp.Description("The question"), mcp.Required()),
				mcp.WithString("user_id", mcp.Description("User identifier (default anonymous)")),
				mcp.WithString("session_id", mcp.Description("Conversation identifier (default a new session)")),
				mcp.WithBoolean("deep", mcp.Description("Run the analyze/draft/refine reasoning chain")),
			),
			Handler: mcpAsk(deps),
		},
		{
			Tool: mcp.NewTool("classify_expertise",
				mcp.WithDescription("Estimate the expertise level behind a message and show the scoring breakdown."),
				mcp.WithString("message", mcp.Description("Message to classify"), mcp.Required()),
			),
			Handler: mcpClassifyExpertise(),
		},
		{
			Tool: mcp.NewTool("search_knowledge",
				mcp.WithDescription("Semantically search the internal standards knowledge base."),
				mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
				mcp.WithString("language", mcp.Description("Detected from the query when omitted"), mcp.Enum(retrieval.LanguageChinese, retrieval.LanguageEnglish)),
			),
			Handler: mcpSearchKnowledge(deps),
		},
		{
			Tool: mcp.NewTool("add_knowledge",
				mcp.WithDescription("Add a body of text to the internal knowledge base. It becomes searchable once indexed."),
				mcp.WithString("title", mcp.Description("Title for the entry")),
				mcp.WithString("content", mcp.Description("The text to index"), mcp.Required()),
				mcp.WithString("source", mcp.Description("Where the text came from (default mcp)")),
			),
			Handler: mcpAddKnowledge(deps),
		},
		{
			Tool: mcp.NewTool("conversation_history",
				mcp.WithDescription("Return the most recent turns of a conversation, oldest first."),
				mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
				mcp.WithString("session_id", mcp.Description("Conversation identifier"), mcp.Required()),
				mcp.WithNumber("limit", mcp.Description("Maximum number of turns (default 10)"), mcp.Min(1), mcp.Max(maxHistoryTurns)),
			),
			Handler: mcpConversationHistory(deps),
		},
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError("message is required"), nil
		}

		out, err := deps.Assistant.Handle(ctx, pipeline.Request{
			UserID:    req.GetString("user_id", ""),
			SessionID: req.GetString("session_id", ""),
			Message:   message,
		}, pipeline.Options{Deep: req.GetBool("deep", false)})
		if err != nil {
			return mcp.NewToolResultError("assistant failed: " + err.Error()), nil
		}
		return mcpJSON(out), nil
	}
}

func mcpClassifyExpertise() server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError("message is required"), nil
		}
		return mcpJSON(struct {
			expertise.Assessment
			SimpleLevel expertise.Level `json:"simple_level"`
		}{
			Assessment:  expertise.Classify(message, nil),
			SimpleLevel: expertise.ClassifySimple(message),
		}), nil
	}
}

// chunkHit is a search result as returned to MCP clients.
type chunkHit struct {
	ID         string  `json:"id"`
	SourceID   string  `json:"source_id"`
	SourceType string  `json:"source_type"`
	Title      string  `json:"title,omitempty"`
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Score      float32 `json:"score"`
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Index == nil {
			return mcp.NewToolResultError("knowledge search not available: no index configured"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}
		language := req.GetString("language", "")
		if language == "" {
			language = retrieval.DetectLanguage(query)
		}

		chunks, err := deps.Index.Query(ctx, query, language)
		if err != nil {
			return mcp.NewToolResultError("search failed: " + err.Error()), nil
		}

		hits := make([]chunkHit, len(chunks))
		for i, c := range chunks {
			hits[i] = chunkHit{
				ID:         c.ID,
				SourceID:   c.SourceID,
				SourceType: c.SourceType,
				Title:      c.Title,
				Text:       c.Text,
				Language:   c.Language,
				Score:      c.Score,
			}
		}
		return mcpJSON(hits), nil
	}
}

func mcpAddKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError("content is required"), nil
		}

		id, err := ingest.SubmitKnowledge(deps.Knowledge, ingest.Submission{
			Title:   req.GetString("title", ""),
			Content: content,
			Source:  req.GetString("source", "mcp"),
		})
		switch {
		case errors.Is(err, ingest.ErrEmptyContent):
			return mcp.NewToolResultError("content is empty"), nil
		case err != nil:
			return mcp.NewToolResultError("failed to add knowledge: " + err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Queued knowledge doc %s for indexing", id)), nil
	}
}

func mcpConversationHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcp.NewToolResultError("user_id is required"), nil
		}
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("session_id is required"), nil
		}

		limit := req.GetInt("limit", conversation.DefaultHistoryLimit)
		if limit <= 0 {
			limit = conversation.DefaultHistoryLimit
		}
		limit = min(limit, maxHistoryTurns)

		turns, err := deps.Conversations.History(conversation.Key{UserID: userID, SessionID: sessionID}, limit)
		if err != nil {
			return mcp.NewToolResultError("failed to read conversation: " + err.Error()), nil
		}
		return mcpJSON(turnViews(turns)), nil
	}
}

func mcpResourceKnowledge(deps MCPDeps) server.ResourceHandlerFunc {
	return func(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := deps.Knowledge.ListKnowledgeDocs(knowledgeListLimit)
		if err != nil {
			return nil, fmt.Errorf("listing knowledge docs: %w", err)
		}
		return jsonResource(req.Params.URI, knowledgeDocViews(docs))
	}
}

func mcpResourceSites(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(req.Params.URI, websearch.StandardsSites)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(b)},
	}, nil
}

// mcpJSON encodes v as the text of a tool result.
func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("encoding result: " + err.Error())
	}
	return mcp.NewToolResultText(string(b))
}
