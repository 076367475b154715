package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/recall/internal/cluster"
	"github.com/kalambet/recall/internal/ingest"
	"github.com/kalambet/recall/internal/refine"
	"github.com/kalambet/recall/internal/retrieval"
	"github.com/kalambet/recall/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. It reuses the HTTP API's
// component wiring.
type MCPDeps struct {
	AppDeps
}

// NewMCPServer creates an MCP server with the archive tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"recall",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("recall: local personal archive with hierarchical summaries and session-based hybrid search."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Store a document into the local archive. It is compressed into a summary pyramid and becomes searchable once indexed."),
			mcp.WithString("title", mcp.Description("Title for the document")),
			mcp.WithString("content", mcp.Description("The text content to store"), mcp.Required()),
			mcp.WithString("source_type", mcp.Description("Origin of the content: chat, email, document, or note")),
		),
		mcpAddDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("search",
			mcp.WithDescription("Hybrid semantic and keyword search over the archive. Returns scored excerpts from all pyramid levels."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
			mcp.WithString("level", mcp.Description("Restrict to a pyramid level: L0, L1, or apex")),
			mcp.WithString("session_id", mcp.Description("Run inside an existing session so refinements apply")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("create_session",
			mcp.WithDescription("Create a refinement session. Subsequent searches, pins, and exclusions inside it accumulate."),
			mcp.WithString("name", mcp.Description("Optional session name")),
		),
		mcpCreateSession(deps),
	)

	s.AddTool(
		mcp.NewTool("refine_results",
			mcp.WithDescription("Filter a session's current results by score or length floors."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
			mcp.WithNumber("min_score", mcp.Description("Drop unpinned results scored below this")),
			mcp.WithNumber("min_word_count", mcp.Description("Drop unpinned results shorter than this")),
		),
		mcpRefineResults(deps),
	)

	s.AddTool(
		mcp.NewTool("add_anchor",
			mcp.WithDescription("Mark a result as a direction anchor. Positive anchors pull similar content up when anchors are applied; negative anchors push it down."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
			mcp.WithString("result_id", mcp.Description("Result id to anchor on"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Optional anchor name")),
			mcp.WithString("polarity", mcp.Description("positive (default) or negative")),
		),
		mcpAddAnchor(deps),
	)

	s.AddTool(
		mcp.NewTool("scrub_results",
			mcp.WithDescription("Drop low-quality results from the session: too short, low scored, trivial replies, or unwanted author roles. Pinned results survive."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
			mcp.WithNumber("min_word_count", mcp.Description("Minimum word count to keep")),
			mcp.WithNumber("min_score", mcp.Description("Minimum score to keep")),
		),
		mcpScrubResults(deps),
	)

	s.AddTool(
		mcp.NewTool("pin_results",
			mcp.WithDescription("Protect results from filtering and keep them across future searches in the session."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
			mcp.WithArray("ids", mcp.Description("Result ids to pin"), mcp.Required()),
		),
		mcpPinResults(deps),
	)

	s.AddTool(
		mcp.NewTool("exclude_results",
			mcp.WithDescription("Permanently hide results from the session. They never return from future searches."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
			mcp.WithArray("ids", mcp.Description("Result ids to exclude"), mcp.Required()),
		),
		mcpExcludeResults(deps),
	)

	s.AddTool(
		mcp.NewTool("discover_clusters",
			mcp.WithDescription("Group the session's current results into semantic clusters."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
		),
		mcpDiscoverClusters(deps),
	)

	s.AddTool(
		mcp.NewTool("expand_context",
			mcp.WithDescription("Navigate the pyramid around a result: its parent summary, children, full thread, or the thread's apex."),
			mcp.WithString("node_id", mcp.Description("Node id from a search result"), mcp.Required()),
			mcp.WithString("direction", mcp.Description("One of parent, children, thread, apex (default parent)")),
		),
		mcpExpandContext(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"recall://sessions",
			"Active Sessions",
			mcp.WithResourceDescription("Currently active refinement sessions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSessions(deps),
	)

	return s
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		docID, err := deps.Intake.Accept(ctx, ingest.Submission{
			Title:      req.GetString("title", ""),
			Content:    content,
			SourceType: req.GetString("source_type", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Queued document %s for indexing", docID)), nil
	}
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		opts := retrieval.Options{
			Limit: limit,
			Level: storage.HierarchyLevel(req.GetString("level", "")),
		}

		var results []retrieval.SearchResult
		if sessionID := req.GetString("session_id", ""); sessionID != "" {
			snap, _, err := deps.Refine.SearchInSession(ctx, sessionID, query, opts)
			if err != nil {
				return mcpError(fmt.Sprintf("search failed: %v", err)), nil
			}
			results = snap.Results
		} else {
			resp, err := deps.Searcher.Search(ctx, query, opts)
			if err != nil {
				return mcpError(fmt.Sprintf("search failed: %v", err)), nil
			}
			results = resp.Results
		}

		return mcpResultsJSON(results)
	}
}

// mcpResultsJSON renders results without embeddings or full breakdowns.
func mcpResultsJSON(results []retrieval.SearchResult) (*mcp.CallToolResult, error) {
	if len(results) == 0 {
		return mcpText("[]"), nil
	}

	type resultView struct {
		ID           string  `json:"id"`
		ThreadRootID string  `json:"thread_root_id"`
		Level        string  `json:"level"`
		Title        string  `json:"title,omitempty"`
		Text         string  `json:"text"`
		Score        float32 `json:"score"`
		SourceType   string  `json:"source_type,omitempty"`
	}

	views := make([]resultView, len(results))
	for i, r := range results {
		views[i] = resultView{
			ID:           r.ID,
			ThreadRootID: r.ThreadRootID,
			Level:        string(r.Level),
			Title:        r.Title,
			Text:         r.Text,
			Score:        r.Score,
			SourceType:   r.SourceType,
		}
	}

	b, err := json.Marshal(views)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpCreateSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s := deps.Sessions.Create(req.GetString("name", ""))
		return mcpText(fmt.Sprintf("Created session %s", s.ID)), nil
	}
}

func mcpRefineResults(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		opts := refine.RefineOptions{
			MinScore:     float32(req.GetFloat("min_score", 0)),
			MinWordCount: req.GetInt("min_word_count", 0),
		}
		snap, stats, err := deps.Refine.RefineResults(ctx, sessionID, opts)
		if err != nil {
			return mcpError(fmt.Sprintf("refine failed: %v", err)), nil
		}

		res, _ := mcpResultsJSON(snap.Results)
		if res.IsError {
			return res, nil
		}
		body := res.Content[0].(mcp.TextContent).Text
		return mcpText(fmt.Sprintf("Filtered %d of %d results.\n%s", stats.Filtered, stats.Before, body)), nil
	}
}

func mcpAddAnchor(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		resultID, err := req.RequireString("result_id")
		if err != nil {
			return mcpError("result_id is required"), nil
		}
		name := req.GetString("name", "")

		switch polarity := req.GetString("polarity", "positive"); polarity {
		case "positive":
			_, err = deps.Refine.AddPositiveAnchor(ctx, sessionID, resultID, name)
		case "negative":
			_, err = deps.Refine.AddNegativeAnchor(ctx, sessionID, resultID, name)
		default:
			return mcpError(fmt.Sprintf("unknown polarity %q", polarity)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("anchor failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Anchored on result %s", resultID)), nil
	}
}

func mcpScrubResults(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		opts := refine.ScrubOptions{
			MinWordCount: req.GetInt("min_word_count", 0),
			MinScore:     float32(req.GetFloat("min_score", 0)),
		}
		snap, stats, err := deps.Refine.ScrubResults(ctx, sessionID, opts)
		if err != nil {
			return mcpError(fmt.Sprintf("scrub failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Scrubbed %d results, %d remain", stats.FilteredByQuality, len(snap.Results))), nil
	}
}

func mcpPinResults(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		ids := req.GetStringSlice("ids", nil)
		if len(ids) == 0 {
			return mcpError("ids is required"), nil
		}

		if _, err := deps.Refine.PinResults(ctx, sessionID, ids); err != nil {
			return mcpError(fmt.Sprintf("pin failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Pinned %d results", len(ids))), nil
	}
}

func mcpExcludeResults(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		ids := req.GetStringSlice("ids", nil)
		if len(ids) == 0 {
			return mcpError("ids is required"), nil
		}

		if _, err := deps.Refine.ExcludeResults(ctx, sessionID, ids); err != nil {
			return mcpError(fmt.Sprintf("exclude failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Excluded %d results", len(ids))), nil
	}
}

func mcpDiscoverClusters(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		res, err := deps.Clusters.Discover(ctx, sessionID, cluster.Options{})
		if err != nil {
			return mcpError(fmt.Sprintf("clustering failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal clusters: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpExpandContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		nodeID, err := req.RequireString("node_id")
		if err != nil {
			return mcpError("node_id is required"), nil
		}

		var payload any
		switch direction := req.GetString("direction", "parent"); direction {
		case "parent":
			payload, err = deps.Navigator.ParentContext(ctx, nodeID)
		case "children":
			payload, err = deps.Navigator.Children(ctx, nodeID)
		case "thread":
			payload, err = deps.Navigator.Thread(ctx, nodeID)
		case "apex":
			payload, err = deps.Navigator.Apex(ctx, nodeID)
		default:
			return mcpError(fmt.Sprintf("unknown direction %q", direction)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("navigation failed: %v", err)), nil
		}

		b, err := json.Marshal(payload)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal context: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSessions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		infos := deps.Sessions.List()

		b, err := json.Marshal(infos)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
