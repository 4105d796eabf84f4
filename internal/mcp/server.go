// Package mcp exposes the knowledge service as a Model Context Protocol
// server, so calling agents can register, list, and query knowledge sources
// as tools over stdio.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/knowhook/knowhook-server/internal/service"
	"github.com/knowhook/knowhook-server/internal/sources"
	"github.com/knowhook/knowhook-server/internal/versions"
)

// ServerName is the MCP server name announced to clients.
const ServerName = "knowhook"

// handlers binds tool and prompt handlers to the knowledge service.
type handlers struct {
	service service.KnowledgeService
}

// NewServer creates an MCP server exposing the knowledge operations.
func NewServer(svc service.KnowledgeService) *server.MCPServer {
	h := &handlers{service: svc}

	s := server.NewMCPServer(
		ServerName,
		versions.GetVersionInfo().Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("register_source",
		mcp.WithDescription("Register a new webhook knowledge source for query dispatch"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute URL of the knowledge source webhook"),
		),
		mcp.WithString("description",
			mcp.Description("Optional description of the source"),
		),
		mcp.WithString("api_key",
			mcp.Description("Optional API key forwarded on every query to this source"),
		),
		mcp.WithString("flavor",
			mcp.Description("Webhook protocol flavor"),
			mcp.Enum(string(sources.FlavorGeneric), string(sources.FlavorN8N)),
		),
	), h.registerSource)

	s.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List all registered knowledge sources"),
	), h.listSources)

	s.AddTool(mcp.NewTool("query_sources",
		mcp.WithDescription("Query the registered knowledge sources and return per-source results"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The query text to dispatch"),
		),
		mcp.WithArray("source_ids",
			mcp.Description("Optional list of source ids to query; all sources when omitted"),
			mcp.WithStringItems(),
		),
		mcp.WithString("image",
			mcp.Description("Optional image payload forwarded verbatim"),
		),
	), h.querySources)

	s.AddTool(mcp.NewTool("load_sources",
		mcp.WithDescription("Bulk-load knowledge sources from a JSON document on disk"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to the source document"),
		),
	), h.loadSources)

	s.AddTool(mcp.NewTool("post_query",
		mcp.WithDescription("Send a one-off query to an arbitrary webhook URL outside the registry"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Webhook URL to post the query to"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The query text"),
		),
	), h.postQuery)

	s.AddPrompt(mcp.NewPrompt("knowledge_query",
		mcp.WithPromptDescription("Prompt template for querying the registered knowledge sources"),
		mcp.WithArgument("query",
			mcp.ArgumentDescription("The question to research"),
			mcp.RequiredArgument(),
		),
	), h.knowledgeQueryPrompt)

	return s
}

// ServeStdio runs the MCP server over stdio until the client disconnects.
func ServeStdio(svc service.KnowledgeService) error {
	return server.ServeStdio(NewServer(svc))
}

func (h *handlers) registerSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, err := h.service.RegisterSource(ctx, service.RegisterSourceRequest{
		URL:         url,
		Description: request.GetString("description", ""),
		APIKey:      request.GetString("api_key", ""),
		Flavor:      sources.Flavor(request.GetString("flavor", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Knowledge source registered with ID: %s", id)), nil
}

func (h *handlers) listSources(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recs, err := h.service.ListSources(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(renderSourceList(recs)), nil
}

func (h *handlers) querySources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := h.service.Query(ctx, service.QueryRequest{
		Text:      query,
		Image:     request.GetString("image", ""),
		SourceIDs: request.GetStringSlice("source_ids", nil),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(result), nil
}

func (h *handlers) loadSources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	count, err := h.service.LoadSources(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Loaded %d knowledge sources", count)), nil
}

func (h *handlers) postQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := h.service.PostQuery(ctx, url, query)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(result), nil
}

func (h *handlers) knowledgeQueryPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	query := request.Params.Arguments["query"]
	if query == "" {
		return nil, fmt.Errorf("query argument is required")
	}

	recs, err := h.service.ListSources(ctx)
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf(`Please help me find information about the following query:
Query: %s

Available knowledge sources:
%s

How would you like to proceed with the search?`, query, renderSourceList(recs))

	return mcp.NewGetPromptResult(
		"Knowledge source query",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
		},
	), nil
}

// renderSourceList renders registered sources one per line. API keys are
// never included.
func renderSourceList(recs []sources.SourceRecord) string {
	if len(recs) == 0 {
		return "No knowledge sources registered"
	}

	lines := make([]string, 0, len(recs))
	for _, rec := range recs {
		line := fmt.Sprintf("%s: %s", rec.ID, rec.URL)
		if rec.Description != "" {
			line += fmt.Sprintf(" (%s)", rec.Description)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
