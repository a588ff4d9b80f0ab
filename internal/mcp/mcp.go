// Package mcp implements the Model Context Protocol server for Gearbox.
//
// The MCP server exposes read-only run inspection through MCP tools,
// allowing MCP-compatible AI agents to look up completed runs and find
// precedents for a goal before starting a new one.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/gearbox-ai/gearbox/internal/llm"
	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/server"
	"github.com/gearbox-ai/gearbox/internal/storage"
)

// Server wraps the MCP server with Gearbox's storage layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	embedder  llm.Embedder
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
// embedder may be nil; find_precedents reports an error in that case.
func New(db *storage.DB, embedder llm.Embedder, logger *slog.Logger, version string) *Server {
	s := &Server{
		db:       db,
		embedder: embedder,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"gearbox",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// get_run: fetch a run and its full event log.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_run",
			mcplib.WithDescription("Fetch a planner run and its ordered event log by run ID"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("run_id",
				mcplib.Description("UUID of the run to fetch"),
				mcplib.Required(),
			),
		),
		s.handleGetRun,
	)

	// list_runs: recent runs, optionally filtered by status.
	s.mcpServer.AddTool(
		mcplib.NewTool("list_runs",
			mcplib.WithDescription("List recent planner runs, newest first, optionally filtered by status"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("status",
				mcplib.Description("Filter by run status: running, succeeded, or failed. Omit for all."),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of runs to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleListRuns,
	)

	// find_precedents: semantic search over succeeded runs.
	s.mcpServer.AddTool(
		mcplib.NewTool("find_precedents",
			mcplib.WithDescription(`Find succeeded runs whose goals are semantically similar to a new goal.

Call this BEFORE starting a run: if a near-identical goal already succeeded,
you can reuse its outcome instead of executing again.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("goal",
				mcplib.Description("Natural language goal to search for"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of precedents to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleFindPrecedents,
	)
}

func (s *Server) handleGetRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims := server.ClaimsFromContext(ctx)
	if claims == nil {
		return errorResult("authentication required"), nil
	}

	rawID := request.GetString("run_id", "")
	runID, err := uuid.Parse(rawID)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid run_id: %v", err)), nil
	}

	run, err := s.db.GetRun(ctx, claims.TenantID, runID)
	if err != nil {
		return errorResult(fmt.Sprintf("run not found: %v", err)), nil
	}
	events, err := s.db.EventsByRun(ctx, claims.TenantID, runID)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to load events: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"run":    run,
		"events": events,
	})
}

func (s *Server) handleListRuns(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims := server.ClaimsFromContext(ctx)
	if claims == nil {
		return errorResult("authentication required"), nil
	}

	var statusFilter *model.RunStatus
	if raw := request.GetString("status", ""); raw != "" {
		status := model.RunStatus(raw)
		switch status {
		case model.RunStatusRunning, model.RunStatusSucceeded, model.RunStatusFailed:
			statusFilter = &status
		default:
			return errorResult(fmt.Sprintf("unknown status %q", raw)), nil
		}
	}
	limit := request.GetInt("limit", 20)

	runs, err := s.db.ListRuns(ctx, claims.TenantID, statusFilter, limit, 0)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleFindPrecedents(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims := server.ClaimsFromContext(ctx)
	if claims == nil {
		return errorResult("authentication required"), nil
	}
	if s.embedder == nil {
		return errorResult("semantic search is not configured"), nil
	}

	goal, err := model.ValidateGoal(request.GetString("goal", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid goal: %v", err)), nil
	}
	limit := request.GetInt("limit", 5)

	vec, err := s.embedder.Embed(ctx, goal)
	if err != nil {
		return errorResult(fmt.Sprintf("embedding failed: %v", err)), nil
	}
	matches, err := s.db.SimilarRuns(ctx, claims.TenantID, vec, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"has_precedent": len(matches) > 0,
		"matches":       matches,
	})
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
	}
}
