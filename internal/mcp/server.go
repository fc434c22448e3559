// Package mcp exposes read-only workflow queries as MCP tools for agent
// integrations. Every read goes through the same access resolver as the
// REST API, and the requesting identity comes from the verified token on
// the HTTP request, never from tool arguments.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"synchro/backend/internal/auth"
	"synchro/backend/internal/repository"
	"synchro/backend/internal/services"
	"synchro/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	repo      repository.Repository
	access    *services.AccessResolver
}

func NewServer(repo repository.Repository, access *services.AccessResolver) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Synchro Workflows",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		repo:   repo,
		access: access,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List workflows readable by the authenticated user"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow",
			mcp.WithDescription("Get a workflow document with its ordered steps"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The id of the workflow")),
		),
		s.handleGetWorkflow,
	)
}

// requestUserID resolves the authenticated user from the tool context. The
// id is placed there by the auth middleware via the SSE context func; a
// missing id means the transport was mounted without authentication and is
// treated as an error, never as an anonymous allow.
func requestUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(auth.UserIDKey).(string)
	return userID, ok && userID != ""
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, ok := requestUserID(ctx)
	if !ok {
		return mcp.NewToolResultError("No authenticated user"), nil
	}

	candidates, err := s.repo.ListWorkflowsForUser(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}

	readable := make([]*models.Workflow, 0, len(candidates))
	for _, w := range candidates {
		allowed, err := s.access.CanRead(ctx, w, userID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Access check failed: %v", err)), nil
		}
		if allowed {
			readable = append(readable, w)
		}
	}

	jsonBytes, _ := json.Marshal(readable)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, ok := requestUserID(ctx)
	if !ok {
		return mcp.NewToolResultError("No authenticated user"), nil
	}

	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	workflow, err := s.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get workflow: %v", err)), nil
	}

	allowed, err := s.access.CanRead(ctx, workflow, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Access check failed: %v", err)), nil
	}
	if !allowed {
		return mcp.NewToolResultError("Access denied"), nil
	}

	steps, err := s.repo.ListSteps(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list steps: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(map[string]interface{}{
		"workflow": workflow,
		"steps":    steps,
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers registers the MCP endpoints on mux. The SSE context
// func carries the authenticated user id from the HTTP request into tool
// contexts; the mux must sit behind the auth middleware for the id to be
// present.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if userID, ok := r.Context().Value(auth.UserIDKey).(string); ok && userID != "" {
				return context.WithValue(ctx, auth.UserIDKey, userID)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
