// Package mcp exposes the memory manager as Model Context Protocol tools
// over stdio.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/memvra/recall/internal/memory"
	"github.com/memvra/recall/internal/orchestrator"
)

// Service is the part of the orchestrator the tools call.
type Service interface {
	HandleTurn(ctx context.Context, userID, sessionID, message string) (orchestrator.Reply, error)
	Erase(ctx context.Context, userID string) (orchestrator.EraseReport, error)
	Diagnostics(sessionID string) (orchestrator.Diagnostics, error)
	EndSession(ctx context.Context, sessionID string) error
	Profile(ctx context.Context, userID string) (string, error)
	Search(ctx context.Context, userID, query string, topK int) ([]memory.Match, error)
}

// Server holds the tool handlers.
type Server struct {
	svc Service
	log zerolog.Logger
}

// NewServer returns a Server calling svc.
func NewServer(svc Service, log zerolog.Logger) *Server {
	return &Server{svc: svc, log: log}
}

// MCPServer builds the protocol server with every tool registered.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer("recall", version, server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool("handle_turn",
		mcp.WithDescription("Send one user message through the memory manager and get the assistant reply with its diagnostics."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Stable id of the end user")),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Conversation id; reuse it for every turn of a conversation")),
		mcp.WithString("message", mcp.Required(), mcp.Description("The user's message")),
	), s.handleTurn)

	srv.AddTool(mcp.NewTool("erase_user",
		mcp.WithDescription("Permanently delete every memory, profile fact and session snapshot of a user."),
		mcp.WithString("user_id", mcp.Required()),
	), s.handleErase)

	srv.AddTool(mcp.NewTool("session_diagnostics",
		mcp.WithDescription("Token usage of a live session's window and summaries, and what the last turn retrieved."),
		mcp.WithString("session_id", mcp.Required()),
	), s.handleDiagnostics)

	srv.AddTool(mcp.NewTool("get_profile",
		mcp.WithDescription("The facts learned about a user."),
		mcp.WithString("user_id", mcp.Required()),
	), s.handleProfile)

	srv.AddTool(mcp.NewTool("search_memory",
		mcp.WithDescription("Semantic search over a user's past conversation turns."),
		mcp.WithString("user_id", mcp.Required()),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("top_k", mcp.Description("Maximum results (default from config)")),
	), s.handleSearch)

	srv.AddTool(mcp.NewTool("end_session",
		mcp.WithDescription("Flush a session: extract profile facts from unprocessed turns and save a resumable snapshot."),
		mcp.WithString("session_id", mcp.Required()),
	), s.handleEndSession)

	return srv
}

// ServeStdio serves the tools on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio(version string) error {
	return server.ServeStdio(s.MCPServer(version))
}
