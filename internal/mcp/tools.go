package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/memvra/recall/internal/orchestrator"
)

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (s *Server) handleTurn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: message"), nil
	}

	reply, err := s.svc.HandleTurn(ctx, userID, sessionID, message)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("turn rejected: %v", err)), nil
	}
	return jsonResult(reply)
}

func (s *Server) handleErase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	report, err := s.svc.Erase(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("erase failed")
		return mcp.NewToolResultError(fmt.Sprintf("erase failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Erased user %s: %d stored turns, %d live sessions.", userID, report.Entries, report.Sessions)), nil
}

func (s *Server) handleDiagnostics(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	diag, err := s.svc.Diagnostics(sessionID)
	if errors.Is(err, orchestrator.ErrUnknownSession) {
		return mcp.NewToolResultError(fmt.Sprintf("no live session %q", sessionID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(diag)
}

func (s *Server) handleProfile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	profile, err := s.svc.Profile(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load profile: %v", err)), nil
	}
	if profile == "" {
		return mcp.NewToolResultText("No facts known about this user."), nil
	}
	return mcp.NewToolResultText(profile), nil
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	topK := req.GetInt("top_k", 0)

	matches, err := s.svc.Search(ctx, userID, query, topK)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText("No results found."), nil
	}

	var sb strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&sb, "%d. [%.2f] %s (session %s, turn %d, %s)\n   %s\n",
			i+1, m.Similarity, m.Role, m.SessionID, m.Seq, m.CreatedAt.Format("2006-01-02"), m.Content)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleEndSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	if err := s.svc.EndSession(ctx, sessionID); err != nil {
		if errors.Is(err, orchestrator.ErrUnknownSession) {
			return mcp.NewToolResultError(fmt.Sprintf("no live session %q", sessionID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to end session: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session %s saved.", sessionID)), nil
}
