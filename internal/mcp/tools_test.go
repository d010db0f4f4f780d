package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/memvra/recall/internal/memory"
	"github.com/memvra/recall/internal/orchestrator"
)

type fakeService struct {
	turns  []string
	erased []string
	ended  []string
}

func (f *fakeService) HandleTurn(_ context.Context, userID, sessionID, message string) (orchestrator.Reply, error) {
	f.turns = append(f.turns, userID+"/"+sessionID+"/"+message)
	return orchestrator.Reply{Text: "hello " + userID, SessionID: sessionID, Seq: 2, Retrieved: 1}, nil
}

func (f *fakeService) Erase(_ context.Context, userID string) (orchestrator.EraseReport, error) {
	f.erased = append(f.erased, userID)
	return orchestrator.EraseReport{Entries: 4, Sessions: 1}, nil
}

func (f *fakeService) Diagnostics(sessionID string) (orchestrator.Diagnostics, error) {
	if sessionID != "s1" {
		return orchestrator.Diagnostics{}, orchestrator.ErrUnknownSession
	}
	return orchestrator.Diagnostics{SessionID: "s1", WindowTokens: 120, SummaryTokens: 40, RetrievedCount: 2}, nil
}

func (f *fakeService) EndSession(_ context.Context, sessionID string) error {
	if sessionID != "s1" {
		return orchestrator.ErrUnknownSession
	}
	f.ended = append(f.ended, sessionID)
	return nil
}

func (f *fakeService) Profile(_ context.Context, userID string) (string, error) {
	if userID == "ana" {
		return "- The user lives in Porto.", nil
	}
	return "", nil
}

func (f *fakeService) Search(_ context.Context, userID, query string, topK int) ([]memory.Match, error) {
	if userID != "ana" {
		return nil, nil
	}
	return []memory.Match{{
		MemoryEntry: memory.MemoryEntry{SessionID: "s0", Seq: 3, Role: memory.RoleUser, Content: "My account ID is ABC123", CreatedAt: time.Now()},
		Similarity:  0.82,
	}}, nil
}

func newTestServer() (*Server, *fakeService) {
	svc := &fakeService{}
	return NewServer(svc, zerolog.Nop()), svc
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil {
		t.Fatal("nil result")
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func TestHandleTurn(t *testing.T) {
	s, svc := newTestServer()
	res, err := s.handleTurn(context.Background(), call(map[string]any{
		"user_id": "ana", "session_id": "s1", "message": "hi",
	}))
	if err != nil {
		t.Fatalf("handleTurn: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}

	var reply orchestrator.Reply
	if err := json.Unmarshal([]byte(resultText(t, res)), &reply); err != nil {
		t.Fatalf("reply is not JSON: %v", err)
	}
	if reply.Text != "hello ana" || reply.Retrieved != 1 {
		t.Errorf("unexpected reply: %+v", reply)
	}
	if len(svc.turns) != 1 || svc.turns[0] != "ana/s1/hi" {
		t.Errorf("service not called as expected: %v", svc.turns)
	}
}

func TestHandleTurn_MissingParameter(t *testing.T) {
	s, svc := newTestServer()
	res, _ := s.handleTurn(context.Background(), call(map[string]any{"user_id": "ana", "session_id": "s1"}))
	if !res.IsError {
		t.Error("expected a tool error")
	}
	if len(svc.turns) != 0 {
		t.Error("service should not be called")
	}
}

func TestHandleErase(t *testing.T) {
	s, svc := newTestServer()
	res, _ := s.handleErase(context.Background(), call(map[string]any{"user_id": "ana"}))
	if !strings.Contains(resultText(t, res), "4 stored turns") {
		t.Errorf("unexpected text: %s", resultText(t, res))
	}
	if len(svc.erased) != 1 {
		t.Error("erase not called")
	}
}

func TestHandleDiagnostics(t *testing.T) {
	s, _ := newTestServer()
	res, _ := s.handleDiagnostics(context.Background(), call(map[string]any{"session_id": "s1"}))
	var diag orchestrator.Diagnostics
	if err := json.Unmarshal([]byte(resultText(t, res)), &diag); err != nil {
		t.Fatalf("diagnostics is not JSON: %v", err)
	}
	if diag.WindowTokens != 120 || diag.SummaryTokens != 40 || diag.RetrievedCount != 2 {
		t.Errorf("unexpected diagnostics: %+v", diag)
	}

	res, _ = s.handleDiagnostics(context.Background(), call(map[string]any{"session_id": "nope"}))
	if !res.IsError {
		t.Error("unknown session should be a tool error")
	}
}

func TestHandleProfile(t *testing.T) {
	s, _ := newTestServer()
	res, _ := s.handleProfile(context.Background(), call(map[string]any{"user_id": "ana"}))
	if resultText(t, res) != "- The user lives in Porto." {
		t.Errorf("unexpected profile: %q", resultText(t, res))
	}
	res, _ = s.handleProfile(context.Background(), call(map[string]any{"user_id": "ben"}))
	if !strings.Contains(resultText(t, res), "No facts") {
		t.Errorf("unexpected empty profile text: %q", resultText(t, res))
	}
}

func TestHandleSearch(t *testing.T) {
	s, _ := newTestServer()
	res, _ := s.handleSearch(context.Background(), call(map[string]any{"user_id": "ana", "query": "account", "top_k": 3}))
	text := resultText(t, res)
	if !strings.Contains(text, "ABC123") || !strings.Contains(text, "[0.82]") {
		t.Errorf("unexpected search output: %s", text)
	}

	res, _ = s.handleSearch(context.Background(), call(map[string]any{"user_id": "ben", "query": "account"}))
	if resultText(t, res) != "No results found." {
		t.Errorf("unexpected empty search output: %s", resultText(t, res))
	}
}

func TestHandleEndSession(t *testing.T) {
	s, svc := newTestServer()
	res, _ := s.handleEndSession(context.Background(), call(map[string]any{"session_id": "s1"}))
	if res.IsError || len(svc.ended) != 1 {
		t.Errorf("end_session failed: %s", resultText(t, res))
	}
	res, _ = s.handleEndSession(context.Background(), call(map[string]any{"session_id": "s2"}))
	if !res.IsError {
		t.Error("unknown session should be a tool error")
	}
}

func TestMCPServer_RegistersTools(t *testing.T) {
	s, _ := newTestServer()
	if s.MCPServer("test") == nil {
		t.Fatal("nil server")
	}
}
