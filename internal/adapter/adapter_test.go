package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNew_ValidProviders(t *testing.T) {
	tests := []struct {
		provider string
	}{
		{ProviderClaude},
		{ProviderOpenAI},
		{ProviderGemini},
		{ProviderOllama},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			a, err := New(Options{Provider: tt.provider, APIKey: "test-key"})
			if err != nil {
				t.Fatalf("New(%q) error: %v", tt.provider, err)
			}
			if a == nil {
				t.Fatalf("New(%q) returned nil adapter", tt.provider)
			}
			info := a.Info()
			if info.Provider != tt.provider {
				t.Errorf("Info().Provider = %q, want %q", info.Provider, tt.provider)
			}
		})
	}
}

func TestNew_InvalidProvider(t *testing.T) {
	_, err := New(Options{Provider: "invalid", APIKey: "key"})
	if err == nil {
		t.Error("expected error for invalid provider")
	}
}

func TestNew_OllamaDefaults(t *testing.T) {
	a, err := New(Options{Provider: ProviderOllama})
	if err != nil {
		t.Fatalf("New(ollama) error: %v", err)
	}
	if got := a.Info().Name; got != "llama3.2" {
		t.Errorf("chat model: got %q", got)
	}
}

func TestConversation_MergesSameRole(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b"},
		{Role: RoleAssistant, Content: "c"},
	}
	conv := Conversation(msgs)
	if len(conv) != 2 {
		t.Fatalf("got %d messages, want 2", len(conv))
	}
	if conv[0].Content != "a\n\nb" {
		t.Errorf("merged content: got %q", conv[0].Content)
	}
	if SystemText(msgs) != "be brief" {
		t.Errorf("system text: got %q", SystemText(msgs))
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &GenerationError{Status: 429, Err: errors.New("slow down")}, true},
		{"server error", &EmbeddingError{Status: 502, Err: errors.New("bad gateway")}, true},
		{"bad request", &GenerationError{Status: 400, Err: errors.New("nope")}, false},
		{"unauthorized", &EmbeddingError{Status: 401, Err: errors.New("key")}, false},
		{"network", &GenerationError{Err: errors.New("connection reset")}, true},
		{"deadline", &GenerationError{Err: context.DeadlineExceeded}, true},
		{"not supported", &EmbeddingError{Err: ErrNotSupported}, false},
		{"plain error", errors.New("boom"), true},
		{"cancelled", context.Canceled, false},
		{"nil", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
}

func TestRetryPolicy_RetriesTransient(t *testing.T) {
	calls := 0
	attempts, err := fastRetry().Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &GenerationError{Status: 503, Err: errors.New("unavailable")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", attempts, calls)
	}
}

func TestRetryPolicy_GivesUpAfterMaxAttempts(t *testing.T) {
	want := &GenerationError{Status: 500, Err: errors.New("down")}
	attempts, err := fastRetry().Do(context.Background(), func(context.Context) error { return want })
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
}

func TestRetryPolicy_PermanentStopsImmediately(t *testing.T) {
	attempts, err := fastRetry().Do(context.Background(), func(context.Context) error {
		return &GenerationError{Status: 401, Err: errors.New("bad key")}
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRetryPolicy_DelaysDouble(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	start := time.Now()
	_, _ = p.Do(context.Background(), func(context.Context) error { return errors.New("again") })
	// 20ms + 40ms between three attempts.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("elapsed %v, want at least 60ms", elapsed)
	}
}

func TestRetryPolicy_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, Multiplier: 2, MaxDelay: time.Hour}
	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := p.Do(ctx, func(context.Context) error {
			calls++
			return errors.New("fail")
		})
		if err == nil {
			t.Error("expected error after cancellation")
		}
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Your ID is ABC123."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
		}`)
	}))
	defer server.Close()

	a := NewOpenAI("test-key", server.URL+"/v1", "gpt-4o-mini", "")
	gen, err := a.Generate(context.Background(), GenerateRequest{
		Messages:  []Message{{Role: RoleSystem, Content: "memory"}, {Role: RoleUser, Content: "What is my ID?"}},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Content != "Your ID is ABC123." || gen.InputTokens != 42 || gen.OutputTokens != 7 {
		t.Errorf("unexpected generation: %+v", gen)
	}
	if got["model"] != "gpt-4o-mini" {
		t.Errorf("model sent: %v", got["model"])
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages sent: %v", got["messages"])
	}
}

func TestOpenAIGenerate_StatusIsClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limited", "type": "rate_limit"}}`)
	}))
	defer server.Close()

	a := NewOpenAI("test-key", server.URL+"/v1", "", "")
	_, err := a.Generate(context.Background(), GenerateRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if genErr.Status != http.StatusTooManyRequests || !genErr.Transient() {
		t.Errorf("status %d transient %v", genErr.Status, genErr.Transient())
	}
}

func TestOpenAIEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object": "list", "data": [
			{"object": "embedding", "index": 1, "embedding": [0, 1]},
			{"object": "embedding", "index": 0, "embedding": [1, 0]}
		], "model": "text-embedding-3-small"}`)
	}))
	defer server.Close()

	a := NewOpenAI("test-key", server.URL+"/v1", "", "")
	vecs, err := a.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("embeddings not ordered by index: %v", vecs)
	}
}

func TestClaudeGenerate(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_1", "type": "message", "role": "assistant",
			"content": [{"type": "text", "text": "Hello from Claude"}],
			"model": "claude-sonnet-4-6", "stop_reason": "end_turn",
			"usage": {"input_tokens": 30, "output_tokens": 4}
		}`)
	}))
	defer server.Close()

	a := NewClaude("test-key", server.URL, "")
	gen, err := a.Generate(context.Background(), GenerateRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "You remember things."},
			{Role: RoleUser, Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Content != "Hello from Claude" || gen.InputTokens != 30 || gen.OutputTokens != 4 {
		t.Errorf("unexpected generation: %+v", gen)
	}
	if got["system"] != "You remember things." {
		t.Errorf("system prompt sent: %v", got["system"])
	}
}

func TestClaudeEmbed_NotSupported(t *testing.T) {
	a := NewClaude("test-key", "", "")
	_, err := a.Embed(context.Background(), []string{"x"})
	if err == nil || IsTransient(err) {
		t.Errorf("expected a permanent error, got %v", err)
	}
}

func TestGeminiGenerate(t *testing.T) {
	var got geminiGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.0-flash:generateContent") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"candidates": [{
				"content": {
					"parts": [{"text": "Hello from Gemini!"}],
					"role": "model"
				}
			}],
			"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 5}
		}`)
	}))
	defer server.Close()

	a := NewGemini("test-key", server.URL, "")
	gen, err := a.Generate(context.Background(), GenerateRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleUser, Content: "Hello"},
			{Role: RoleAssistant, Content: "Hi"},
			{Role: RoleUser, Content: "Again"},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Content != "Hello from Gemini!" || gen.InputTokens != 12 || gen.OutputTokens != 5 {
		t.Errorf("unexpected generation: %+v", gen)
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "sys" {
		t.Errorf("system instruction: %+v", got.SystemInstruction)
	}
	if len(got.Contents) != 3 || got.Contents[1].Role != "model" {
		t.Errorf("contents: %+v", got.Contents)
	}
}

func TestGeminiGenerate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"API key invalid"}}`)
	}))
	defer server.Close()

	adapter := &geminiAdapter{
		apiKey:  "bad-key",
		baseURL: server.URL,
		client:  server.Client(),
	}

	_, err := adapter.doGenerate(
		context.Background(),
		server.URL+"/models/gemini-2.0-flash:generateContent?key=bad-key",
		[]byte(`{"contents":[{"role":"user","parts":[{"text":"Hello"}]}]}`),
	)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error should mention status code 403: %v", err)
	}
	if IsTransient(err) {
		t.Error("403 should not be retried")
	}
}

func TestOllamaGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"model":"llama3.2","message":{"role":"assistant","content":"local answer"},"done":true,"prompt_eval_count":21,"eval_count":3}`)
	}))
	defer server.Close()

	a, err := newOllamaWithClient(server.URL, "llama3.2", "nomic-embed-text", server.Client())
	if err != nil {
		t.Fatal(err)
	}
	gen, err := a.Generate(context.Background(), GenerateRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Content != "local answer" || gen.InputTokens != 21 || gen.OutputTokens != 3 {
		t.Errorf("unexpected generation: %+v", gen)
	}
}

func TestOllamaEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"nomic-embed-text","embeddings":[[0.1,0.2,0.3]]}`)
	}))
	defer server.Close()

	a, err := newOllamaWithClient(server.URL, "llama3.2", "nomic-embed-text", server.Client())
	if err != nil {
		t.Fatal(err)
	}
	vec, err := EmbedOne(context.Background(), a, "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("dimension: got %d", len(vec))
	}
}
