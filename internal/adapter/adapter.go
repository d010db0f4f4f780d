// Package adapter provides a unified interface for LLM providers and embedders.
package adapter

import (
	"context"
	"fmt"
	"strings"
)

// Provider name constants.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat prompt.
type Message struct {
	Role    string
	Content string
}

// GenerateRequest holds the parameters for a generation call.
type GenerateRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// Generation is a completed response with the provider's token usage.
type Generation struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// ModelInfo describes the capabilities of a model.
type ModelInfo struct {
	Name               string
	Provider           string
	MaxContextWindow   int
	EmbeddingDimension int // 0 if not an embedding model
}

// Generator produces a completion for a chat prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// LLMAdapter is the common interface all provider adapters implement.
type LLMAdapter interface {
	Generator
	Embedder

	// Info returns metadata about the adapter/model.
	Info() ModelInfo
}

// Options configures New.
type Options struct {
	Provider   string
	APIKey     string // empty = read from env in the concrete adapter
	BaseURL    string // optional endpoint override (proxies, tests)
	ChatModel  string // default model for Generate when the request has none
	EmbedModel string
	OllamaHost string // used only when Provider == "ollama"
}

// New constructs the LLMAdapter for the named provider.
func New(opts Options) (LLMAdapter, error) {
	switch opts.Provider {
	case ProviderClaude:
		return NewClaude(opts.APIKey, opts.BaseURL, opts.ChatModel), nil
	case ProviderOpenAI:
		return NewOpenAI(opts.APIKey, opts.BaseURL, opts.ChatModel, opts.EmbedModel), nil
	case ProviderGemini:
		return NewGemini(opts.APIKey, opts.BaseURL, opts.ChatModel), nil
	case ProviderOllama:
		host := opts.OllamaHost
		if host == "" {
			host = "http://localhost:11434"
		}
		chat := opts.ChatModel
		if chat == "" {
			chat = "llama3.2"
		}
		embed := opts.EmbedModel
		if embed == "" {
			embed = "nomic-embed-text"
		}
		return NewOllama(host, chat, embed)
	default:
		return nil, fmt.Errorf("adapter: unknown provider %q; valid providers: claude, openai, gemini, ollama", opts.Provider)
	}
}

// SystemText joins the content of every system message.
func SystemText(msgs []Message) string {
	var parts []string
	for _, m := range msgs {
		if m.Role == RoleSystem && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Conversation returns the non-system messages with consecutive messages of
// the same role merged, since some providers require strict alternation.
func Conversation(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Role == RoleSystem {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
