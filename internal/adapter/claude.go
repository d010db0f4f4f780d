package adapter

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// claudeAdapter implements LLMAdapter for Anthropic Claude.
type claudeAdapter struct {
	client *anthropic.Client
	model  string
}

// NewClaude creates a Claude adapter. If apiKey is empty, ANTHROPIC_API_KEY is used.
func NewClaude(apiKey, baseURL, model string) LLMAdapter {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "claude-sonnet-4-6"
	}
	return &claudeAdapter{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (c *claudeAdapter) Info() ModelInfo {
	return ModelInfo{
		Name:               c.model,
		Provider:           ProviderClaude,
		MaxContextWindow:   200000,
		EmbeddingDimension: 0, // Claude does not provide embeddings
	}
}

func (c *claudeAdapter) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, &EmbeddingError{
		Provider: ProviderClaude,
		Err:      errors.Join(ErrNotSupported, errors.New("use openai, gemini or ollama for embeddings")),
	}
}

func (c *claudeAdapter) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	conv := Conversation(req.Messages)
	messages := make([]anthropic.Message, 0, len(conv))
	for _, m := range conv {
		role := anthropic.RoleUser
		if m.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		messages = append(messages, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
		})
	}
	// The Messages API requires the conversation to open with a user turn.
	if len(messages) == 0 || messages[0].Role != anthropic.RoleUser {
		messages = append([]anthropic.Message{anthropic.NewUserTextMessage("(conversation continues)")}, messages...)
	}

	temperature := float32(req.Temperature)
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(model),
		Messages:    messages,
		MaxTokens:   maxTokens,
		System:      SystemText(req.Messages),
		Temperature: &temperature,
	})
	if err != nil {
		return Generation{}, &GenerationError{Provider: ProviderClaude, Status: claudeStatus(err), Err: err}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText {
			text.WriteString(block.GetText())
		}
	}
	if text.Len() == 0 {
		return Generation{}, &GenerationError{Provider: ProviderClaude, Err: ErrEmptyResponse}
	}

	return Generation{
		Content:      text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

func claudeStatus(err error) int {
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsRateLimitErr():
			return http.StatusTooManyRequests
		case apiErr.IsOverloadedErr(), apiErr.IsApiErr():
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadRequest
		}
	}
	return 0
}
