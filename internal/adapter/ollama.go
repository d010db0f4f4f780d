package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// ollamaAdapter implements LLMAdapter for a local Ollama instance.
type ollamaAdapter struct {
	client     *api.Client
	chatModel  string
	embedModel string
}

// NewOllama creates an Ollama adapter.
func NewOllama(host, chatModel, embedModel string) (LLMAdapter, error) {
	return newOllamaWithClient(host, chatModel, embedModel, http.DefaultClient)
}

func newOllamaWithClient(host, chatModel, embedModel string, hc *http.Client) (LLMAdapter, error) {
	base, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("adapter: ollama host %q: %w", host, err)
	}
	return &ollamaAdapter{
		client:     api.NewClient(base, hc),
		chatModel:  chatModel,
		embedModel: embedModel,
	}, nil
}

func (o *ollamaAdapter) Info() ModelInfo {
	return ModelInfo{
		Name:               o.chatModel,
		Provider:           ProviderOllama,
		MaxContextWindow:   32768,
		EmbeddingDimension: 768, // nomic-embed-text
	}
}

func (o *ollamaAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := o.client.Embed(ctx, &api.EmbedRequest{
		Model: o.embedModel,
		Input: texts,
	})
	if err != nil {
		return nil, &EmbeddingError{Provider: ProviderOllama, Status: ollamaStatus(err), Err: err}
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &EmbeddingError{Provider: ProviderOllama, Err: ErrEmptyResponse}
	}
	return resp.Embeddings, nil
}

func (o *ollamaAdapter) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	model := req.Model
	if model == "" {
		model = o.chatModel
	}

	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	stream := false
	var (
		text strings.Builder
		gen  Generation
	)
	err := o.client.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		if resp.Done {
			gen.InputTokens = resp.PromptEvalCount
			gen.OutputTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return Generation{}, &GenerationError{Provider: ProviderOllama, Status: ollamaStatus(err), Err: err}
	}
	if text.Len() == 0 {
		return Generation{}, &GenerationError{Provider: ProviderOllama, Err: ErrEmptyResponse}
	}
	gen.Content = text.String()
	return gen, nil
}

func ollamaStatus(err error) int {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
