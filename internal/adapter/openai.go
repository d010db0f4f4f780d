package adapter

import (
	"context"
	"errors"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// openaiAdapter implements LLMAdapter for OpenAI.
type openaiAdapter struct {
	client     *openai.Client
	chatModel  string
	embedModel string
}

// NewOpenAI creates an OpenAI adapter. If apiKey is empty, OPENAI_API_KEY is used.
func NewOpenAI(apiKey, baseURL, chatModel, embedModel string) LLMAdapter {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}
	return &openaiAdapter{
		client:     openai.NewClientWithConfig(cfg),
		chatModel:  chatModel,
		embedModel: embedModel,
	}
}

func (o *openaiAdapter) Info() ModelInfo {
	return ModelInfo{
		Name:               o.chatModel,
		Provider:           ProviderOpenAI,
		MaxContextWindow:   128000,
		EmbeddingDimension: 1536, // text-embedding-3-small
	}
}

func (o *openaiAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(o.embedModel),
	})
	if err != nil {
		return nil, &EmbeddingError{Provider: ProviderOpenAI, Status: openaiStatus(err), Err: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, &EmbeddingError{Provider: ProviderOpenAI, Err: ErrEmptyResponse}
	}

	result := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(result) {
			return nil, &EmbeddingError{Provider: ProviderOpenAI, Err: errors.New("embedding index out of range")}
		}
		result[d.Index] = d.Embedding
	}
	return result, nil
}

func (o *openaiAdapter) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	model := req.Model
	if model == "" {
		model = o.chatModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return Generation{}, &GenerationError{Provider: ProviderOpenAI, Status: openaiStatus(err), Err: err}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Generation{}, &GenerationError{Provider: ProviderOpenAI, Err: ErrEmptyResponse}
	}

	return Generation{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func openaiStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
