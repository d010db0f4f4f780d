package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiAdapter implements LLMAdapter for Google Gemini via the REST API.
type geminiAdapter struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewGemini creates a Gemini adapter. If apiKey is empty, GEMINI_API_KEY is used.
func NewGemini(apiKey, baseURL, model string) LLMAdapter {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &geminiAdapter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

func (g *geminiAdapter) Info() ModelInfo {
	return ModelInfo{
		Name:               g.model,
		Provider:           ProviderGemini,
		MaxContextWindow:   1000000,
		EmbeddingDimension: 768, // text-embedding-004
	}
}

// ---------- Embedding types ----------

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func (g *geminiAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	const model = "text-embedding-004"
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", g.baseURL, model, g.apiKey)

	results := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body, err := json.Marshal(geminiEmbedRequest{
			Model:   "models/" + model,
			Content: geminiContent{Parts: []geminiPart{{Text: text}}},
		})
		if err != nil {
			return nil, &EmbeddingError{Provider: ProviderGemini, Err: err}
		}

		var result geminiEmbedResponse
		if status, err := g.post(ctx, url, body, &result); err != nil {
			return nil, &EmbeddingError{Provider: ProviderGemini, Status: status, Err: err}
		}
		if len(result.Embedding.Values) == 0 {
			return nil, &EmbeddingError{Provider: ProviderGemini, Err: ErrEmptyResponse}
		}
		results = append(results, result.Embedding.Values)
	}

	return results, nil
}

// ---------- Generation types ----------

// geminiGenerateRequest is the request body for the Gemini generateContent API.
type geminiGenerateRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

// geminiGenerateResponse is the response from the Gemini generateContent API.
type geminiGenerateResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (g *geminiAdapter) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}

	genReq := geminiGenerateRequest{
		GenerationConfig: &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
	if sys := SystemText(req.Messages); sys != "" {
		genReq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sys}}}
	}
	for _, m := range Conversation(req.Messages) {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		genReq.Contents = append(genReq.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return Generation{}, &GenerationError{Provider: ProviderGemini, Err: err}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)
	return g.doGenerate(ctx, url, body)
}

// doGenerate makes a generateContent call and collects the candidate text.
func (g *geminiAdapter) doGenerate(ctx context.Context, url string, body []byte) (Generation, error) {
	var genResp geminiGenerateResponse
	status, err := g.post(ctx, url, body, &genResp)
	if err != nil {
		return Generation{}, &GenerationError{Provider: ProviderGemini, Status: status, Err: err}
	}
	if genResp.Error != nil {
		return Generation{}, &GenerationError{
			Provider: ProviderGemini,
			Status:   genResp.Error.Code,
			Err:      fmt.Errorf("api error: %s", genResp.Error.Message),
		}
	}

	var parts []string
	for _, cand := range genResp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				parts = append(parts, part.Text)
			}
		}
	}
	if len(parts) == 0 {
		return Generation{}, &GenerationError{Provider: ProviderGemini, Err: ErrEmptyResponse}
	}
	return Generation{
		Content:      strings.Join(parts, ""),
		InputTokens:  genResp.UsageMetadata.PromptTokenCount,
		OutputTokens: genResp.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// post sends a JSON body and decodes a JSON response into out. It returns
// the HTTP status (0 when the request never completed).
func (g *geminiAdapter) post(ctx context.Context, url string, body []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(respBody)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode: %w", err)
	}
	return resp.StatusCode, nil
}
