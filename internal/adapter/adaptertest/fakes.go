// Package adaptertest provides deterministic generators and embedders for
// tests.
package adaptertest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/memvra/recall/internal/adapter"
)

// Generator answers each request with Respond and records every call.
type Generator struct {
	Respond func(req adapter.GenerateRequest) (string, error)

	mu    sync.Mutex
	calls []adapter.GenerateRequest
}

// Reply returns a Generator that always answers text.
func Reply(text string) *Generator {
	return &Generator{Respond: func(adapter.GenerateRequest) (string, error) { return text, nil }}
}

// Generate implements adapter.Generator.
func (g *Generator) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.Generation, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()

	if g.Respond == nil {
		<-ctx.Done()
		return adapter.Generation{}, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return adapter.Generation{}, err
	}
	text, err := g.Respond(req)
	if err != nil {
		return adapter.Generation{}, err
	}
	in := 0
	for _, m := range req.Messages {
		in += len(m.Content) / 4
	}
	return adapter.Generation{Content: text, InputTokens: in, OutputTokens: len(text) / 4}, nil
}

// Calls returns a copy of the recorded requests.
func (g *Generator) Calls() []adapter.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]adapter.GenerateRequest(nil), g.calls...)
}

// ErrUnavailable is the transient failure returned by Failing.
var ErrUnavailable = &adapter.GenerationError{Provider: "fake", Status: 503, Err: errors.New("service unavailable")}

// Failing returns a Generator that always fails with a transient error.
func Failing() *Generator {
	return &Generator{Respond: func(adapter.GenerateRequest) (string, error) { return "", ErrUnavailable }}
}

// Blocking returns a Generator that never answers and waits for ctx to end.
func Blocking() *Generator {
	return &Generator{}
}

// Prompt flattens a request into one string, for assertions.
func Prompt(req adapter.GenerateRequest) string {
	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// HashEmbedder maps each lower-cased word to a bucket of a fixed-size vector
// and normalizes the result. Texts sharing words land close together.
type HashEmbedder struct {
	Dim int

	mu    sync.Mutex
	fail  int
	calls int
}

// NewHashEmbedder returns a HashEmbedder with dim dimensions.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

// FailNext makes the next n Embed calls fail transiently.
func (h *HashEmbedder) FailNext(n int) {
	h.mu.Lock()
	h.fail = n
	h.mu.Unlock()
}

// Calls reports how many times Embed was invoked.
func (h *HashEmbedder) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Embed implements adapter.Embedder.
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	h.calls++
	failing := h.fail > 0
	if failing {
		h.fail--
	}
	h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failing {
		return nil, &adapter.EmbeddingError{Provider: "fake", Status: 503, Err: errors.New("service unavailable")}
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	dim := h.Dim
	if dim <= 0 {
		dim = 64
	}
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		vec[f.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
