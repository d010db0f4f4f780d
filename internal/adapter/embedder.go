package adapter

import "context"

// Embedder is a narrower interface for components that only need embedding,
// not chat generation. An LLMAdapter satisfies this interface.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, &EmbeddingError{Err: ErrEmptyResponse}
	}
	return vecs[0], nil
}
