package llm

import (
	"context"

	"github.com/pgvector/pgvector-go"
)

// NoopCompleter always instructs the caller to finish immediately.
// Used when no API key is configured so the LLM strategy degrades to a
// single final step instead of failing.
type NoopCompleter struct{}

// Complete returns a finish decision.
func (NoopCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	return `{"final": "no language model configured"}`, nil
}

// NoopEmbedder returns zero vectors. Used when no API key is configured.
type NoopEmbedder struct {
	dims int
}

// NewNoopEmbedder creates an embedder that returns zero vectors.
func NewNoopEmbedder(dims int) *NoopEmbedder {
	return &NoopEmbedder{dims: dims}
}

// Dimensions returns the embedding vector size.
func (e *NoopEmbedder) Dimensions() int {
	return e.dims
}

// Embed returns a zero vector.
func (e *NoopEmbedder) Embed(_ context.Context, _ string) (pgvector.Vector, error) {
	return pgvector.NewVector(make([]float32, e.dims)), nil
}
