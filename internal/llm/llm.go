// Package llm provides the model-provider clients used by the planner:
// chat completions for the LLM strategy and embeddings for precedent
// lookup over goal vectors.
package llm

import (
	"context"

	"github.com/pgvector/pgvector-go"
)

// Completer produces a chat completion for a system/user prompt pair.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Embedder converts text into a vector embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
	// Dimensions returns the vector size this embedder produces.
	Dimensions() int
}
