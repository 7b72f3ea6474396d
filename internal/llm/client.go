package llm

import (
	"context"
)

// LLMClient is the reasoning service contract. Generate may fail or time out;
// callers own the timeout via ctx and must treat a timeout like any other
// transport failure.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EmbedderClient is the embedding service contract. Deterministic for
// identical input within one corpus version.
type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
