// Package embedding turns mail text into vectors for the retrieval store.
package embedding

import (
	"context"
	"errors"
)

// ErrEmbedding marks a failed embedding call.
var ErrEmbedding = errors.New("embedding failed")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
