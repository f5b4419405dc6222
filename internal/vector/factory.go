package vector

import (
	"context"
	"fmt"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/config"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/embedding"
	"go.uber.org/zap"
)

// Backend names a Store implementation.
type Backend string

const (
	// BackendMemory keeps vectors in process, optionally snapshotted to disk.
	BackendMemory Backend = "memory"
	// BackendPostgres uses one pgvector table per tenant.
	BackendPostgres Backend = "postgres"
	// BackendQdrant uses one Qdrant collection per tenant.
	BackendQdrant Backend = "qdrant"
)

// NewStore creates the configured backend. A memory store loads its snapshot
// when a snapshot path is set.
func NewStore(ctx context.Context, cfg *config.VectorConfig, embedder embedding.Embedder, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch Backend(cfg.Backend) {
	case BackendMemory, "":
		s := NewMemoryStore(embedder)
		if err := s.Load(cfg.SnapshotPath); err != nil {
			return nil, fmt.Errorf("load vector snapshot: %w", err)
		}
		return s, nil
	case BackendPostgres:
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("vector backend postgres requires postgres_url")
		}
		s, err := NewPostgresStore(ctx, cfg.PostgresURL, embedder, WithPostgresLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendQdrant:
		s, err := NewQdrantStore(ctx, cfg.QdrantAddr(), embedder, WithQdrantLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: memory, postgres, qdrant)", cfg.Backend)
	}
}
