package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/config"
	"go.uber.org/zap"
)

// NewFromConfig builds the configured embedder behind a local LRU cache,
// layered over Redis when a redis url is set. An unreachable Redis only
// disables the shared tier.
func NewFromConfig(ctx context.Context, cfg *config.Config, httpClient *http.Client, logger *zap.Logger) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	ec := &cfg.Embedding
	switch ec.Provider {
	case "ollama":
		inner, err = NewOllamaEmbedder(cfg.LLM.URL, ec.Model, ec.Dimensions, httpClient)
	case "onnx":
		inner, err = NewONNXEmbedder(ec.ModelPath, ec.Dimensions, ec.MaxTokens)
	case "mock":
		inner = NewMockEmbedder(ec.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", ec.Provider)
	}
	if err != nil {
		return nil, err
	}

	var cache Cache = NewLRUCache(ec.CacheSize)
	if ec.RedisURL != "" {
		ttl := time.Duration(ec.CacheTTLSeconds) * time.Second
		shared, err := NewRedisCache(ctx, ec.RedisURL, ttl, WithRedisLogger(logger))
		if err != nil {
			logger.Warn("shared embedding cache disabled", zap.Error(err))
		} else {
			cache = NewTieredCache(cache, shared)
		}
	}
	return NewCachedEmbedder(inner, cache, ec.Provider+"/"+ec.Model), nil
}
