package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// CachedEmbedder wraps an Embedder with a Cache. Keys are prefixed with the
// model name so that switching models never serves stale vectors.
type CachedEmbedder struct {
	inner  Embedder
	cache  Cache
	prefix string
}

// NewCachedEmbedder returns inner behind cache.
func NewCachedEmbedder(inner Embedder, cache Cache, model string) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache, prefix: model + ":"}
}

// Embed returns the cached vector or computes and stores it.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(ctx, e.prefix+text); ok {
		return v, nil
	}
	v, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, e.prefix+text, v)
	return v, nil
}

// EmbedBatch embeds only the cache misses, in one inner batch call.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if v, ok := e.cache.Get(ctx, e.prefix+text); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		e.cache.Set(ctx, e.prefix+texts[i], vecs[j])
	}
	return out, nil
}

// Dimensions returns the inner embedder's dimension.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close closes the inner embedder and the cache when it holds a connection.
func (e *CachedEmbedder) Close() error {
	err := e.inner.Close()
	if c, ok := e.cache.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
