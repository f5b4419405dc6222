package embedding

import (
	"container/list"
	"context"
	"io"
	"sync"
)

// Cache stores embeddings keyed by text. Implementations swallow their own
// backend errors: a cache failure is a miss, never a failed embedding.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, value []float32)
}

// LRUCache is an in-process least-recently-used cache.
type LRUCache struct {
	capacity int
	entries  map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewLRUCache creates a cache holding at most capacity embeddings.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for key and marks it recently used.
func (c *LRUCache) Get(_ context.Context, key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry).value, true
}

// Set stores the embedding for key, evicting the oldest entry if at capacity.
func (c *LRUCache) Set(_ context.Context, key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, value: value})
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached embeddings.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// TieredCache reads through a fast local cache before a shared one and
// back-fills the local cache on shared hits.
type TieredCache struct {
	local  Cache
	shared Cache
}

// NewTieredCache layers local over shared.
func NewTieredCache(local, shared Cache) *TieredCache {
	return &TieredCache{local: local, shared: shared}
}

// Get checks local first, then shared.
func (c *TieredCache) Get(ctx context.Context, key string) ([]float32, bool) {
	if v, ok := c.local.Get(ctx, key); ok {
		return v, true
	}
	v, ok := c.shared.Get(ctx, key)
	if ok {
		c.local.Set(ctx, key, v)
	}
	return v, ok
}

// Set writes both tiers.
func (c *TieredCache) Set(ctx context.Context, key string, value []float32) {
	c.local.Set(ctx, key, value)
	c.shared.Set(ctx, key, value)
}

// Close closes the shared tier when it holds a connection.
func (c *TieredCache) Close() error {
	if closer, ok := c.shared.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
