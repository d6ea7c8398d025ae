package retrieval

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedEmbedder memoizes query embeddings. Users ask the same handful of
// questions ("연차", "근로수당") over and over; each hit saves a round trip
// to the embedding endpoint.
type CachedEmbedder struct {
	next  EmbeddingProvider
	cache *ristretto.Cache[string, EmbeddingVector]
	ttl   time.Duration
}

// NewCachedEmbedder wraps next with a cache of at most maxEntries vectors.
// ttl <= 0 keeps entries until evicted.
func NewCachedEmbedder(next EmbeddingProvider, maxEntries int64, ttl time.Duration) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, EmbeddingVector]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache, ttl: ttl}, nil
}

// Embed returns a cached vector or computes and caches one. Errors are not cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (EmbeddingVector, error) {
	if v, ok := c.cache.Get(text); ok {
		return slices.Clone(v), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(v) > 0 {
		c.cache.SetWithTTL(text, slices.Clone(v), 1, c.ttl)
		c.cache.Wait()
	}
	return v, nil
}

// Close stops the cache's background goroutines.
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
