package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder memoizes query embeddings. Chunk embeddings pass through:
// ingestion rarely repeats, generation repeats the same queries often.
type CachedEmbedder struct {
	Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps e with an LRU of the given capacity.
func NewCachedEmbedder(e Embedder, capacity int) (*CachedEmbedder, error) {
	cache, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{Embedder: e, cache: cache}, nil
}

// EmbedQuery returns the cached vector or computes and stores it.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if v, ok := c.cache.Get(query); ok {
		return v, nil
	}
	v, err := c.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Add(query, v)
	return v, nil
}

// Len returns the number of cached queries.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}
