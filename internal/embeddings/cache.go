package embeddings

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedProvider memoizes query embeddings. Document embeddings pass
// through uncached since each record is embedded once per content hash.
type CachedProvider struct {
	Provider
	cache   *ristretto.Cache
	metrics *Metrics
}

// NewCachedProvider wraps p with a cache holding up to size query vectors.
func NewCachedProvider(p Provider, size int) (*CachedProvider, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: cache size must be positive", ErrInvalidConfig)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &CachedProvider{Provider: p, cache: cache, metrics: NewMetrics(nil)}, nil
}

// EmbedQuery returns the cached vector for text or computes and stores it.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		c.metrics.RecordCacheHit(ctx)
		return v.([]float32), nil
	}
	vec, err := c.Provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, 1)
	return vec, nil
}

// Close closes the cache and the wrapped provider.
func (c *CachedProvider) Close() error {
	c.cache.Close()
	return c.Provider.Close()
}
