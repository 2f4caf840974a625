package embeddings

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	vectorstore.HashEmbedder
	queries atomic.Int32
	closed  bool
}

func (c *countingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	c.queries.Add(1)
	return c.HashEmbedder.EmbedQuery(ctx, text)
}

func (c *countingProvider) Close() error {
	c.closed = true
	return nil
}

func TestCachedProvider_MemoizesQueries(t *testing.T) {
	inner := &countingProvider{}
	p, err := NewCachedProvider(inner, 16)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := p.EmbedQuery(ctx, "coffee")
	require.NoError(t, err)
	p.cache.Wait()

	second, err := p.EmbedQuery(ctx, "coffee")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.queries.Load())
	assert.Equal(t, 64, p.Dimension())

	require.NoError(t, p.Close())
	assert.True(t, inner.closed)
}

func TestCachedProvider_ErrorsAreNotCached(t *testing.T) {
	inner := &countingProvider{HashEmbedder: vectorstore.HashEmbedder{Err: errors.New("down")}}
	p, err := NewCachedProvider(inner, 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	_, err = p.EmbedQuery(context.Background(), "coffee")
	require.Error(t, err)
	p.cache.Wait()
	_, err = p.EmbedQuery(context.Background(), "coffee")
	require.Error(t, err)
	assert.Equal(t, int32(2), inner.queries.Load())
}

func TestNewCachedProvider_RejectsZeroSize(t *testing.T) {
	_, err := NewCachedProvider(&countingProvider{}, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
