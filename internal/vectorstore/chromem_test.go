package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChromem(t *testing.T, path string) *ChromemIndex {
	t.Helper()
	idx, err := NewChromemIndex(ChromemConfig{Path: path}, &HashEmbedder{Dim: 1024}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func doc(id, scope, kind, content string) Document {
	return Document{ID: id, Scope: scope, Kind: kind, Content: content, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestChromemIndex_UpsertSearch(t *testing.T) {
	idx := newTestChromem(t, "")
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Document{
		doc("a", "s1", "fact", "user loves coffee in the morning"),
		doc("b", "s1", "fact", "user owns a dog named rex"),
		doc("c", "s1", "user_turn", "what should I drink coffee or tea"),
		doc("d", "s2", "fact", "user loves coffee"),
	}))

	hits, err := idx.Search(ctx, "s1", "coffee", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Contains(t, []string{"a", "c"}, hits[0].ID)
	assert.NotEmpty(t, hits[0].Embedding)
	assert.Equal(t, "s1", hits[0].Scope)
	assert.False(t, hits[0].CreatedAt.IsZero())
	assert.GreaterOrEqual(t, hits[0].Similarity, hits[1].Similarity)

	facts, err := idx.Search(ctx, "s1", "coffee", 10, "fact")
	require.NoError(t, err)
	require.Len(t, facts, 2)
	for _, h := range facts {
		assert.Equal(t, "fact", h.Kind)
	}
}

func TestChromemIndex_KLargerThanCollection(t *testing.T) {
	idx := newTestChromem(t, "")
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Document{doc("a", "s1", "fact", "one")}))
	hits, err := idx.Search(ctx, "s1", "one", 15)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestChromemIndex_EmptyScope(t *testing.T) {
	idx := newTestChromem(t, "")

	hits, err := idx.Search(context.Background(), "missing", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, idx.Delete(context.Background(), "missing", "x"))
}

func TestChromemIndex_UpsertOverwritesAndDelete(t *testing.T) {
	idx := newTestChromem(t, "")
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Document{doc("a", "s1", "fact", "user loves coffee")}))
	require.NoError(t, idx.Upsert(ctx, []Document{doc("a", "s1", "fact", "user loves tea")}))

	hits, err := idx.Search(ctx, "s1", "tea", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "user loves tea", hits[0].Content)

	require.NoError(t, idx.Delete(ctx, "s1", "a", "never-existed"))
	hits, err = idx.Search(ctx, "s1", "tea", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemIndex_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx := newTestChromem(t, dir)
	require.NoError(t, idx.Upsert(ctx, []Document{doc("a", "s1", "fact", "persisted fact")}))

	reopened := newTestChromem(t, dir)
	hits, err := reopened.Search(ctx, "s1", "persisted", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestChromemIndex_EmbeddingFailure(t *testing.T) {
	emb := &HashEmbedder{Err: errors.New("tei down")}
	idx, err := NewChromemIndex(ChromemConfig{}, emb, nil)
	require.NoError(t, err)

	err = idx.Upsert(context.Background(), []Document{doc("a", "s1", "fact", "x")})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestNewChromemIndex_RequiresEmbedder(t *testing.T) {
	_, err := NewChromemIndex(ChromemConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity(nil, nil), 1e-9)
}

func TestNewIndex_UnknownProvider(t *testing.T) {
	_, err := NewIndex(config.IndexConfig{Provider: "faiss"}, &HashEmbedder{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
