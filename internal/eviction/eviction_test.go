package eviction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	mu      sync.Mutex
	removed []string
	fail    map[string]bool
}

func (f *fakeIndex) Remove(ctx context.Context, scope, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[id] {
		return errors.New("index unavailable")
	}
	f.removed = append(f.removed, id)
	return nil
}

func seed(t *testing.T, store *record.Store, scope string, n int) []*record.Record {
	t.Helper()
	kinds := []record.Kind{record.KindUserTurn, record.KindAssistantTurn, record.KindFact}
	out := make([]*record.Record, n)
	for i := 0; i < n; i++ {
		rec, err := store.Create(context.Background(), scope, kinds[i%len(kinds)], fmt.Sprintf("record %d", i))
		require.NoError(t, err)
		out[i] = rec
	}
	return out
}

func TestEvict_RemovesExactlyTheOldest(t *testing.T) {
	store, err := record.NewStore(t.TempDir())
	require.NoError(t, err)
	recs := seed(t, store, "s1", 501)
	_, err = store.Create(context.Background(), "s1", record.KindSummary, "summary")
	require.NoError(t, err)

	idx := &fakeIndex{}
	m := New(store, idx, 500, nil)

	evicted, err := m.Evict(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{recs[0].ID}, evicted)
	assert.Equal(t, []string{recs[0].ID}, idx.removed)

	n, err := store.Count("s1", evictable...)
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	_, err = store.GetTombstone("s1", recs[0].ID)
	require.NoError(t, err)
	_, err = store.Get("s1", recs[1].ID)
	require.NoError(t, err)

	sums, err := store.Count("s1", record.KindSummary)
	require.NoError(t, err)
	assert.Equal(t, 1, sums)
}

func TestEvict_UnderCapacity(t *testing.T) {
	store, err := record.NewStore(t.TempDir())
	require.NoError(t, err)
	seed(t, store, "s1", 3)
	for i := 0; i < 5; i++ {
		_, err := store.Create(context.Background(), "s1", record.KindSummary, "s")
		require.NoError(t, err)
	}

	evicted, err := New(store, &fakeIndex{}, 3, nil).Evict(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, evicted)

	evicted, err = New(store, &fakeIndex{}, 0, nil).Evict(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, evicted)
}

func TestEvict_SkipsFailures(t *testing.T) {
	store, err := record.NewStore(t.TempDir())
	require.NoError(t, err)
	recs := seed(t, store, "s1", 5)

	idx := &fakeIndex{fail: map[string]bool{recs[0].ID: true}}
	evicted, err := New(store, idx, 2, nil).Evict(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{recs[1].ID, recs[2].ID, recs[3].ID}, evicted)

	_, err = store.Get("s1", recs[0].ID)
	assert.NoError(t, err, "a record that failed to deindex stays live")
}

func TestEvict_InvalidScope(t *testing.T) {
	store, err := record.NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = New(store, &fakeIndex{}, 1, nil).Evict(context.Background(), "../etc")
	assert.ErrorIs(t, err, record.ErrInvalidScope)
}
