package record

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), opts...)
	require.NoError(t, err)
	return s
}

// fixedClock always returns the same instant so every timestamp must be bumped.
func fixedClock() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "s1", KindFact, "user loves coffee")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "s1", rec.Scope)
	assert.Equal(t, KindFact, rec.Kind)
	assert.FileExists(t, filepath.Join(s.Root(), "s1", "facts", rec.ID+".md"))

	got, err := s.Get("s1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "user loves coffee", got.Content)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, rec.Hash(), got.Hash())
}

func TestStore_CreateValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "../escape", KindFact, "x")
	assert.ErrorIs(t, err, ErrInvalidScope)

	_, err = s.Create(ctx, ".tombstones", KindFact, "x")
	assert.ErrorIs(t, err, ErrInvalidScope)

	_, err = s.Create(ctx, "s1", Kind("note"), "x")
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = s.Get("s1", "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestStore_CreatedAtStrictlyIncreasing(t *testing.T) {
	s := newTestStore(t, WithClock(fixedClock))
	ctx := context.Background()

	var prev time.Time
	for i := 0; i < 20; i++ {
		rec, err := s.Create(ctx, "s1", KindUserTurn, "turn")
		require.NoError(t, err)
		assert.True(t, rec.CreatedAt.After(prev), "created_at must increase")
		prev = rec.CreatedAt
	}

	recs, err := s.List("s1")
	require.NoError(t, err)
	require.Len(t, recs, 20)
	for i := 1; i < len(recs); i++ {
		assert.True(t, recs[i].CreatedAt.After(recs[i-1].CreatedAt))
	}
}

func TestStore_CreatedAtSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s1, err := NewStore(root, WithClock(fixedClock))
	require.NoError(t, err)
	first, err := s1.Create(ctx, "s1", KindFact, "a")
	require.NoError(t, err)
	second, err := s1.Create(ctx, "s1", KindFact, "b")
	require.NoError(t, err)

	s2, err := NewStore(root, WithClock(fixedClock))
	require.NoError(t, err)
	third, err := s2.Create(ctx, "s1", KindFact, "c")
	require.NoError(t, err)

	assert.True(t, second.CreatedAt.After(first.CreatedAt))
	assert.True(t, third.CreatedAt.After(second.CreatedAt))
}

func TestStore_ConcurrentCreateSameScope(t *testing.T) {
	s := newTestStore(t, WithClock(fixedClock))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create(ctx, "s1", KindFact, "fact")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	recs, err := s.List("s1", KindFact)
	require.NoError(t, err)
	require.Len(t, recs, 16)
	seen := make(map[time.Time]bool)
	for _, r := range recs {
		assert.False(t, seen[r.CreatedAt], "duplicate created_at")
		seen[r.CreatedAt] = true
	}
}

func TestStore_TombstonePreservesFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old, err := s.Create(ctx, "s1", KindFact, "user loves coffee")
	require.NoError(t, err)
	repl, err := s.Create(ctx, "s1", KindFact, "user loves espresso")
	require.NoError(t, err)

	tomb, err := s.Tombstone(ctx, "s1", old.ID, repl.ID)
	require.NoError(t, err)
	assert.True(t, tomb.Tombstoned())
	assert.Equal(t, repl.ID, tomb.ReplacedBy)

	_, err = s.Get("s1", old.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	path := filepath.Join(s.Root(), TombstoneDir, "s1", "facts", old.ID+".md")
	assert.FileExists(t, path)

	got, err := s.GetTombstone("s1", old.ID)
	require.NoError(t, err)
	assert.Equal(t, old.ID, got.ID)
	assert.Equal(t, "user loves coffee", got.Content)
	assert.Equal(t, repl.ID, got.ReplacedBy)
	require.NotNil(t, got.TombstonedAt)

	n, err := s.Count("s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "tombstones are excluded from counts")

	_, err = s.Tombstone(ctx, "s1", old.ID, "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ListFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "s1", KindUserTurn, "hi")
	require.NoError(t, err)
	_, err = s.Create(ctx, "s1", KindFact, "f1")
	require.NoError(t, err)
	_, err = s.Create(ctx, "s1", KindSummary, "sum")
	require.NoError(t, err)
	_, err = s.Create(ctx, "s2", KindFact, "other scope")
	require.NoError(t, err)

	all, err := s.List("s1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "hi", all[0].Content)
	assert.Equal(t, "sum", all[2].Content)

	facts, err := s.List("s1", KindFact)
	require.NoError(t, err)
	require.Len(t, facts, 1)

	n, err := s.Count("s1", KindFact, KindUserTurn, KindAssistantTurn)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	empty, err := s.List("nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)

	scopes, err := s.Scopes()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, scopes)

	var walked int
	require.NoError(t, s.Walk(func(*Record) error { walked++; return nil }))
	assert.Equal(t, 4, walked)
}

func TestStore_Locate(t *testing.T) {
	s := newTestStore(t)
	root := s.Root()

	tests := []struct {
		name  string
		path  string
		ok    bool
		scope string
		kind  Kind
		id    string
	}{
		{"fact", filepath.Join(root, "s1", "facts", "abc.md"), true, "s1", KindFact, "abc"},
		{"summary", filepath.Join(root, "g", "summaries", "x-1.md"), true, "g", KindSummary, "x-1"},
		{"tombstone", filepath.Join(root, TombstoneDir, "s1", "facts", "abc.md"), false, "", "", ""},
		{"temp file", filepath.Join(root, "s1", "facts", ".tmp-123"), false, "", "", ""},
		{"unknown dir", filepath.Join(root, "s1", "notes", "abc.md"), false, "", "", ""},
		{"wrong ext", filepath.Join(root, "s1", "facts", "abc.txt"), false, "", "", ""},
		{"snapshot", filepath.Join(root, ".index-snapshot.json"), false, "", "", ""},
		{"outside", "/etc/passwd", false, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, kind, id, ok := s.Locate(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.scope, scope)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestStore_LoadHandWrittenFile(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.Root(), "s1", "facts")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	path := filepath.Join(dir, "manual-1.md")
	require.NoError(t, os.WriteFile(path, []byte("user prefers tea\n"), 0o640))

	rec, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "manual-1", rec.ID)
	assert.Equal(t, "s1", rec.Scope)
	assert.Equal(t, KindFact, rec.Kind)
	assert.Equal(t, "user prefers tea\n", rec.Content)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.Get("s1", "manual-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
}

func TestStore_NoTempFilesLeftBehind(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(context.Background(), "s1", KindFact, "x")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(s.Root(), "s1", "facts"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".md", filepath.Ext(entries[0].Name()))
}
