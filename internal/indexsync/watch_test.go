package indexsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 20 * time.Millisecond
)

func TestWatch_IndexesHandWrittenFiles(t *testing.T) {
	root := t.TempDir()
	f := newFixture(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.sync.Watch(ctx))

	// A scope directory that did not exist when watching started.
	dir := filepath.Join(root, "s1", record.KindFact.Dir())
	require.NoError(t, os.MkdirAll(dir, 0o750))
	path := filepath.Join(dir, "hand-written.md")
	require.NoError(t, os.WriteFile(path, []byte("user likes espresso"), 0o640))

	require.Eventually(t, func() bool {
		return f.sync.Indexed("hand-written")
	}, waitFor, tick)
	hits := f.search(t, "s1", "espresso")
	require.Len(t, hits, 1)
	assert.Equal(t, "user likes espresso", hits[0].Content)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return !f.sync.Indexed("hand-written")
	}, waitFor, tick)
	assert.Empty(t, f.search(t, "s1", "espresso"))
}

func TestWatch_IgnoresTombstonesAndTempFiles(t *testing.T) {
	root := t.TempDir()
	f := newFixture(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec, err := f.store.Create(ctx, "s1", record.KindFact, "likes coffee")
	require.NoError(t, err)
	require.NoError(t, f.sync.Apply(ctx, rec))
	require.NoError(t, f.sync.Watch(ctx))

	// Tombstoning moves the file into .tombstones; only the removal counts.
	require.NoError(t, f.sync.Remove(ctx, "s1", rec.ID))
	_, err = f.store.Tombstone(ctx, "s1", rec.ID, "")
	require.NoError(t, err)

	tmp := filepath.Join(root, "s1", record.KindFact.Dir(), ".tmp-123")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o640))

	time.Sleep(150 * time.Millisecond)
	assert.False(t, f.sync.Indexed(rec.ID))
	assert.Empty(t, f.search(t, "s1", "coffee"))
	assert.Empty(t, f.search(t, "s1", "partial"))
}

func TestWatch_Twice(t *testing.T) {
	f := newFixture(t, t.TempDir())
	ctx := context.Background()
	require.NoError(t, f.sync.Watch(ctx))
	assert.Error(t, f.sync.Watch(ctx))
	require.NoError(t, f.sync.Close())
	require.NoError(t, f.sync.Close())
}

func TestIgnored(t *testing.T) {
	f := newFixture(t, t.TempDir())
	root := f.store.Root()
	tests := []struct {
		path string
		want bool
	}{
		{root, false},
		{filepath.Join(root, "s1"), false},
		{filepath.Join(root, "s1", "facts", "x.md"), false},
		{filepath.Join(root, ".tombstones", "s1", "facts", "x.md"), true},
		{filepath.Join(root, SnapshotFile), true},
		{filepath.Join(root, ".git", "HEAD"), true},
		{filepath.Join(root, "s1", "facts", ".tmp-1"), true},
		{filepath.Join(filepath.Dir(root), "elsewhere"), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.sync.ignored(tt.path), tt.path)
	}
}
