package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestCommit_InitialisesAndCommits(t *testing.T) {
	root := t.TempDir()
	write(t, root, "s1/facts/a.md", "user likes tea")
	write(t, root, ".index-snapshot.json", "{}")

	s := New(root, Author{}, nil)
	hash, err := s.Commit(context.Background(), "consolidate s1")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	repo, err := git.PlainOpen(root)
	require.NoError(t, err)
	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	require.NoError(t, err)
	assert.Equal(t, "consolidate s1", commit.Message)
	assert.Equal(t, "memoryd", commit.Author.Name)

	tree, err := commit.Tree()
	require.NoError(t, err)
	_, err = tree.File("s1/facts/a.md")
	assert.NoError(t, err)
	_, err = tree.File(".index-snapshot.json")
	assert.Error(t, err, "the index snapshot is derived data")
}

func TestCommit_CleanTreeIsNoop(t *testing.T) {
	root := t.TempDir()
	write(t, root, "s1/facts/a.md", "user likes tea")
	s := New(root, Author{Name: "bot", Email: "bot@example.com"}, nil)

	first, err := s.Commit(context.Background(), "first")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	again, err := s.Commit(context.Background(), "nothing changed")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestCommit_TracksMovesAndDeletes(t *testing.T) {
	root := t.TempDir()
	write(t, root, "s1/facts/a.md", "user likes tea")
	s := New(root, Author{}, nil)
	_, err := s.Commit(context.Background(), "add")
	require.NoError(t, err)

	// Tombstoning moves the file into the tombstone tree.
	write(t, root, ".tombstones/s1/facts/a.md", "user likes tea")
	require.NoError(t, os.Remove(filepath.Join(root, "s1/facts/a.md")))

	hash, err := s.Commit(context.Background(), "tombstone")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	repo, err := git.PlainOpen(root)
	require.NoError(t, err)
	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	require.NoError(t, err)
	tree, err := commit.Tree()
	require.NoError(t, err)
	_, err = tree.File(".tombstones/s1/facts/a.md")
	assert.NoError(t, err)
	_, err = tree.File("s1/facts/a.md")
	assert.Error(t, err)
}

func TestCommit_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(t.TempDir(), Author{}, nil).Commit(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
