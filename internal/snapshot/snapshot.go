// Package snapshot commits the record directory to a local git repository
// so every background maintenance pass leaves an auditable history.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// ignorePatterns keeps derived and in-flight files out of history.
const ignorePatterns = ".index-snapshot.json\n.tmp-*\n"

// Author identifies the committer.
type Author struct {
	Name  string
	Email string
}

// Snapshotter commits a directory tree.
type Snapshotter struct {
	root   string
	author Author
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	repo *git.Repository
}

// New creates a Snapshotter for root. The repository is opened or
// initialised lazily on the first commit.
func New(root string, author Author, logger *zap.Logger) *Snapshotter {
	if author.Name == "" {
		author.Name = "memoryd"
	}
	if author.Email == "" {
		author.Email = "memoryd@localhost"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{root: root, author: author, logger: logger, now: time.Now}
}

// FromAppConfig creates a Snapshotter from the snapshot config section.
func FromAppConfig(root string, c config.SnapshotConfig, logger *zap.Logger) *Snapshotter {
	return New(root, Author{Name: c.AuthorName, Email: c.AuthorEmail}, logger)
}

// Commit stages every change under root and commits it with message. It
// returns the new commit hash, or "" when the worktree was clean.
func (s *Snapshotter) Commit(ctx context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo, err := s.open()
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		return "", nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		All: true,
		Author: &object.Signature{
			Name:  s.author.Name,
			Email: s.author.Email,
			When:  s.now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("record snapshot committed",
		zap.String("hash", hash.String()),
		zap.Int("changes", len(status)))
	return hash.String(), nil
}

func (s *Snapshotter) open() (*git.Repository, error) {
	if s.repo != nil {
		return s.repo, nil
	}
	repo, err := git.PlainOpen(s.root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(s.root, false)
		if err == nil {
			err = os.WriteFile(filepath.Join(s.root, ".gitignore"), []byte(ignorePatterns), 0o600)
		}
		if err == nil {
			s.logger.Info("initialised record snapshot repository", zap.String("root", s.root))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", s.root, err)
	}
	s.repo = repo
	return repo, nil
}
