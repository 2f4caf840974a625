package record

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// TombstoneDir is the root-level directory holding soft-deleted records.
	TombstoneDir = ".tombstones"
	fileExt      = ".md"
	dirPerm      = 0o750
	filePerm     = 0o640
)

// Store persists records on the local filesystem.
//
// Store is safe for concurrent use. Creation timestamps are strictly
// increasing per scope.
type Store struct {
	root   string
	now    func() time.Time
	logger *zap.Logger

	mu   sync.Mutex
	last map[string]time.Time // scope -> last assigned created_at
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore opens (creating if needed) a store rooted at root.
func NewStore(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}

	s := &Store{
		root:   abs,
		now:    time.Now,
		logger: zap.NewNop(),
		last:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string {
	return s.root
}

// Path returns the live file path for a record identity.
func (s *Store) Path(scope string, kind Kind, id string) string {
	return filepath.Join(s.root, scope, kind.Dir(), id+fileExt)
}

// TombstonePath returns the tombstone file path for a record identity.
func (s *Store) TombstonePath(scope string, kind Kind, id string) string {
	return filepath.Join(s.root, TombstoneDir, scope, kind.Dir(), id+fileExt)
}

// Create writes a new record with a fresh id and the next created_at for
// the scope.
func (s *Store) Create(ctx context.Context, scope string, kind Kind, content string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	createdAt, err := s.nextTimestamp(scope)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:        uuid.New().String(),
		Scope:     scope,
		Kind:      kind,
		CreatedAt: createdAt,
		Content:   content,
	}
	if err := s.write(s.Path(scope, kind, rec.ID), rec); err != nil {
		return nil, err
	}

	s.logger.Debug("record created",
		zap.String("scope", scope),
		zap.String("kind", string(kind)),
		zap.String("id", rec.ID))
	return rec, nil
}

// nextTimestamp returns now, bumped past the last timestamp issued for scope.
func (s *Store) nextTimestamp(scope string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.last[scope]
	if !ok {
		recs, err := s.List(scope)
		if err != nil {
			return time.Time{}, err
		}
		if n := len(recs); n > 0 {
			last = recs[n-1].CreatedAt
		}
	}

	t := s.now().UTC()
	if !t.After(last) {
		t = last.Add(time.Nanosecond)
	}
	s.last[scope] = t
	return t, nil
}

// Get returns the live record with the given id.
func (s *Store) Get(scope, id string) (*Record, error) {
	path, err := s.find(scope, id, false)
	if err != nil {
		return nil, err
	}
	return s.Load(path)
}

// GetTombstone returns the tombstoned copy of a record.
func (s *Store) GetTombstone(scope, id string) (*Record, error) {
	path, err := s.find(scope, id, true)
	if err != nil {
		return nil, err
	}
	rec, err := s.readFile(path)
	if err != nil {
		return nil, err
	}
	rec.ID, rec.Scope = id, scope
	return rec, nil
}

func (s *Store) find(scope, id string, tombstone bool) (string, error) {
	if err := ValidateScope(scope); err != nil {
		return "", err
	}
	if err := validateID(id); err != nil {
		return "", err
	}
	for _, kind := range AllKinds {
		path := s.Path(scope, kind, id)
		if tombstone {
			path = s.TombstonePath(scope, kind, id)
		}
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrNotFound, scope, id)
}

// Tombstone moves a live record into the tombstone tree. replacedBy is
// recorded when the record was superseded by an update.
func (s *Store) Tombstone(ctx context.Context, scope, id, replacedBy string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.Get(scope, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec.ReplacedBy = replacedBy
	rec.TombstonedAt = &now

	if err := s.write(s.TombstonePath(scope, rec.Kind, id), rec); err != nil {
		return nil, fmt.Errorf("write tombstone: %w", err)
	}
	if err := os.Remove(s.Path(scope, rec.Kind, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove live record: %w", err)
	}

	s.logger.Debug("record tombstoned",
		zap.String("scope", scope),
		zap.String("id", id),
		zap.String("replaced_by", replacedBy))
	return rec, nil
}

// List returns live records of the given kinds (all kinds when none are
// given), oldest first. Unparseable files are logged and skipped.
func (s *Store) List(scope string, kinds ...Kind) ([]*Record, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	if len(kinds) == 0 {
		kinds = AllKinds
	}

	var out []*Record
	for _, kind := range kinds {
		dir := filepath.Join(s.root, scope, kind.Dir())
		names, err := recordFiles(dir)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			rec, err := s.Load(filepath.Join(dir, name))
			if err != nil {
				s.logger.Warn("skipping unreadable record",
					zap.String("path", filepath.Join(dir, name)),
					zap.Error(err))
				continue
			}
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Count returns the number of live records of the given kinds without
// parsing them.
func (s *Store) Count(scope string, kinds ...Kind) (int, error) {
	if err := ValidateScope(scope); err != nil {
		return 0, err
	}
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	total := 0
	for _, kind := range kinds {
		names, err := recordFiles(filepath.Join(s.root, scope, kind.Dir()))
		if err != nil {
			return 0, err
		}
		total += len(names)
	}
	return total, nil
}

// Scopes lists every scope that has a directory in the store.
func (s *Store) Scopes() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read store root: %w", err)
	}
	var scopes []string
	for _, e := range entries {
		if e.IsDir() && ValidateScope(e.Name()) == nil {
			scopes = append(scopes, e.Name())
		}
	}
	return scopes, nil
}

// Walk calls fn for every live record in every scope.
func (s *Store) Walk(fn func(*Record) error) error {
	scopes, err := s.Scopes()
	if err != nil {
		return err
	}
	for _, scope := range scopes {
		recs, err := s.List(scope)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Locate maps a path inside the store to the identity of a live record.
// Tombstones, temp files and anything outside the layout are rejected.
func (s *Store) Locate(path string) (scope string, kind Kind, id string, ok bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return "", "", "", false
	}
	if ValidateScope(parts[0]) != nil {
		return "", "", "", false
	}
	k, found := kindFromDir(parts[1])
	if !found || !isRecordFile(parts[2]) {
		return "", "", "", false
	}
	name := strings.TrimSuffix(parts[2], fileExt)
	if validateID(name) != nil {
		return "", "", "", false
	}
	return parts[0], k, name, true
}

// Load parses a record file. Identity fields are taken from the path when it
// lies inside the store layout, so hand-written files without a header are
// accepted. A missing created_at falls back to the file's mtime.
func (s *Store) Load(path string) (*Record, error) {
	rec, err := s.readFile(path)
	if err != nil {
		return nil, err
	}
	if scope, kind, id, ok := s.Locate(path); ok {
		rec.Scope, rec.Kind, rec.ID = scope, kind, id
	}
	if rec.ID == "" || rec.Scope == "" || !rec.Kind.Valid() {
		return nil, fmt.Errorf("%w: %s has no identity", ErrMalformed, path)
	}
	if rec.CreatedAt.IsZero() {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat record: %w", err)
		}
		rec.CreatedAt = info.ModTime().UTC()
	}
	return rec, nil
}

func (s *Store) readFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	rec, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rec, nil
}

// write atomically replaces path with the encoded record.
func (s *Store) write(path string, rec *Record) error {
	data, err := rec.Marshal()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

func recordFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && isRecordFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func isRecordFile(name string) bool {
	return strings.HasSuffix(name, fileExt) && !strings.HasPrefix(name, ".")
}
