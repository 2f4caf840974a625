// Package indexsync keeps the vector index consistent with the record
// store. The store is the source of truth; a durable snapshot of what the
// index holds lets reconciliation run as a cheap diff.
package indexsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("memoryd.indexsync")

const upsertBatchSize = 64

// Stats reports what a reconciliation changed.
type Stats struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Changed reports whether anything was written to the index.
func (s Stats) Changed() bool {
	return s.Added+s.Updated+s.Deleted > 0
}

// Syncer applies record changes to the index and tracks them in the
// snapshot. All mutations are serialized.
type Syncer struct {
	store    *record.Store
	index    vectorstore.Index
	logger   *zap.Logger
	debounce time.Duration

	mu   sync.Mutex
	snap *Snapshot

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	timers  map[string]*time.Timer
	pending sync.WaitGroup
	done    chan struct{}
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDebounce sets the per-path quiet period used by Watch.
func WithDebounce(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// New creates a Syncer. A corrupt snapshot is discarded, which makes the
// next Reconcile re-upsert every live record.
func New(store *record.Store, index vectorstore.Index, opts ...Option) (*Syncer, error) {
	if store == nil || index == nil {
		return nil, errors.New("indexsync: store and index are required")
	}
	s := &Syncer{
		store:    store,
		index:    index,
		logger:   zap.NewNop(),
		debounce: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	path := filepath.Join(store.Root(), SnapshotFile)
	snap, err := LoadSnapshot(path)
	if errors.Is(err, ErrCorruptSnapshot) {
		s.logger.Warn("discarding corrupt index snapshot", zap.String("path", path), zap.Error(err))
		snap, err = &Snapshot{path: path, entries: make(map[string]Entry)}, nil
	}
	if err != nil {
		return nil, err
	}
	s.snap = snap
	return s, nil
}

// Reconcile diffs the store against the snapshot and brings the index up
// to date. Running it twice without intervening writes reports no changes.
func (s *Syncer) Reconcile(ctx context.Context) (Stats, error) {
	ctx, span := tracer.Start(ctx, "Syncer.Reconcile")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[string]*record.Record)
	if err := s.store.Walk(func(r *record.Record) error {
		live[r.ID] = r
		return nil
	}); err != nil {
		return Stats{}, fmt.Errorf("walk store: %w", err)
	}

	var stats Stats
	defer func() {
		span.SetAttributes(
			attribute.Int("added", stats.Added),
			attribute.Int("updated", stats.Updated),
			attribute.Int("deleted", stats.Deleted),
			attribute.Int("unchanged", stats.Unchanged),
		)
	}()

	// Deletions, grouped by scope.
	stale := make(map[string][]string)
	for _, id := range s.snap.IDs() {
		if _, ok := live[id]; ok {
			continue
		}
		e, _ := s.snap.Get(id)
		stale[e.Scope] = append(stale[e.Scope], id)
	}
	for scope, ids := range stale {
		if err := s.index.Delete(ctx, scope, ids...); err != nil {
			return stats, s.saveAfter(fmt.Errorf("delete stale ids from %s: %w", scope, err))
		}
		for _, id := range ids {
			s.snap.Delete(id)
		}
		stats.Deleted += len(ids)
	}

	// Upserts.
	var (
		batch []*record.Record
		isNew = make(map[string]bool)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.index.Upsert(ctx, documents(batch)); err != nil {
			return err
		}
		for _, r := range batch {
			s.snap.Set(r.ID, Entry{Scope: r.Scope, Hash: r.Hash()})
			if isNew[r.ID] {
				stats.Added++
			} else {
				stats.Updated++
			}
		}
		batch = batch[:0]
		return nil
	}

	for _, r := range sortedRecords(live) {
		e, known := s.snap.Get(r.ID)
		switch {
		case !known:
			isNew[r.ID] = true
		case e.Scope == r.Scope && e.Hash == r.Hash():
			stats.Unchanged++
			continue
		case e.Scope != r.Scope:
			if err := s.index.Delete(ctx, e.Scope, r.ID); err != nil {
				return stats, s.saveAfter(fmt.Errorf("delete moved id %s: %w", r.ID, err))
			}
		}
		batch = append(batch, r)
		if len(batch) >= upsertBatchSize {
			if err := flush(); err != nil {
				return stats, s.saveAfter(fmt.Errorf("upsert records: %w", err))
			}
		}
	}
	if err := flush(); err != nil {
		return stats, s.saveAfter(fmt.Errorf("upsert records: %w", err))
	}

	if err := s.snap.Save(); err != nil {
		return stats, err
	}
	s.logger.Info("index reconciled",
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("deleted", stats.Deleted),
		zap.Int("unchanged", stats.Unchanged))
	return stats, nil
}

// saveAfter persists partial progress and returns err.
func (s *Syncer) saveAfter(err error) error {
	if serr := s.snap.Save(); serr != nil {
		s.logger.Warn("saving snapshot after failed reconcile", zap.Error(serr))
	}
	return err
}

// Apply indexes rec unless the snapshot already holds the same content.
func (s *Syncer) Apply(ctx context.Context, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := rec.Hash()
	e, known := s.snap.Get(rec.ID)
	if known && e.Scope == rec.Scope && e.Hash == hash {
		return nil
	}
	if known && e.Scope != rec.Scope {
		if err := s.index.Delete(ctx, e.Scope, rec.ID); err != nil {
			return fmt.Errorf("delete moved id %s: %w", rec.ID, err)
		}
	}
	if err := s.index.Upsert(ctx, documents([]*record.Record{rec})); err != nil {
		return fmt.Errorf("index record %s: %w", rec.ID, err)
	}
	s.snap.Set(rec.ID, Entry{Scope: rec.Scope, Hash: hash})
	return s.snap.Save()
}

// Remove deletes id from the index. Removing an unknown id is a no-op
// apart from the index call.
func (s *Syncer) Remove(ctx context.Context, scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, known := s.snap.Get(id); known && e.Scope != scope {
		if err := s.index.Delete(ctx, e.Scope, id); err != nil {
			return fmt.Errorf("deindex %s: %w", id, err)
		}
	}
	if err := s.index.Delete(ctx, scope, id); err != nil {
		return fmt.Errorf("deindex %s: %w", id, err)
	}
	if _, known := s.snap.Get(id); !known {
		return nil
	}
	s.snap.Delete(id)
	return s.snap.Save()
}

// Indexed reports whether id is recorded in the snapshot.
func (s *Syncer) Indexed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.snap.Get(id)
	return ok
}

func documents(recs []*record.Record) []vectorstore.Document {
	docs := make([]vectorstore.Document, len(recs))
	for i, r := range recs {
		docs[i] = vectorstore.Document{
			ID:        r.ID,
			Scope:     r.Scope,
			Kind:      string(r.Kind),
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
		}
	}
	return docs
}
