package indexsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/memoryd/internal/record"
	"go.uber.org/zap"
)

// Watch applies filesystem changes under the record root to the index
// until ctx is done or Close is called. Events are debounced per path.
// Hand edits, new files and deletions all go through Apply and Remove.
func (s *Syncer) Watch(ctx context.Context) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return errors.New("indexsync: already watching")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = w
	s.timers = make(map[string]*time.Timer)
	s.done = make(chan struct{})

	if err := s.addTree(w, s.store.Root()); err != nil {
		_ = w.Close()
		s.watcher = nil
		return err
	}

	go s.loop(ctx, w, s.done)
	s.logger.Info("watching record store", zap.String("root", s.store.Root()), zap.Duration("debounce", s.debounce))
	return nil
}

// Close stops the watcher and waits for pending callbacks.
func (s *Syncer) Close() error {
	s.watchMu.Lock()
	w := s.watcher
	if w == nil {
		s.watchMu.Unlock()
		return nil
	}
	s.watcher = nil
	close(s.done)
	for path, t := range s.timers {
		if t.Stop() {
			s.pending.Done()
		}
		delete(s.timers, path)
	}
	s.watchMu.Unlock()

	err := w.Close()
	s.pending.Wait()
	return err
}

func (s *Syncer) loop(ctx context.Context, w *fsnotify.Watcher, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			s.handleEvent(ctx, w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (s *Syncer) handleEvent(ctx context.Context, w *fsnotify.Watcher, ev fsnotify.Event) {
	if s.ignored(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// Files may land in a new directory before its watch exists.
			if err := s.addTree(w, ev.Name); err != nil {
				s.logger.Warn("watching new directory", zap.String("path", ev.Name), zap.Error(err))
			}
			s.scheduleDir(ctx, ev.Name)
			return
		}
	}
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return
	}
	s.schedule(ctx, ev.Name)
}

// ignored filters dot files, temp files, the tombstone tree and the
// snapshot.
func (s *Syncer) ignored(path string) bool {
	rel, err := filepath.Rel(s.store.Root(), path)
	if err != nil {
		return true
	}
	if rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func (s *Syncer) addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.store.Root() && s.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (s *Syncer) scheduleDir(ctx context.Context, dir string) {
	var paths []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && !s.ignored(path) {
			paths = append(paths, path)
		}
		return nil
	})
	sort.Strings(paths)
	for _, p := range paths {
		s.schedule(ctx, p)
	}
}

// schedule (re)arms the debounce timer for path.
func (s *Syncer) schedule(ctx context.Context, path string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher == nil {
		return
	}
	if t, ok := s.timers[path]; ok && t.Stop() {
		t.Reset(s.debounce)
		return
	}
	s.pending.Add(1)
	var t *time.Timer
	t = time.AfterFunc(s.debounce, func() {
		defer s.pending.Done()
		s.watchMu.Lock()
		if s.timers[path] == t {
			delete(s.timers, path)
		}
		s.watchMu.Unlock()
		s.sync(ctx, path)
	})
	s.timers[path] = t
}

// sync applies the current state of path.
func (s *Syncer) sync(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	scope, _, id, ok := s.store.Locate(path)
	if !ok {
		return
	}
	log := s.logger.With(zap.String("scope", scope), zap.String("id", id))

	rec, err := s.store.Load(path)
	switch {
	case errors.Is(err, record.ErrNotFound):
		if err := s.Remove(ctx, scope, id); err != nil {
			log.Warn("deindexing removed file", zap.Error(err))
			return
		}
		log.Debug("deindexed removed file")
	case err != nil:
		log.Warn("skipping unreadable record file", zap.String("path", path), zap.Error(err))
	default:
		if err := s.Apply(ctx, rec); err != nil {
			log.Warn("indexing changed file", zap.Error(err))
			return
		}
		log.Debug("indexed changed file")
	}
}

func sortedRecords(m map[string]*record.Record) []*record.Record {
	out := make([]*record.Record, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].ID < out[j].ID
	})
	return out
}
