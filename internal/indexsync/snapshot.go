package indexsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// SnapshotFile is the snapshot's name inside the record root.
const SnapshotFile = ".index-snapshot.json"

// ErrCorruptSnapshot is returned when the snapshot file cannot be parsed.
var ErrCorruptSnapshot = errors.New("corrupt index snapshot")

// Entry is what the index is known to hold for one record id.
type Entry struct {
	Scope string `json:"scope"`
	Hash  string `json:"hash"`
}

// Snapshot maps record ids to the indexed scope and content hash. It is not
// safe for concurrent use; Syncer serializes access.
type Snapshot struct {
	path    string
	entries map[string]Entry
}

// LoadSnapshot reads the snapshot at path. A missing file yields an empty
// snapshot.
func LoadSnapshot(path string) (*Snapshot, error) {
	s := &Snapshot{path: path, entries: make(map[string]Entry)}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if s.entries == nil {
		s.entries = make(map[string]Entry)
	}
	return s, nil
}

// Get returns the entry for id.
func (s *Snapshot) Get(id string) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Set records that id is indexed with the given scope and hash.
func (s *Snapshot) Set(id string, e Entry) {
	s.entries[id] = e
}

// Delete forgets id.
func (s *Snapshot) Delete(id string) {
	delete(s.entries, id)
}

// Len returns the number of indexed ids.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// IDs returns the indexed ids in sorted order.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Save atomically rewrites the snapshot file.
func (s *Snapshot) Save() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
