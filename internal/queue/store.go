package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store persists queue state. Put is called on every mutation; Load
// runs once at startup. Implementations must make Put atomic enough
// that a crash loses at most one in-flight transition, never an item.
type Store interface {
	Load() ([]*Item, error)
	Put(item *Item) error
	Close() error
}

// FileStore keeps the whole queue as one JSON snapshot, rewritten via
// temp-file-plus-rename on every Put. The O(n) rewrite is fine at the
// item counts a single operator produces; the SQLite store exists for
// deeper queues.
type FileStore struct {
	path string

	mu    sync.Mutex
	items map[string]*Item
}

// NewFileStore opens (or creates) a snapshot store at dir/queue.json.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return &FileStore{
		path:  filepath.Join(dir, "queue.json"),
		items: make(map[string]*Item),
	}, nil
}

func (s *FileStore) Load() ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue snapshot: %w", err)
	}
	var items []*Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode queue snapshot: %w", err)
	}
	for _, item := range items {
		copied := *item
		s.items[item.ID] = &copied
	}
	sortBySequence(items)
	return items, nil
}

func (s *FileStore) Put(item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *item
	s.items[item.ID] = &copied
	return s.writeSnapshotLocked()
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) writeSnapshotLocked() error {
	items := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sortBySequence(items)
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write queue snapshot: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func sortBySequence(items []*Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].Sequence < items[j].Sequence })
}
