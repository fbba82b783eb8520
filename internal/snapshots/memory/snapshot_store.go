// Package memory stores snapshots in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// SnapshotStore keeps snapshot bytes in a map and returns pseudo URIs.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates a new in-memory snapshot store.
func New() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string][]byte),
	}
}

// Put persists the content and returns a memory:// URI.
func (s *SnapshotStore) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Paths returns every stored path, for assertions.
func (s *SnapshotStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.data))
	for path := range s.data {
		paths = append(paths, path)
	}
	return paths
}

// Get returns the stored bytes for a path, for assertions.
func (s *SnapshotStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, ok
}
