package offset

import (
	"context"
	"sync"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
)

// MemoryStore keeps cursors in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	cursors map[string]domain.Cursor
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]domain.Cursor)}
}

func (s *MemoryStore) Get(ctx context.Context, resource string) (domain.Cursor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cursor, ok := s.cursors[resource]
	return cursor, ok, nil
}

func (s *MemoryStore) Commit(ctx context.Context, cursor domain.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.cursors[cursor.Resource]; ok && !supersedes(prev, cursor) {
		return nil
	}
	s.cursors[cursor.Resource] = cursor
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, resource)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) (map[string]domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Cursor, len(s.cursors))
	for k, v := range s.cursors {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
