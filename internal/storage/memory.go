package storage

import (
	"context"
	"sync"
	"time"
)

// Ensure MemoryStorage implements Store
var _ Store = (*MemoryStorage)(nil)

// sweepEvery controls how often a write also drops expired documents.
const sweepEvery = 128

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStorage keeps documents in process. Expired entries are dropped on
// access and swept opportunistically on writes.
type MemoryStorage struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	writes  int
	now     func() time.Time
}

// NewMemoryStorage creates a new storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStorage) Get(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return clone(entry.data), nil
}

func (s *MemoryStorage) Update(_ context.Context, id string, ttl time.Duration, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current []byte
	if entry, ok := s.lookup(id); ok {
		current = clone(entry.data)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if next == nil {
		delete(s.entries, id)
		return nil
	}

	entry := memoryEntry{data: clone(next)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[id] = entry

	s.writes++
	if s.writes%sweepEvery == 0 {
		s.sweep()
	}
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

// Len returns the number of live documents.
func (s *MemoryStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return len(s.entries)
}

// lookup must be called with mu held.
func (s *MemoryStorage) lookup(id string) (memoryEntry, bool) {
	entry, ok := s.entries[id]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, id)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStorage) sweep() {
	now := s.now()
	for id, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.entries, id)
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
