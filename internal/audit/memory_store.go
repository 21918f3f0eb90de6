package audit

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity bounds MemoryStore when no capacity is given.
const DefaultMemoryCapacity = 10000

// MemoryStore keeps the most recent records in a ring buffer.
// Used when no database is configured, and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	ring  []*Record
	next  int
	count int
}

// NewMemoryStore creates a store retaining up to capacity records.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{ring: make([]*Record, capacity)}
}

func (s *MemoryStore) Record(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := *rec
	cp.Request = copyMap(rec.Request)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = &cp
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := min(limit, s.count)
	out := make([]*Record, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out, nil
}

// Len returns the number of retained records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *MemoryStore) Close() error { return nil }
