package store

import (
	"context"
	"sort"
	"sync"

	"relaymart/internal/facts"
)

// InMemoryStore keeps one fact target in a map keyed by grain key.
type InMemoryStore[R facts.Row] struct {
	mu   sync.RWMutex
	rows map[string]R
}

func NewInMemoryStore[R facts.Row]() *InMemoryStore[R] {
	return &InMemoryStore[R]{rows: make(map[string]R)}
}

func (s *InMemoryStore[R]) Merge(_ context.Context, rows []R) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.rows[row.GrainKey()] = row
	}
	return len(rows), nil
}

func (s *InMemoryStore[R]) List(_ context.Context) ([]R, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]R, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.rows[k])
	}
	return out, nil
}

func (s *InMemoryStore[R]) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rows)), nil
}
