package watermark

import (
	"context"
	"sync"
	"time"

	"relaymart/pkg/platform/sentinel"
)

// InMemoryStore keeps watermarks in a map. Used by unit tests and demo mode.
type InMemoryStore struct {
	mu    sync.RWMutex
	marks map[string]time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{marks: make(map[string]time.Time)}
}

func (s *InMemoryStore) Get(_ context.Context, target string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.marks[target]
	if !ok {
		return time.Time{}, sentinel.ErrNotFound
	}
	return ts, nil
}

func (s *InMemoryStore) List(_ context.Context) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	marks := make(map[string]time.Time, len(s.marks))
	for target, ts := range s.marks {
		marks[target] = ts
	}
	return marks, nil
}

func (s *InMemoryStore) Commit(_ context.Context, target string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.marks[target]; ok && cur.After(ts) {
		return nil
	}
	s.marks[target] = ts
	return nil
}
