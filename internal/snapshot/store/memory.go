package store

import (
	"context"
	"sync"

	"relaymart/internal/snapshot"
	"relaymart/pkg/domain"
	"relaymart/pkg/platform/sentinel"
)

// InMemoryStore keeps snapshots in a map.
type InMemoryStore struct {
	mu    sync.RWMutex
	snaps map[domain.ParcelID]snapshot.ParcelSnapshot
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snaps: make(map[domain.ParcelID]snapshot.ParcelSnapshot)}
}

func (s *InMemoryStore) Upsert(_ context.Context, snaps []snapshot.ParcelSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		s.snaps[snap.ParcelID] = snap
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, parcelID domain.ParcelID) (snapshot.ParcelSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[parcelID]
	if !ok {
		return snapshot.ParcelSnapshot{}, sentinel.ErrNotFound
	}
	return snap, nil
}

func (s *InMemoryStore) ListParcels(_ context.Context) ([]domain.ParcelID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parcels := make([]domain.ParcelID, 0, len(s.snaps))
	for id := range s.snaps {
		parcels = append(parcels, id)
	}
	return parcels, nil
}
