package store

import (
	"context"
	"sync"

	"relaymart/internal/conform"
	"relaymart/internal/event"
	"relaymart/pkg/domain"
)

// InMemoryStore keeps the latest-by-kind table in nested maps.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[domain.ParcelID]map[domain.EventKind]event.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[domain.ParcelID]map[domain.EventKind]event.Event)}
}

func (s *InMemoryStore) Merge(_ context.Context, rows []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range rows {
		kinds, ok := s.rows[ev.ParcelID]
		if !ok {
			kinds = make(map[domain.EventKind]event.Event)
			s.rows[ev.ParcelID] = kinds
		}
		if cur, seen := kinds[ev.Kind]; !seen || conform.Supersedes(ev, cur) {
			kinds[ev.Kind] = ev
		}
	}
	return nil
}

func (s *InMemoryStore) ListByParcel(_ context.Context, parcelID domain.ParcelID) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Event
	for _, ev := range s.rows[parcelID] {
		out = append(out, ev)
	}
	return out, nil
}

func (s *InMemoryStore) ListParcels(_ context.Context) ([]domain.ParcelID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parcels := make([]domain.ParcelID, 0, len(s.rows))
	for id := range s.rows {
		parcels = append(parcels, id)
	}
	return parcels, nil
}
