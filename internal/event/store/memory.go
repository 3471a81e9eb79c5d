package store

import (
	"context"
	"sync"
	"time"

	"relaymart/internal/event"
	"relaymart/pkg/domain"
)

// InMemoryStore keeps the event log in a slice. Used by unit tests and the
// single-process demo mode; favors clarity over performance.
type InMemoryStore struct {
	mu      sync.RWMutex
	events  []event.Event
	nextSeq int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextSeq: 1}
}

func (s *InMemoryStore) AppendBatch(_ context.Context, events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		ev.IngestSeq = s.nextSeq
		s.nextSeq++
		s.events = append(s.events, ev)
	}
	return nil
}

func (s *InMemoryStore) ListWindow(_ context.Context, lower, upper time.Time) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Event
	for _, ev := range s.events {
		if ev.EventTS.After(lower) && !ev.EventTS.After(upper) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListByParcels(_ context.Context, parcelIDs []domain.ParcelID, kinds []domain.EventKind) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wantParcel := make(map[domain.ParcelID]struct{}, len(parcelIDs))
	for _, id := range parcelIDs {
		wantParcel[id] = struct{}{}
	}
	wantKind := make(map[domain.EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		wantKind[k] = struct{}{}
	}

	var out []event.Event
	for _, ev := range s.events {
		if _, ok := wantParcel[ev.ParcelID]; !ok {
			continue
		}
		if _, ok := wantKind[ev.Kind]; !ok {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}
