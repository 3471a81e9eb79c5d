package history

import (
	"context"
	"maps"
	"sync"
	"time"

	"relaymart/pkg/domain"
	"relaymart/pkg/platform/sentinel"
)

// InMemoryStore keeps history records in per-parcel slices ordered by
// insertion, which matches valid_from order because the snapshotter only
// appends at the current run timestamp.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[domain.ParcelID][]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[domain.ParcelID][]Record)}
}

func (s *InMemoryStore) GetOpen(_ context.Context, parcelID domain.ParcelID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records[parcelID] {
		if rec.Open() {
			return cloneRecord(rec), nil
		}
	}
	return Record{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListOpenParcels(_ context.Context) ([]domain.ParcelID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var parcels []domain.ParcelID
	for id, recs := range s.records {
		for _, rec := range recs {
			if rec.Open() {
				parcels = append(parcels, id)
				break
			}
		}
	}
	return parcels, nil
}

func (s *InMemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ParcelID] = append(s.records[rec.ParcelID], cloneRecord(rec))
	return nil
}

func (s *InMemoryStore) Close(_ context.Context, parcelID domain.ParcelID, validTo time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[parcelID]
	for i := range recs {
		if recs[i].Open() {
			t := validTo
			recs[i].ValidTo = &t
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemoryStore) ListByParcel(_ context.Context, parcelID domain.ParcelID) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[parcelID]
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func cloneRecord(rec Record) Record {
	rec.Attributes = maps.Clone(rec.Attributes)
	if rec.ValidTo != nil {
		t := *rec.ValidTo
		rec.ValidTo = &t
	}
	return rec
}
