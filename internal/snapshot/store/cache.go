package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"relaymart/internal/snapshot"
	"relaymart/pkg/domain"
)

// CachedStore is a read-through Redis cache in front of a snapshot store.
// The cache is advisory: any Redis failure falls back to the inner store, and
// Upsert invalidates before writing through so readers never see a snapshot
// older than the backing table.
type CachedStore struct {
	inner  Store
	client *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(inner Store, client *goredis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{inner: inner, client: client, ttl: ttl, logger: logger}
}

func cacheKey(parcelID domain.ParcelID) string {
	return "relaymart:snapshot:" + parcelID.String()
}

func (s *CachedStore) Upsert(ctx context.Context, snaps []snapshot.ParcelSnapshot) error {
	keys := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		keys = append(keys, cacheKey(snap.ParcelID))
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			s.logger.Warn("snapshot cache invalidation failed", "error", err)
		}
	}
	return s.inner.Upsert(ctx, snaps)
}

func (s *CachedStore) Get(ctx context.Context, parcelID domain.ParcelID) (snapshot.ParcelSnapshot, error) {
	key := cacheKey(parcelID)

	raw, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		var snap snapshot.ParcelSnapshot
		if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
			return snap, nil
		}
		// Corrupt entry: drop it and fall through to the store.
		s.client.Del(ctx, key)
	} else if !errors.Is(err, goredis.Nil) {
		s.logger.Warn("snapshot cache read failed", "error", err)
	}

	snap, err := s.inner.Get(ctx, parcelID)
	if err != nil {
		return snapshot.ParcelSnapshot{}, err
	}

	if raw, jsonErr := json.Marshal(snap); jsonErr == nil {
		if setErr := s.client.Set(ctx, key, raw, s.ttl).Err(); setErr != nil {
			s.logger.Warn("snapshot cache write failed", "error", setErr)
		}
	} else {
		return snap, fmt.Errorf("marshal snapshot for cache: %w", jsonErr)
	}
	return snap, nil
}

func (s *CachedStore) ListParcels(ctx context.Context) ([]domain.ParcelID, error) {
	return s.inner.ListParcels(ctx)
}
