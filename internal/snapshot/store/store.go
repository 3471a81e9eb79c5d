// Package store persists the current-state view, one row per parcel.
package store

import (
	"context"

	"relaymart/internal/snapshot"
	"relaymart/pkg/domain"
)

// Store is the parcel snapshot contract shared by the memory and Postgres
// implementations and the Redis read cache.
type Store interface {
	// Upsert replaces snapshots wholesale by parcel ID.
	Upsert(ctx context.Context, snaps []snapshot.ParcelSnapshot) error

	// Get returns one parcel's snapshot, or sentinel.ErrNotFound.
	Get(ctx context.Context, parcelID domain.ParcelID) (snapshot.ParcelSnapshot, error)

	// ListParcels returns every parcel with a snapshot. The history
	// snapshotter diffs this against its open records to apply the
	// hard-delete policy.
	ListParcels(ctx context.Context) ([]domain.ParcelID, error)
}
