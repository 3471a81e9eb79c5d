// Package store persists the conformed latest-per-(parcel, kind) table that
// the projector reads. Merge applies the same supersedes rule as the
// conformer, so replaying any window is monotonic: older events never change
// a row.
package store

import (
	"context"

	"relaymart/internal/event"
	"relaymart/pkg/domain"
)

// Store is the latest-by-kind table contract.
type Store interface {
	// Merge upserts window rows. A row replaces the stored one only when it
	// supersedes it (max event_ts, then sequence_no, then event_id).
	Merge(ctx context.Context, rows []event.Event) error

	// ListByParcel returns the stored rows for one parcel, at most one per
	// kind, in no particular order.
	ListByParcel(ctx context.Context, parcelID domain.ParcelID) ([]event.Event, error)

	// ListParcels returns every parcel with at least one row. Drives full
	// rebuilds.
	ListParcels(ctx context.Context) ([]domain.ParcelID, error)
}
