// Package store persists the raw event log. The log is append-only: rows are
// inserted once and never updated, which is what makes concurrent window
// reads by independent targets safe without coordination.
package store

import (
	"context"
	"time"

	"relaymart/internal/event"
	"relaymart/pkg/domain"
)

// Store is the event log contract shared by the memory and Postgres
// implementations.
//
// The log may contain duplicate event IDs (at-least-once ingest); dedup is
// the conformer's job, not the log's.
type Store interface {
	// AppendBatch inserts raw events and assigns each a monotonic ingest
	// sequence. Events are stored as received.
	AppendBatch(ctx context.Context, events []event.Event) error

	// ListWindow returns events with event_ts in (lower, upper], ordered by
	// ingest sequence. The half-open lower bound pairs with watermark
	// semantics: the committed watermark is the upper bound of the last
	// durable run.
	ListWindow(ctx context.Context, lower, upper time.Time) ([]event.Event, error)

	// ListByParcels returns every event of the given kinds for the given
	// parcels, ordered by ingest sequence. Sequence-pairing derivers need
	// full per-parcel histories, not just the current window.
	ListByParcels(ctx context.Context, parcelIDs []domain.ParcelID, kinds []domain.EventKind) ([]event.Event, error)

	// Count returns the total number of raw rows in the log.
	Count(ctx context.Context) (int64, error)
}
