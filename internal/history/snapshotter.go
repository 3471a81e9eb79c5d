package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"relaymart/internal/snapshot"
	"relaymart/pkg/domain"
	dErrors "relaymart/pkg/domain-errors"
	"relaymart/pkg/platform/sentinel"
)

// Store persists history records.
type Store interface {
	// GetOpen returns the open record for a parcel, or sentinel.ErrNotFound.
	GetOpen(ctx context.Context, parcelID domain.ParcelID) (Record, error)

	// ListOpenParcels returns every parcel holding an open record.
	ListOpenParcels(ctx context.Context) ([]domain.ParcelID, error)

	// Append inserts a new open record.
	Append(ctx context.Context, rec Record) error

	// Close sets valid_to on a parcel's open record.
	Close(ctx context.Context, parcelID domain.ParcelID, validTo time.Time) error

	// ListByParcel returns all records for a parcel ordered by valid_from.
	ListByParcel(ctx context.Context, parcelID domain.ParcelID) ([]Record, error)
}

// Stats summarizes one history pass.
type Stats struct {
	Opened    int
	Versioned int
	Unchanged int
	Closed    int
}

// Snapshotter runs the per-parcel state machine {NO_RECORD, OPEN} over
// current snapshots. Equality is compared over the declared tracked columns
// only; anything outside that set never triggers a new version.
type Snapshotter struct {
	store   Store
	tracked []string
	policy  DeletePolicy
	logger  *slog.Logger
}

type Option func(*Snapshotter)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Snapshotter) { s.logger = logger }
}

// New validates configuration up front: an empty or unknown tracked-column
// list is a fatal configuration error, because it would silently produce an
// always-open or always-versioning history.
func New(store Store, tracked []string, policy DeletePolicy, opts ...Option) (*Snapshotter, error) {
	if store == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if len(tracked) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "history tracked columns must not be empty")
	}
	var probe snapshot.ParcelSnapshot
	for _, col := range tracked {
		if _, ok := probe.TrackedValue(col); !ok {
			return nil, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("unknown tracked column %q", col))
		}
	}
	if !policy.valid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("unknown history delete policy %q", policy))
	}

	s := &Snapshotter{store: store, tracked: tracked, policy: policy, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// attributes extracts the tracked tuple from a snapshot.
func (s *Snapshotter) attributes(snap snapshot.ParcelSnapshot) map[string]string {
	attrs := make(map[string]string, len(s.tracked))
	for _, col := range s.tracked {
		v, _ := snap.TrackedValue(col)
		attrs[col] = v
	}
	return attrs
}

// Apply runs one materialization pass. snaps are the parcels recomputed this
// run; observed is the full set of parcels currently present in the source,
// used to apply the hard-delete policy. runTS must be the run's single
// timestamp so valid_from/valid_to chain exactly.
func (s *Snapshotter) Apply(ctx context.Context, snaps []snapshot.ParcelSnapshot, observed map[domain.ParcelID]struct{}, runTS time.Time) (Stats, error) {
	var stats Stats

	for _, snap := range snaps {
		attrs := s.attributes(snap)

		open, err := s.store.GetOpen(ctx, snap.ParcelID)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			// NO_RECORD: open the first version.
			if err := s.store.Append(ctx, Record{
				ParcelID:   snap.ParcelID,
				Attributes: attrs,
				ValidFrom:  runTS,
			}); err != nil {
				return stats, dErrors.Wrap(err, dErrors.CodeInternal, "open first history record")
			}
			stats.Opened++
		case err != nil:
			return stats, dErrors.Wrap(err, dErrors.CodeInternal, "get open history record")
		case sameAttributes(open.Attributes, attrs):
			stats.Unchanged++
		default:
			// OPEN + changed: close the current version and open the next,
			// chaining valid_from to the closed valid_to.
			if err := s.store.Close(ctx, snap.ParcelID, runTS); err != nil {
				return stats, dErrors.Wrap(err, dErrors.CodeInternal, "close history record")
			}
			if err := s.store.Append(ctx, Record{
				ParcelID:   snap.ParcelID,
				Attributes: attrs,
				ValidFrom:  runTS,
			}); err != nil {
				return stats, dErrors.Wrap(err, dErrors.CodeInternal, "open replacement history record")
			}
			stats.Versioned++
		}
	}

	if s.policy == DeletePolicyClose && observed != nil {
		openParcels, err := s.store.ListOpenParcels(ctx)
		if err != nil {
			return stats, dErrors.Wrap(err, dErrors.CodeInternal, "list open history parcels")
		}
		for _, parcelID := range openParcels {
			if _, ok := observed[parcelID]; ok {
				continue
			}
			if err := s.store.Close(ctx, parcelID, runTS); err != nil {
				return stats, dErrors.Wrap(err, dErrors.CodeInternal, "close history record for deleted parcel")
			}
			stats.Closed++
		}
		if stats.Closed > 0 {
			s.logger.Info("closed history records for parcels no longer observed",
				"count", stats.Closed)
		}
	}

	return stats, nil
}
