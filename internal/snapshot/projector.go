package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	conformstore "relaymart/internal/conform/store"
	"relaymart/internal/event"
	"relaymart/pkg/domain"
	dErrors "relaymart/pkg/domain-errors"
)

// Projector rebuilds parcel snapshots from the latest-by-kind table.
//
// Incremental and full modes run the same per-parcel function; incrementality
// only narrows which parcels are recomputed, so both modes produce identical
// rows for the same parcel given the same underlying events.
type Projector struct {
	latest conformstore.Store
	logger *slog.Logger
	clock  func() time.Time
}

type Option func(*Projector)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Projector) { p.logger = logger }
}

// WithClock sets the clock used for UpdatedAt, for testability.
func WithClock(clock func() time.Time) Option {
	return func(p *Projector) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func New(latest conformstore.Store, opts ...Option) (*Projector, error) {
	if latest == nil {
		return nil, fmt.Errorf("latest-by-kind store is required")
	}
	p := &Projector{latest: latest, logger: slog.Default(), clock: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ProjectChanged recomputes snapshots for the given changed-set of parcels.
func (p *Projector) ProjectChanged(ctx context.Context, touched map[domain.ParcelID]struct{}) ([]ParcelSnapshot, error) {
	parcels := make([]domain.ParcelID, 0, len(touched))
	for id := range touched {
		parcels = append(parcels, id)
	}
	return p.project(ctx, parcels)
}

// ProjectAll recomputes every known parcel, ignoring watermarks. Used for
// full rebuilds after a derived-table discard.
func (p *Projector) ProjectAll(ctx context.Context) ([]ParcelSnapshot, error) {
	parcels, err := p.latest.ListParcels(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list parcels for full rebuild")
	}
	return p.project(ctx, parcels)
}

func (p *Projector) project(ctx context.Context, parcels []domain.ParcelID) ([]ParcelSnapshot, error) {
	// Deterministic output order regardless of map iteration.
	sort.Slice(parcels, func(i, j int) bool {
		return parcels[i].String() < parcels[j].String()
	})

	now := p.clock().UTC()
	snapshots := make([]ParcelSnapshot, 0, len(parcels))
	for _, parcelID := range parcels {
		rows, err := p.latest.ListByParcel(ctx, parcelID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list latest rows for parcel")
		}
		if len(rows) == 0 {
			continue
		}
		snapshots = append(snapshots, combine(parcelID, rows, now))
	}
	return snapshots, nil
}

// statusForKind maps operational event kinds to lifecycle statuses. ETA and
// EXCEPTION kinds are absent on purpose.
var statusForKind = map[domain.EventKind]Status{
	domain.KindParcelCreated:  StatusCreated,
	domain.KindScanInDepot:    StatusInDepot,
	domain.KindScanOutDepot:   StatusOutDepot,
	domain.KindLoadedToVan:    StatusLoaded,
	domain.KindOutForDelivery: StatusOutForDelivery,
	domain.KindDelivered:      StatusDelivered,
}

// combine folds one parcel's latest-per-kind rows into a snapshot. Kinds are
// walked in declaration order for determinism; field precedence follows the
// event time of the contributing row, not iteration order.
func combine(parcelID domain.ParcelID, rows []event.Event, now time.Time) ParcelSnapshot {
	byKind := make(map[domain.EventKind]event.Event, len(rows))
	for _, ev := range rows {
		byKind[ev.Kind] = ev
	}

	snap := ParcelSnapshot{ParcelID: parcelID, Status: StatusCreated, UpdatedAt: now}

	// Fields fed by more than one kind each carry their own timestamp so the
	// newest contributing row wins regardless of kind iteration order.
	var statusTS, depotTS, routeTS, courierTS time.Time
	for _, kind := range domain.AllEventKinds() {
		ev, ok := byKind[kind]
		if !ok {
			continue
		}
		if ev.EventTS.After(snap.LastEventTS) {
			snap.LastEventTS = ev.EventTS
		}
		if st, operational := statusForKind[kind]; operational && !ev.EventTS.Before(statusTS) {
			snap.Status = st
			statusTS = ev.EventTS
		}

		pl := ev.Payload
		switch kind {
		case domain.KindParcelCreated:
			snap.MerchantID = pl.MerchantID
			snap.ServiceTier = pl.ServiceTier
			snap.PromisedWindowStart = pl.PromisedWindowStart
			snap.PromisedWindowEnd = pl.PromisedWindowEnd
			snap.WeightGrams = pl.WeightGrams
			snap.VolumeCM3 = pl.VolumeCM3
		case domain.KindScanInDepot, domain.KindScanOutDepot:
			if pl.DepotID != nil && !ev.EventTS.Before(depotTS) {
				snap.LastDepotID = pl.DepotID
				depotTS = ev.EventTS
			}
		case domain.KindLoadedToVan, domain.KindOutForDelivery:
			if pl.RouteID != nil && !ev.EventTS.Before(routeTS) {
				snap.RouteID = pl.RouteID
				routeTS = ev.EventTS
			}
			if pl.CourierID != nil && !ev.EventTS.Before(courierTS) {
				snap.CourierID = pl.CourierID
				courierTS = ev.EventTS
			}
		case domain.KindETASet, domain.KindETAUpdated:
			// Resolved after the loop; both kinds compete on event time.
		case domain.KindDelivered:
			snap.DeliveredTS = pl.DeliveredTS
			snap.DeliveryOutcome = pl.Outcome
			if pl.AttemptNumber != nil {
				snap.DeliveryAttempts = *pl.AttemptNumber
			}
			if pl.RouteID != nil && !ev.EventTS.Before(routeTS) {
				snap.RouteID = pl.RouteID
				routeTS = ev.EventTS
			}
			if pl.CourierID != nil && !ev.EventTS.Before(courierTS) {
				snap.CourierID = pl.CourierID
				courierTS = ev.EventTS
			}
		case domain.KindException:
			snap.LastExceptionCode = pl.ExceptionCode
		}
	}

	// The current ETA comes from whichever ETA row is newer in event time;
	// ETA_UPDATED wins ties because it supersedes the initial ETA_SET.
	if set, ok := byKind[domain.KindETASet]; ok && set.Payload.PredictedDeliveryTS != nil {
		snap.PredictedDeliveryTS = set.Payload.PredictedDeliveryTS
	}
	if upd, ok := byKind[domain.KindETAUpdated]; ok && upd.Payload.PredictedDeliveryTS != nil {
		set, hasSet := byKind[domain.KindETASet]
		if !hasSet || !upd.EventTS.Before(set.EventTS) {
			snap.PredictedDeliveryTS = upd.Payload.PredictedDeliveryTS
		}
	}

	return snap
}
