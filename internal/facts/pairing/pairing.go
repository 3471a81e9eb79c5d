// Package pairing derives depot dwell intervals by pairing SCAN_IN_DEPOT
// with the next SCAN_OUT_DEPOT per parcel. Unlike the single-event fact
// derivers, a dwell row spans two events, so the deriver walks full
// per-parcel scan sequences rather than a single window.
package pairing

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"relaymart/internal/conform"
	"relaymart/internal/event"
	"relaymart/pkg/domain"
)

const Target = "fct_depot_dwell"

// DepotDwell is one completed in/out interval at a depot. The grain is
// (parcel_id, in_ts): reprocessing the same scans merges onto the same row.
type DepotDwell struct {
	ParcelID     domain.ParcelID
	DepotID      *domain.DepotID
	InEventID    domain.EventID
	OutEventID   domain.EventID
	InTS         time.Time
	OutTS        time.Time
	DwellSeconds float64
}

func (d DepotDwell) GrainKey() string {
	return fmt.Sprintf("%s|%s", d.ParcelID, d.InTS.UTC().Format(time.RFC3339Nano))
}

// Result is one pairing pass. DanglingOpens counts every in-scan that
// produced no interval: trailing opens still awaiting their out-scan, which
// complete on a later pass, and opens superseded by a later in-scan, which
// never will.
type Result struct {
	Pairs         []DepotDwell
	DanglingOpens int
}

// ScanKinds are the event kinds pairing consumes, in the order the store's
// kind filter expects.
func ScanKinds() []domain.EventKind {
	return []domain.EventKind{domain.KindScanInDepot, domain.KindScanOutDepot}
}

// Deriver pairs scan events with one-position look-ahead.
type Deriver struct {
	logger *slog.Logger
}

type Option func(*Deriver)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Deriver) { d.logger = logger }
}

func NewDeriver(opts ...Option) *Deriver {
	d := &Deriver{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Derive pairs the given scan events. The input is the full deduped scan
// history of each touched parcel; events of other kinds are ignored.
//
// Per parcel, events are ordered by the dedup total order and walked with
// one-position look-ahead: an in-scan followed by an out-scan forms one
// interval; an in-scan followed by another in-scan is superseded by it; an
// out-scan with no open in-scan is unmatched and excluded.
func (d *Deriver) Derive(events []event.Event) Result {
	byParcel := make(map[domain.ParcelID][]event.Event)
	for _, ev := range events {
		if ev.Kind != domain.KindScanInDepot && ev.Kind != domain.KindScanOutDepot {
			continue
		}
		byParcel[ev.ParcelID] = append(byParcel[ev.ParcelID], ev)
	}

	parcels := make([]domain.ParcelID, 0, len(byParcel))
	for id := range byParcel {
		parcels = append(parcels, id)
	}
	sort.Slice(parcels, func(i, j int) bool {
		return parcels[i].String() < parcels[j].String()
	})

	var res Result
	for _, parcelID := range parcels {
		scans := byParcel[parcelID]
		sort.Slice(scans, func(i, j int) bool {
			return conform.Supersedes(scans[j], scans[i])
		})

		var open *event.Event
		for i := range scans {
			ev := scans[i]
			switch ev.Kind {
			case domain.KindScanInDepot:
				if open != nil {
					// The superseded in-scan stays dangling forever: the
					// look-ahead pairs the next out-scan with its successor.
					res.DanglingOpens++
					d.logger.Debug("in-scan superseded by later in-scan",
						"parcel_id", parcelID, "event_id", open.EventID)
				}
				open = &scans[i]
			case domain.KindScanOutDepot:
				if open == nil {
					d.logger.Debug("out-scan without open in-scan excluded",
						"parcel_id", parcelID, "event_id", ev.EventID)
					continue
				}
				res.Pairs = append(res.Pairs, DepotDwell{
					ParcelID:     parcelID,
					DepotID:      open.Payload.DepotID,
					InEventID:    open.EventID,
					OutEventID:   ev.EventID,
					InTS:         open.EventTS,
					OutTS:        ev.EventTS,
					DwellSeconds: ev.EventTS.Sub(open.EventTS).Seconds(),
				})
				open = nil
			}
		}
		if open != nil {
			res.DanglingOpens++
		}
	}
	return res
}
