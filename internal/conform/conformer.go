// Package conform deduplicates raw events and derives the latest record per
// (parcel, kind). It is purely functional over its input window: same events
// in, same two derived sets out, regardless of input order.
package conform

import (
	"log/slog"
	"sort"
	"strings"

	"relaymart/internal/event"
	"relaymart/internal/platform/metrics"
	"relaymart/pkg/domain"
)

// LatestKey identifies one row of the latest-per-kind table.
type LatestKey struct {
	ParcelID domain.ParcelID
	Kind     domain.EventKind
}

// Result holds the two derived sets and the malformed-exclusion counts for
// one conforming pass.
type Result struct {
	// Deduped contains exactly one surviving record per event ID, ordered by
	// (event_ts, sequence_no, event_id) ascending so output is reproducible.
	Deduped []event.Event

	// LatestByKind maps each (parcel, kind) to the surviving record with the
	// maximum event_ts for that pair. Monotonic under replay: older events
	// never change a row, newer ones always may.
	LatestByKind map[LatestKey]event.Event

	// Malformed counts excluded events by reason. Exclusions are observable,
	// never silent.
	Malformed map[event.MalformedReason]int
}

// TouchedParcels returns the set of parcels present in the deduped set. The
// projector restricts incremental recomputes to this changed-set.
func (r Result) TouchedParcels() map[domain.ParcelID]struct{} {
	touched := make(map[domain.ParcelID]struct{}, len(r.Deduped))
	for _, ev := range r.Deduped {
		touched[ev.ParcelID] = struct{}{}
	}
	return touched
}

// Conformer applies the dedup and latest-per-kind rules.
type Conformer struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Conformer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Conformer) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Conformer) { c.metrics = m }
}

func New(opts ...Option) *Conformer {
	c := &Conformer{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Supersedes reports whether a wins over b for the same identity. Higher
// event_ts wins; ties break on higher sequence_no, then on the
// lexicographically greater event ID so the rule is total and deterministic.
// The latest-by-kind store applies the same rule on merge so replays stay
// monotonic.
func Supersedes(a, b event.Event) bool {
	if !a.EventTS.Equal(b.EventTS) {
		return a.EventTS.After(b.EventTS)
	}
	if a.SequenceNo != b.SequenceNo {
		return a.SequenceNo > b.SequenceNo
	}
	return strings.Compare(a.EventID.String(), b.EventID.String()) > 0
}

// Conform produces the deduplicated event set and the latest-per-(parcel,
// kind) table for one window of raw events.
func (c *Conformer) Conform(events []event.Event) Result {
	res := Result{
		LatestByKind: make(map[LatestKey]event.Event),
		Malformed:    make(map[event.MalformedReason]int),
	}

	byID := make(map[domain.EventID]event.Event, len(events))
	for _, ev := range events {
		if reason, ok := ev.CheckEnvelope(); !ok {
			res.Malformed[reason]++
			if c.metrics != nil {
				c.metrics.EventsMalformed.WithLabelValues(string(reason)).Inc()
			}
			continue
		}
		if cur, seen := byID[ev.EventID]; !seen || Supersedes(ev, cur) {
			byID[ev.EventID] = ev
		}
	}

	res.Deduped = make([]event.Event, 0, len(byID))
	for _, ev := range byID {
		res.Deduped = append(res.Deduped, ev)
	}
	sort.Slice(res.Deduped, func(i, j int) bool {
		return Supersedes(res.Deduped[j], res.Deduped[i])
	})

	for _, ev := range res.Deduped {
		key := LatestKey{ParcelID: ev.ParcelID, Kind: ev.Kind}
		if cur, seen := res.LatestByKind[key]; !seen || Supersedes(ev, cur) {
			res.LatestByKind[key] = ev
		}
	}

	if c.metrics != nil {
		c.metrics.EventsConformed.Add(float64(len(res.Deduped)))
	}
	if len(res.Malformed) > 0 {
		excluded := 0
		for _, n := range res.Malformed {
			excluded += n
		}
		c.logger.Warn("excluded malformed events",
			"excluded", excluded,
			"reasons", res.Malformed,
		)
	}

	return res
}
