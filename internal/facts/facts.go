// Package facts derives append-style fact rows from conformed events. Each
// fact target declares the event kinds it consumes, the payload fields it
// requires, and a projection from event to row. Derivation is a pure
// function of its input; idempotency lives in the store's merge-by-grain-key
// upsert, so reprocessing a window can never double-insert.
package facts

import (
	"log/slog"

	"relaymart/internal/event"
	"relaymart/pkg/domain"
)

// Row is one derived fact row. The grain key identifies exactly one row in
// the target table; merging the same key twice overwrites, never duplicates.
type Row interface {
	GrainKey() string
}

// Deriver projects events of specific kinds into rows of one fact target.
type Deriver[R Row] struct {
	target  string
	kinds   map[domain.EventKind]struct{}
	require func(event.Event) (string, bool)
	project func(event.Event) R
	logger  *slog.Logger
}

type Option[R Row] func(*Deriver[R])

func WithLogger[R Row](logger *slog.Logger) Option[R] {
	return func(d *Deriver[R]) { d.logger = logger }
}

// NewDeriver builds a deriver for one target. require reports whether the
// event carries every payload field the projection needs, naming the first
// missing field otherwise; incomplete events are skipped and logged, never
// projected with zero values.
func NewDeriver[R Row](target string, kinds []domain.EventKind, require func(event.Event) (string, bool), project func(event.Event) R, opts ...Option[R]) *Deriver[R] {
	d := &Deriver[R]{
		target:  target,
		kinds:   make(map[domain.EventKind]struct{}, len(kinds)),
		require: require,
		project: project,
		logger:  slog.Default(),
	}
	for _, k := range kinds {
		d.kinds[k] = struct{}{}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Deriver[R]) Target() string { return d.target }

// Derive projects the window's deduped events into fact rows, preserving
// input order so identical inputs always produce identical output.
func (d *Deriver[R]) Derive(events []event.Event) []R {
	var rows []R
	for _, ev := range events {
		if _, ok := d.kinds[ev.Kind]; !ok {
			continue
		}
		if missing, ok := d.require(ev); !ok {
			d.logger.Warn("skipping event with incomplete payload",
				"target", d.target,
				"event_id", ev.EventID,
				"kind", ev.Kind,
				"missing_field", missing)
			continue
		}
		rows = append(rows, d.project(ev))
	}
	return rows
}
