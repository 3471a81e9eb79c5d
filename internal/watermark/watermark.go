// Package watermark tracks, per materialized target, the highest event time
// durably incorporated, and computes each run's processing window.
//
// The contract that makes crash recovery cheap: a watermark only advances
// after a run's writes are durably applied. A failed run leaves it unmoved,
// the next run repeats the same window, and the idempotent merge downstream
// absorbs the duplicates.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaymart/pkg/platform/sentinel"
)

// Window is the processing interval (Lower, Upper] for one run. It is a
// tagged variant: either a bootstrap window (no watermark existed, fall back
// to the configured lookback) or an incremental one (lower bound is the last
// committed watermark). Branch on Bootstrap explicitly rather than comparing
// Lower against sentinels.
type Window struct {
	Lower     time.Time
	Upper     time.Time
	Bootstrap bool
}

func (w Window) String() string {
	mode := "incremental"
	if w.Bootstrap {
		mode = "bootstrap"
	}
	return fmt.Sprintf("%s(%s, %s]", mode, w.Lower.Format(time.RFC3339), w.Upper.Format(time.RFC3339))
}

// Store persists one watermark per target name. Each target's writer owns
// its row exclusively.
type Store interface {
	// Get returns the committed watermark for a target, or
	// sentinel.ErrNotFound when the target has never committed.
	Get(ctx context.Context, target string) (time.Time, error)

	// Commit upserts the watermark. Implementations must keep it monotonic:
	// a commit older than the stored value is a no-op, never a regression.
	Commit(ctx context.Context, target string, ts time.Time) error
}

// Tracker computes windows and commits watermarks for all targets against a
// shared store.
type Tracker struct {
	store         Store
	bootstrapDays int
	clock         func() time.Time
}

type Option func(*Tracker)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

func New(store Store, bootstrapDays int, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("watermark store is required")
	}
	if bootstrapDays <= 0 {
		return nil, fmt.Errorf("bootstrap days must be positive, got %d", bootstrapDays)
	}
	t := &Tracker{store: store, bootstrapDays: bootstrapDays, clock: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ComputeWindow returns the next run's window for a target. Upper is the
// run's wall-clock start; the caller must use the same value for every
// run-scoped timestamp (history valid_from, watermark commit) within the run.
func (t *Tracker) ComputeWindow(ctx context.Context, target string) (Window, error) {
	return t.ComputeWindowAt(ctx, target, t.clock().UTC())
}

// ComputeWindowAt is ComputeWindow with a caller-supplied upper bound. The
// runner anchors every target of one cycle to the same upper so downstream
// targets never read past what the conforming pass has written.
func (t *Tracker) ComputeWindowAt(ctx context.Context, target string, upper time.Time) (Window, error) {
	upper = upper.UTC()

	last, err := t.store.Get(ctx, target)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return Window{
			Lower:     upper.AddDate(0, 0, -t.bootstrapDays),
			Upper:     upper,
			Bootstrap: true,
		}, nil
	case err != nil:
		return Window{}, fmt.Errorf("get watermark for %s: %w", target, err)
	}

	return Window{Lower: last, Upper: upper}, nil
}

// Commit records a successful run's upper bound. Call only after the run's
// writes are durable; on the Postgres path the store write participates in
// the run transaction so the merge and the watermark land together.
func (t *Tracker) Commit(ctx context.Context, target string, upper time.Time) error {
	if err := t.store.Commit(ctx, target, upper); err != nil {
		return fmt.Errorf("commit watermark for %s: %w", target, err)
	}
	return nil
}
