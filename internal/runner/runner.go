// Package runner orchestrates materialization passes. Each target runs as a
// discrete pass over its watermark window: read raw events, derive, merge,
// commit the watermark. Targets are write-disjoint, so passes run in
// parallel; within a target, overlapping runs are skipped, never queued.
package runner

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"relaymart/internal/conform"
	conformstore "relaymart/internal/conform/store"
	"relaymart/internal/event"
	eventstore "relaymart/internal/event/store"
	"relaymart/internal/facts"
	"relaymart/internal/facts/pairing"
	factstore "relaymart/internal/facts/store"
	"relaymart/internal/history"
	"relaymart/internal/platform/metrics"
	"relaymart/internal/rollup"
	"relaymart/internal/snapshot"
	snapshotstore "relaymart/internal/snapshot/store"
	"relaymart/internal/watermark"
	"relaymart/pkg/domain"
	dErrors "relaymart/pkg/domain-errors"
	txcontext "relaymart/pkg/platform/tx"
)

const (
	TargetConformed = "conformed_latest"
	TargetSnapshot  = "parcel_snapshot"
)

// Targets lists every materialization target in execution order.
func Targets() []string {
	return []string{
		TargetConformed,
		TargetSnapshot,
		facts.TargetDeliveryAttempts,
		facts.TargetExceptions,
		facts.TargetETARevisions,
		pairing.Target,
		rollup.TargetDepotDwellDaily,
	}
}

// Deps are the stores and components a Runner drives. All are required.
type Deps struct {
	Events     eventstore.Store
	Latest     conformstore.Store
	Snapshots  snapshotstore.Store
	History    *history.Snapshotter
	Tracker    *watermark.Tracker
	Attempts   factstore.Store[facts.DeliveryAttempt]
	Exceptions factstore.Store[facts.Exception]
	ETAs       factstore.Store[facts.ETARevision]
	DepotDwell factstore.Store[pairing.DepotDwell]
	Rollups    factstore.Store[rollup.Row]
}

func (d Deps) validate() error {
	switch {
	case d.Events == nil:
		return fmt.Errorf("event store is required")
	case d.Latest == nil:
		return fmt.Errorf("latest-by-kind store is required")
	case d.Snapshots == nil:
		return fmt.Errorf("snapshot store is required")
	case d.History == nil:
		return fmt.Errorf("history snapshotter is required")
	case d.Tracker == nil:
		return fmt.Errorf("watermark tracker is required")
	case d.Attempts == nil, d.Exceptions == nil, d.ETAs == nil:
		return fmt.Errorf("fact stores are required")
	case d.DepotDwell == nil:
		return fmt.Errorf("depot dwell store is required")
	case d.Rollups == nil:
		return fmt.Errorf("rollup store is required")
	}
	return nil
}

type Runner struct {
	deps Deps

	conformer *conform.Conformer
	dedup     *conform.Conformer
	projector *snapshot.Projector

	attemptsDeriver   *facts.Deriver[facts.DeliveryAttempt]
	exceptionsDeriver *facts.Deriver[facts.Exception]
	etaDeriver        *facts.Deriver[facts.ETARevision]
	pairer            *pairing.Deriver
	dwellRollup       *rollup.Aggregator[pairing.DepotDwell]

	db      *sql.DB
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	clock   func() time.Time

	locks map[string]*sync.Mutex
}

type Option func(*Runner)

// WithDB enables the transactional path: each pass wraps its merges and
// watermark commit in one transaction carried in context.
func WithDB(db *sql.DB) Option {
	return func(r *Runner) { r.db = db }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

func WithClock(clock func() time.Time) Option {
	return func(r *Runner) { r.clock = clock }
}

func New(deps Deps, opts ...Option) (*Runner, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		deps:   deps,
		logger: slog.Default(),
		tracer: otel.Tracer("relaymart/runner"),
		clock:  time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, target := range Targets() {
		r.locks[target] = &sync.Mutex{}
	}

	// The conforming pass counts dedup metrics; derivation passes re-conform
	// their own windows without double counting.
	var conformOpts []conform.Option
	conformOpts = append(conformOpts, conform.WithLogger(r.logger))
	if r.metrics != nil {
		conformOpts = append(conformOpts, conform.WithMetrics(r.metrics))
	}
	r.conformer = conform.New(conformOpts...)
	r.dedup = conform.New(conform.WithLogger(r.logger))

	projector, err := snapshot.New(deps.Latest,
		snapshot.WithLogger(r.logger),
		snapshot.WithClock(r.clock))
	if err != nil {
		return nil, fmt.Errorf("build projector: %w", err)
	}
	r.projector = projector

	r.attemptsDeriver = facts.NewDeliveryAttemptDeriver(facts.WithLogger[facts.DeliveryAttempt](r.logger))
	r.exceptionsDeriver = facts.NewExceptionDeriver(facts.WithLogger[facts.Exception](r.logger))
	r.etaDeriver = facts.NewETARevisionDeriver(facts.WithLogger[facts.ETARevision](r.logger))
	r.pairer = pairing.NewDeriver(pairing.WithLogger(r.logger))
	r.dwellRollup = rollup.NewDepotDwellDaily()

	return r, nil
}

// RunAll executes one full materialization cycle. The conforming pass runs
// first so downstream reads of the latest-by-kind table cover the cycle's
// window; the rollup runs last because it reads the dwell fact table. Every
// pass is anchored to the same upper bound.
func (r *Runner) RunAll(ctx context.Context) error {
	runTS := r.clock().UTC()

	if err := r.runPass(ctx, TargetConformed, runTS, r.conformPass); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.runPass(gctx, TargetSnapshot, runTS, r.snapshotPass) })
	g.Go(func() error {
		return r.runPass(gctx, facts.TargetDeliveryAttempts, runTS,
			derivePass(r, r.attemptsDeriver, r.deps.Attempts))
	})
	g.Go(func() error {
		return r.runPass(gctx, facts.TargetExceptions, runTS,
			derivePass(r, r.exceptionsDeriver, r.deps.Exceptions))
	})
	g.Go(func() error {
		return r.runPass(gctx, facts.TargetETARevisions, runTS,
			derivePass(r, r.etaDeriver, r.deps.ETAs))
	})
	g.Go(func() error { return r.runPass(gctx, pairing.Target, runTS, r.pairingPass) })
	if err := g.Wait(); err != nil {
		return err
	}

	return r.runPass(ctx, rollup.TargetDepotDwellDaily, runTS, r.rollupPass)
}

// RunTarget executes one target's pass, preceded by a conforming pass when
// the target reads the latest-by-kind table. Used by the admin trigger.
func (r *Runner) RunTarget(ctx context.Context, target string) error {
	runTS := r.clock().UTC()

	switch target {
	case TargetConformed:
		return r.runPass(ctx, TargetConformed, runTS, r.conformPass)
	case TargetSnapshot:
		if err := r.runPass(ctx, TargetConformed, runTS, r.conformPass); err != nil {
			return err
		}
		return r.runPass(ctx, TargetSnapshot, runTS, r.snapshotPass)
	case facts.TargetDeliveryAttempts:
		return r.runPass(ctx, target, runTS, derivePass(r, r.attemptsDeriver, r.deps.Attempts))
	case facts.TargetExceptions:
		return r.runPass(ctx, target, runTS, derivePass(r, r.exceptionsDeriver, r.deps.Exceptions))
	case facts.TargetETARevisions:
		return r.runPass(ctx, target, runTS, derivePass(r, r.etaDeriver, r.deps.ETAs))
	case pairing.Target:
		return r.runPass(ctx, pairing.Target, runTS, r.pairingPass)
	case rollup.TargetDepotDwellDaily:
		return r.runPass(ctx, rollup.TargetDepotDwellDaily, runTS, r.rollupPass)
	default:
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown target %q", target))
	}
}

// Loop runs full cycles on a fixed interval until the context is canceled.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.RunAll(ctx); err != nil {
			r.logger.Error("materialization cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type passFunc func(ctx context.Context, window watermark.Window) (int, error)

// runPass wraps one target pass with the skip-if-running lock, the window
// computation, the transaction, and observability. The watermark commit
// happens inside the same transaction as the pass's merges, so a failed
// pass leaves the watermark unmoved and the next run repeats the window.
func (r *Runner) runPass(ctx context.Context, target string, runTS time.Time, fn passFunc) error {
	lock := r.locks[target]
	if !lock.TryLock() {
		if r.metrics != nil {
			r.metrics.RunsSkipped.WithLabelValues(target).Inc()
		}
		r.logger.Info("pass already running, skipping", "target", target)
		return nil
	}
	defer lock.Unlock()

	ctx, span := r.tracer.Start(ctx, "materialize."+target)
	defer span.End()

	start := time.Now()
	window, err := r.deps.Tracker.ComputeWindowAt(ctx, target, runTS)
	if err != nil {
		return r.finishPass(span, target, start, 0, window, err)
	}

	var merged int
	err = r.inTx(ctx, func(ctx context.Context) error {
		var err error
		merged, err = fn(ctx, window)
		if err != nil {
			return err
		}
		return r.deps.Tracker.Commit(ctx, target, window.Upper)
	})
	return r.finishPass(span, target, start, merged, window, err)
}

func (r *Runner) finishPass(span trace.Span, target string, start time.Time, merged int, window watermark.Window, err error) error {
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if r.metrics != nil {
			r.metrics.RunsTotal.WithLabelValues(target, "error").Inc()
		}
		r.logger.Error("materialization pass failed",
			"target", target, "window", window.String(), "error", err)
		return fmt.Errorf("pass %s: %w", target, err)
	}

	if r.metrics != nil {
		r.metrics.RunsTotal.WithLabelValues(target, "success").Inc()
		r.metrics.RunDuration.WithLabelValues(target).Observe(elapsed.Seconds())
		r.metrics.RowsMerged.WithLabelValues(target).Add(float64(merged))
		r.metrics.WatermarkSeconds.WithLabelValues(target).Set(float64(window.Upper.Unix()))
	}
	r.logger.Info("materialization pass complete",
		"target", target,
		"window", window.String(),
		"rows_merged", merged,
		"duration", elapsed)
	return nil
}

func (r *Runner) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.db == nil {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pass transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pass transaction: %w", err)
	}
	return nil
}

func (r *Runner) conformPass(ctx context.Context, window watermark.Window) (int, error) {
	events, err := r.deps.Events.ListWindow(ctx, window.Lower, window.Upper)
	if err != nil {
		return 0, err
	}

	res := r.conformer.Conform(events)

	// Deterministic merge order: parcel then kind.
	rows := make([]event.Event, 0, len(res.LatestByKind))
	for _, ev := range res.LatestByKind {
		rows = append(rows, ev)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ParcelID != rows[j].ParcelID {
			return rows[i].ParcelID.String() < rows[j].ParcelID.String()
		}
		return rows[i].Kind < rows[j].Kind
	})

	if err := r.deps.Latest.Merge(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (r *Runner) snapshotPass(ctx context.Context, window watermark.Window) (int, error) {
	events, err := r.deps.Events.ListWindow(ctx, window.Lower, window.Upper)
	if err != nil {
		return 0, err
	}

	res := r.dedup.Conform(events)
	touched := res.TouchedParcels()

	snaps, err := r.projector.ProjectChanged(ctx, touched)
	if err != nil {
		return 0, err
	}
	if err := r.deps.Snapshots.Upsert(ctx, snaps); err != nil {
		return 0, err
	}

	// History versions inside the snapshot pass so both land in one
	// transaction with one run timestamp.
	observedList, err := r.deps.Latest.ListParcels(ctx)
	if err != nil {
		return 0, err
	}
	observed := make(map[domain.ParcelID]struct{}, len(observedList))
	for _, id := range observedList {
		observed[id] = struct{}{}
	}

	stats, err := r.deps.History.Apply(ctx, snaps, observed, window.Upper)
	if err != nil {
		return 0, err
	}
	r.logger.Info("history versions applied",
		"opened", stats.Opened,
		"versioned", stats.Versioned,
		"unchanged", stats.Unchanged,
		"closed", stats.Closed)

	return len(snaps), nil
}

func derivePass[R facts.Row](r *Runner, deriver *facts.Deriver[R], store factstore.Store[R]) passFunc {
	return func(ctx context.Context, window watermark.Window) (int, error) {
		events, err := r.deps.Events.ListWindow(ctx, window.Lower, window.Upper)
		if err != nil {
			return 0, err
		}
		rows := deriver.Derive(r.dedup.Conform(events).Deduped)
		return store.Merge(ctx, rows)
	}
}

func (r *Runner) pairingPass(ctx context.Context, window watermark.Window) (int, error) {
	events, err := r.deps.Events.ListWindow(ctx, window.Lower, window.Upper)
	if err != nil {
		return 0, err
	}

	// Dwell intervals can span windows, so touched parcels are re-paired
	// over their full scan history, not just the window's events.
	touched := make(map[domain.ParcelID]struct{})
	for _, ev := range events {
		if ev.Kind == domain.KindScanInDepot || ev.Kind == domain.KindScanOutDepot {
			touched[ev.ParcelID] = struct{}{}
		}
	}
	if len(touched) == 0 {
		return 0, nil
	}

	parcels := make([]domain.ParcelID, 0, len(touched))
	for id := range touched {
		parcels = append(parcels, id)
	}
	sort.Slice(parcels, func(i, j int) bool {
		return parcels[i].String() < parcels[j].String()
	})

	scans, err := r.deps.Events.ListByParcels(ctx, parcels, pairing.ScanKinds())
	if err != nil {
		return 0, err
	}

	res := r.pairer.Derive(r.dedup.Conform(scans).Deduped)
	if r.metrics != nil {
		r.metrics.DanglingOpens.Set(float64(res.DanglingOpens))
	}

	return r.deps.DepotDwell.Merge(ctx, res.Pairs)
}

func (r *Runner) rollupPass(ctx context.Context, _ watermark.Window) (int, error) {
	// The rollup recomputes every bucket from the fact table; identical
	// fact rows always produce identical aggregates, so a full recompute
	// is the simplest idempotent form.
	dwells, err := r.deps.DepotDwell.List(ctx)
	if err != nil {
		return 0, err
	}
	return r.deps.Rollups.Merge(ctx, r.dwellRollup.Aggregate(dwells))
}
