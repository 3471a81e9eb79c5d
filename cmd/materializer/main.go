package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	conformstore "relaymart/internal/conform/store"
	eventstore "relaymart/internal/event/store"
	"relaymart/internal/facts"
	"relaymart/internal/facts/pairing"
	factstore "relaymart/internal/facts/store"
	"relaymart/internal/history"
	"relaymart/internal/ingest"
	"relaymart/internal/platform/config"
	"relaymart/internal/platform/httpserver"
	"relaymart/internal/platform/logger"
	"relaymart/internal/platform/metrics"
	"relaymart/internal/platform/postgres"
	platformredis "relaymart/internal/platform/redis"
	"relaymart/internal/rollup"
	"relaymart/internal/runner"
	snapshotstore "relaymart/internal/snapshot/store"
	httptransport "relaymart/internal/transport/http"
	"relaymart/internal/watermark"
)

// main wires stores and the runner, starts the ingest consumer and the run
// loop, and serves the admin surface. Materialization logic lives in the
// internal packages; main only assembles them.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := runner.Deps{}
	var watermarkStore httptransport.WatermarkLister
	var db *sql.DB

	if cfg.DatabaseURL != "" {
		var err error
		db, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Error("apply schema", "error", err)
			os.Exit(1)
		}

		pgWatermarks := watermark.NewPostgres(db)
		watermarkStore = pgWatermarks

		deps.Events = eventstore.NewPostgres(db)
		deps.Latest = conformstore.NewPostgres(db)
		deps.Snapshots = snapshotstore.NewPostgres(db)
		deps.Attempts = factstore.NewPostgresDeliveryAttempts(db)
		deps.Exceptions = factstore.NewPostgresExceptions(db)
		deps.ETAs = factstore.NewPostgresETARevisions(db)
		deps.DepotDwell = pairing.NewPostgres(db)
		deps.Rollups = rollup.NewPostgres(db, "agg_depot_dwell_daily")

		historyStore := history.NewPostgres(db)
		deps.History = mustHistory(log, historyStore, cfg)

		tracker, err := watermark.New(pgWatermarks, cfg.BootstrapDays)
		if err != nil {
			log.Error("build watermark tracker", "error", err)
			os.Exit(1)
		}
		deps.Tracker = tracker

		// Redis fronts snapshot reads only; correctness stays in Postgres.
		if cfg.RedisURL != "" {
			redisClient, err := platformredis.New(cfg.RedisURL)
			if err != nil {
				log.Error("connect redis", "error", err)
				os.Exit(1)
			}
			defer redisClient.Close()
			deps.Snapshots = snapshotstore.NewCached(deps.Snapshots, redisClient.Client, cfg.SnapshotCacheTTL, log)
		}
	} else {
		log.Info("no database configured, running with in-memory stores")
		memWatermarks := watermark.NewInMemoryStore()
		watermarkStore = memWatermarks

		deps.Events = eventstore.NewInMemoryStore()
		deps.Latest = conformstore.NewInMemoryStore()
		deps.Snapshots = snapshotstore.NewInMemoryStore()
		deps.Attempts = factstore.NewInMemoryStore[facts.DeliveryAttempt]()
		deps.Exceptions = factstore.NewInMemoryStore[facts.Exception]()
		deps.ETAs = factstore.NewInMemoryStore[facts.ETARevision]()
		deps.DepotDwell = factstore.NewInMemoryStore[pairing.DepotDwell]()
		deps.Rollups = factstore.NewInMemoryStore[rollup.Row]()
		deps.History = mustHistory(log, history.NewInMemoryStore(), cfg)

		tracker, err := watermark.New(memWatermarks, cfg.BootstrapDays)
		if err != nil {
			log.Error("build watermark tracker", "error", err)
			os.Exit(1)
		}
		deps.Tracker = tracker
	}

	runnerOpts := []runner.Option{
		runner.WithLogger(log),
		runner.WithMetrics(m),
	}
	if db != nil {
		runnerOpts = append(runnerOpts, runner.WithDB(db))
	}

	run, err := runner.New(deps, runnerOpts...)
	if err != nil {
		log.Error("build runner", "error", err)
		os.Exit(1)
	}

	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := ingest.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup, deps.Events,
			ingest.WithLogger(log), ingest.WithMetrics(m))
		if err != nil {
			log.Error("build ingest consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()
		if err := consumer.EnsureTopic(ctx, 3); err != nil {
			log.Error("ensure event topic", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("ingest consumer stopped", "error", err)
			}
		}()
	}

	go func() {
		if err := run.Loop(ctx, cfg.RunInterval); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("run loop stopped", "error", err)
		}
	}()

	handler := httptransport.NewHandler(run, watermarkStore, deps.Snapshots, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	log.Info("starting relaymart materializer", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// mustHistory builds the history snapshotter, exiting on configuration
// errors: an invalid tracked-column list must never start the service.
func mustHistory(log *slog.Logger, store history.Store, cfg config.Materializer) *history.Snapshotter {
	policy := history.DeletePolicyRetain
	if cfg.CloseDeletedHistory {
		policy = history.DeletePolicyClose
	}

	snapshotter, err := history.New(store, cfg.TrackedColumns, policy)
	if err != nil {
		log.Error("history configuration invalid", "error", err)
		os.Exit(1)
	}
	return snapshotter
}
