package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the materializer's tables in dependency order. Statements are
// idempotent so startup can run them unconditionally.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS parcel_events (
		ingest_seq     BIGSERIAL PRIMARY KEY,
		event_id       UUID NOT NULL,
		parcel_id      UUID NOT NULL,
		event_kind     TEXT NOT NULL,
		event_ts       TIMESTAMPTZ NOT NULL,
		sequence_no    INT NOT NULL,
		producer       TEXT NOT NULL DEFAULT '',
		schema_version TEXT NOT NULL DEFAULT '',
		payload        JSONB,
		ingested_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS parcel_events_event_ts_idx
		ON parcel_events (event_ts)`,
	`CREATE INDEX IF NOT EXISTS parcel_events_parcel_kind_idx
		ON parcel_events (parcel_id, event_kind)`,

	`CREATE TABLE IF NOT EXISTS conformed_latest (
		parcel_id   UUID NOT NULL,
		event_kind  TEXT NOT NULL,
		event_id    UUID NOT NULL,
		event_ts    TIMESTAMPTZ NOT NULL,
		sequence_no INT NOT NULL,
		payload     JSONB,
		PRIMARY KEY (parcel_id, event_kind)
	)`,

	`CREATE TABLE IF NOT EXISTS target_watermarks (
		target            TEXT PRIMARY KEY,
		last_processed_ts TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS parcel_snapshot (
		parcel_id             UUID PRIMARY KEY,
		status                TEXT NOT NULL,
		merchant_id           UUID,
		service_tier          TEXT,
		promised_window_start TIMESTAMPTZ,
		promised_window_end   TIMESTAMPTZ,
		weight_grams          INT,
		volume_cm3            INT,
		last_depot_id         UUID,
		route_id              UUID,
		courier_id            UUID,
		predicted_delivery_ts TIMESTAMPTZ,
		delivered_ts          TIMESTAMPTZ,
		delivery_outcome      TEXT,
		delivery_attempts     INT NOT NULL DEFAULT 0,
		last_exception_code   TEXT,
		last_event_ts         TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS dim_parcel_history (
		id         BIGSERIAL PRIMARY KEY,
		parcel_id  UUID NOT NULL,
		attributes JSONB NOT NULL,
		valid_from TIMESTAMPTZ NOT NULL,
		valid_to   TIMESTAMPTZ
	)`,
	// One open version per parcel.
	`CREATE UNIQUE INDEX IF NOT EXISTS dim_parcel_history_open_idx
		ON dim_parcel_history (parcel_id) WHERE valid_to IS NULL`,
	`CREATE INDEX IF NOT EXISTS dim_parcel_history_parcel_idx
		ON dim_parcel_history (parcel_id, valid_from)`,

	`CREATE TABLE IF NOT EXISTS fct_delivery_attempts (
		event_id       UUID PRIMARY KEY,
		parcel_id      UUID NOT NULL,
		delivered_ts   TIMESTAMPTZ NOT NULL,
		attempt_number INT NOT NULL,
		outcome        TEXT NOT NULL DEFAULT '',
		failure_reason TEXT,
		event_ts       TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS fct_exceptions (
		event_id       UUID PRIMARY KEY,
		parcel_id      UUID NOT NULL,
		exception_code TEXT NOT NULL,
		stage_hint     TEXT,
		details        TEXT,
		event_ts       TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS fct_eta_revisions (
		event_id              UUID PRIMARY KEY,
		parcel_id             UUID NOT NULL,
		event_kind            TEXT NOT NULL,
		predicted_delivery_ts TIMESTAMPTZ NOT NULL,
		source                TEXT,
		event_ts              TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS fct_depot_dwell (
		parcel_id     UUID NOT NULL,
		in_ts         TIMESTAMPTZ NOT NULL,
		depot_id      UUID,
		in_event_id   UUID NOT NULL,
		out_event_id  UUID NOT NULL,
		out_ts        TIMESTAMPTZ NOT NULL,
		dwell_seconds DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (parcel_id, in_ts)
	)`,

	`CREATE TABLE IF NOT EXISTS agg_depot_dwell_daily (
		dimension   TEXT NOT NULL,
		bucket_date TIMESTAMPTZ NOT NULL,
		row_count   BIGINT NOT NULL,
		p95         DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (dimension, bucket_date)
	)`,
}

// Migrate creates every table the materializer writes. Derived tables are
// rebuildable from parcel_events, so there is no versioned migration chain
// to maintain; additive DDL lands here.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
