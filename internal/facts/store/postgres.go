package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"relaymart/internal/facts"
	"relaymart/pkg/domain"
	txcontext "relaymart/pkg/platform/tx"
)

type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// handle picks the transaction from context when the runner opened one, so
// fact merges land in the same transaction as the watermark commit.
func handle(ctx context.Context, db *sql.DB) dbHandle {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return db
}

func countRows(ctx context.Context, db *sql.DB, table string) (int64, error) {
	var n int64
	if err := handle(ctx, db).QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// PostgresDeliveryAttempts persists fct_delivery_attempts.
type PostgresDeliveryAttempts struct {
	db *sql.DB
}

func NewPostgresDeliveryAttempts(db *sql.DB) *PostgresDeliveryAttempts {
	return &PostgresDeliveryAttempts{db: db}
}

func (s *PostgresDeliveryAttempts) Merge(ctx context.Context, rows []facts.DeliveryAttempt) (int, error) {
	h := handle(ctx, s.db)
	for _, row := range rows {
		_, err := h.ExecContext(ctx, `
			INSERT INTO fct_delivery_attempts (
				event_id, parcel_id, delivered_ts, attempt_number,
				outcome, failure_reason, event_ts
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (event_id) DO UPDATE SET
				parcel_id = EXCLUDED.parcel_id,
				delivered_ts = EXCLUDED.delivered_ts,
				attempt_number = EXCLUDED.attempt_number,
				outcome = EXCLUDED.outcome,
				failure_reason = EXCLUDED.failure_reason,
				event_ts = EXCLUDED.event_ts
		`,
			uuid.UUID(row.EventID),
			uuid.UUID(row.ParcelID),
			row.DeliveredTS,
			row.AttemptNumber,
			row.Outcome,
			row.FailureReason,
			row.EventTS,
		)
		if err != nil {
			return 0, fmt.Errorf("merge delivery attempt %s: %w", row.EventID, err)
		}
	}
	return len(rows), nil
}

func (s *PostgresDeliveryAttempts) List(ctx context.Context) ([]facts.DeliveryAttempt, error) {
	rows, err := handle(ctx, s.db).QueryContext(ctx, `
		SELECT event_id, parcel_id, delivered_ts, attempt_number,
		       outcome, failure_reason, event_ts
		FROM fct_delivery_attempts
		ORDER BY event_id::text
	`)
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()

	var out []facts.DeliveryAttempt
	for rows.Next() {
		var (
			row      facts.DeliveryAttempt
			eventID  uuid.UUID
			parcelID uuid.UUID
		)
		err := rows.Scan(&eventID, &parcelID, &row.DeliveredTS,
			&row.AttemptNumber, &row.Outcome, &row.FailureReason, &row.EventTS)
		if err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		row.EventID = domain.EventID(eventID)
		row.ParcelID = domain.ParcelID(parcelID)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresDeliveryAttempts) Count(ctx context.Context) (int64, error) {
	return countRows(ctx, s.db, "fct_delivery_attempts")
}

// PostgresExceptions persists fct_exceptions.
type PostgresExceptions struct {
	db *sql.DB
}

func NewPostgresExceptions(db *sql.DB) *PostgresExceptions {
	return &PostgresExceptions{db: db}
}

func (s *PostgresExceptions) Merge(ctx context.Context, rows []facts.Exception) (int, error) {
	h := handle(ctx, s.db)
	for _, row := range rows {
		_, err := h.ExecContext(ctx, `
			INSERT INTO fct_exceptions (
				event_id, parcel_id, exception_code, stage_hint, details, event_ts
			)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_id) DO UPDATE SET
				parcel_id = EXCLUDED.parcel_id,
				exception_code = EXCLUDED.exception_code,
				stage_hint = EXCLUDED.stage_hint,
				details = EXCLUDED.details,
				event_ts = EXCLUDED.event_ts
		`,
			uuid.UUID(row.EventID),
			uuid.UUID(row.ParcelID),
			row.Code,
			row.StageHint,
			row.Details,
			row.EventTS,
		)
		if err != nil {
			return 0, fmt.Errorf("merge exception %s: %w", row.EventID, err)
		}
	}
	return len(rows), nil
}

func (s *PostgresExceptions) List(ctx context.Context) ([]facts.Exception, error) {
	rows, err := handle(ctx, s.db).QueryContext(ctx, `
		SELECT event_id, parcel_id, exception_code, stage_hint, details, event_ts
		FROM fct_exceptions
		ORDER BY event_id::text
	`)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	defer rows.Close()

	var out []facts.Exception
	for rows.Next() {
		var (
			row      facts.Exception
			eventID  uuid.UUID
			parcelID uuid.UUID
		)
		err := rows.Scan(&eventID, &parcelID, &row.Code,
			&row.StageHint, &row.Details, &row.EventTS)
		if err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		row.EventID = domain.EventID(eventID)
		row.ParcelID = domain.ParcelID(parcelID)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresExceptions) Count(ctx context.Context) (int64, error) {
	return countRows(ctx, s.db, "fct_exceptions")
}

// PostgresETARevisions persists fct_eta_revisions.
type PostgresETARevisions struct {
	db *sql.DB
}

func NewPostgresETARevisions(db *sql.DB) *PostgresETARevisions {
	return &PostgresETARevisions{db: db}
}

func (s *PostgresETARevisions) Merge(ctx context.Context, rows []facts.ETARevision) (int, error) {
	h := handle(ctx, s.db)
	for _, row := range rows {
		_, err := h.ExecContext(ctx, `
			INSERT INTO fct_eta_revisions (
				event_id, parcel_id, event_kind, predicted_delivery_ts, source, event_ts
			)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_id) DO UPDATE SET
				parcel_id = EXCLUDED.parcel_id,
				event_kind = EXCLUDED.event_kind,
				predicted_delivery_ts = EXCLUDED.predicted_delivery_ts,
				source = EXCLUDED.source,
				event_ts = EXCLUDED.event_ts
		`,
			uuid.UUID(row.EventID),
			uuid.UUID(row.ParcelID),
			row.Kind.String(),
			row.PredictedDeliveryTS,
			row.Source,
			row.EventTS,
		)
		if err != nil {
			return 0, fmt.Errorf("merge eta revision %s: %w", row.EventID, err)
		}
	}
	return len(rows), nil
}

func (s *PostgresETARevisions) List(ctx context.Context) ([]facts.ETARevision, error) {
	rows, err := handle(ctx, s.db).QueryContext(ctx, `
		SELECT event_id, parcel_id, event_kind, predicted_delivery_ts, source, event_ts
		FROM fct_eta_revisions
		ORDER BY event_id::text
	`)
	if err != nil {
		return nil, fmt.Errorf("list eta revisions: %w", err)
	}
	defer rows.Close()

	var out []facts.ETARevision
	for rows.Next() {
		var (
			row      facts.ETARevision
			eventID  uuid.UUID
			parcelID uuid.UUID
			kind     string
		)
		err := rows.Scan(&eventID, &parcelID, &kind,
			&row.PredictedDeliveryTS, &row.Source, &row.EventTS)
		if err != nil {
			return nil, fmt.Errorf("scan eta revision: %w", err)
		}
		row.EventID = domain.EventID(eventID)
		row.ParcelID = domain.ParcelID(parcelID)
		row.Kind = domain.EventKind(kind)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresETARevisions) Count(ctx context.Context) (int64, error) {
	return countRows(ctx, s.db, "fct_eta_revisions")
}
