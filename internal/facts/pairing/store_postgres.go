package pairing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"relaymart/pkg/domain"
	txcontext "relaymart/pkg/platform/tx"
)

// PostgresStore persists fct_depot_dwell. The merge conflicts on
// (parcel_id, in_ts), the row's grain, so a dwell recomputed with a better
// out-scan overwrites the earlier version.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) handle(ctx context.Context) dbHandle {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Merge(ctx context.Context, rows []DepotDwell) (int, error) {
	h := s.handle(ctx)
	for _, row := range rows {
		var depotID any
		if row.DepotID != nil {
			depotID = uuid.UUID(*row.DepotID)
		}
		_, err := h.ExecContext(ctx, `
			INSERT INTO fct_depot_dwell (
				parcel_id, in_ts, depot_id, in_event_id, out_event_id,
				out_ts, dwell_seconds
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (parcel_id, in_ts) DO UPDATE SET
				depot_id = EXCLUDED.depot_id,
				in_event_id = EXCLUDED.in_event_id,
				out_event_id = EXCLUDED.out_event_id,
				out_ts = EXCLUDED.out_ts,
				dwell_seconds = EXCLUDED.dwell_seconds
		`,
			uuid.UUID(row.ParcelID),
			row.InTS,
			depotID,
			uuid.UUID(row.InEventID),
			uuid.UUID(row.OutEventID),
			row.OutTS,
			row.DwellSeconds,
		)
		if err != nil {
			return 0, fmt.Errorf("merge depot dwell %s: %w", row.GrainKey(), err)
		}
	}
	return len(rows), nil
}

func (s *PostgresStore) List(ctx context.Context) ([]DepotDwell, error) {
	rows, err := s.handle(ctx).QueryContext(ctx, `
		SELECT parcel_id, in_ts, depot_id, in_event_id, out_event_id,
		       out_ts, dwell_seconds
		FROM fct_depot_dwell
		ORDER BY parcel_id::text, in_ts
	`)
	if err != nil {
		return nil, fmt.Errorf("list depot dwell: %w", err)
	}
	defer rows.Close()

	var out []DepotDwell
	for rows.Next() {
		var (
			row        DepotDwell
			parcelID   uuid.UUID
			depotID    *uuid.UUID
			inEventID  uuid.UUID
			outEventID uuid.UUID
		)
		err := rows.Scan(&parcelID, &row.InTS, &depotID,
			&inEventID, &outEventID, &row.OutTS, &row.DwellSeconds)
		if err != nil {
			return nil, fmt.Errorf("scan depot dwell: %w", err)
		}
		row.ParcelID = domain.ParcelID(parcelID)
		if depotID != nil {
			id := domain.DepotID(*depotID)
			row.DepotID = &id
		}
		row.InEventID = domain.EventID(inEventID)
		row.OutEventID = domain.EventID(outEventID)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.handle(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM fct_depot_dwell`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count depot dwell: %w", err)
	}
	return n, nil
}
