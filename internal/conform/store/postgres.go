package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"relaymart/internal/event"
	"relaymart/pkg/domain"
	txcontext "relaymart/pkg/platform/tx"
)

// PostgresStore persists the conformed_latest table, one row per
// (parcel_id, event_kind). The conditional upsert encodes the supersedes
// rule in SQL so concurrent window merges stay monotonic.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Merge(ctx context.Context, rows []event.Event) error {
	query := `
		INSERT INTO conformed_latest (
			parcel_id, event_kind, event_id, event_ts, sequence_no, payload
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (parcel_id, event_kind) DO UPDATE SET
			event_id = EXCLUDED.event_id,
			event_ts = EXCLUDED.event_ts,
			sequence_no = EXCLUDED.sequence_no,
			payload = EXCLUDED.payload
		WHERE (EXCLUDED.event_ts, EXCLUDED.sequence_no, EXCLUDED.event_id::text)
		    > (conformed_latest.event_ts, conformed_latest.sequence_no, conformed_latest.event_id::text)
	`
	for _, ev := range rows {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal latest payload: %w", err)
		}
		_, err = s.execer(ctx).ExecContext(ctx, query,
			uuid.UUID(ev.ParcelID),
			ev.Kind.String(),
			uuid.UUID(ev.EventID),
			ev.EventTS,
			ev.SequenceNo,
			payload,
		)
		if err != nil {
			return fmt.Errorf("merge latest row (%s, %s): %w", ev.ParcelID, ev.Kind, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListByParcel(ctx context.Context, parcelID domain.ParcelID) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT parcel_id, event_kind, event_id, event_ts, sequence_no, payload
		FROM conformed_latest
		WHERE parcel_id = $1
	`, uuid.UUID(parcelID))
	if err != nil {
		return nil, fmt.Errorf("query latest rows: %w", err)
	}
	defer rows.Close()
	return scanLatestRows(rows)
}

func (s *PostgresStore) ListParcels(ctx context.Context) ([]domain.ParcelID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT parcel_id FROM conformed_latest ORDER BY parcel_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list latest parcels: %w", err)
	}
	defer rows.Close()

	var parcels []domain.ParcelID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan parcel id: %w", err)
		}
		parcels = append(parcels, domain.ParcelID(id))
	}
	return parcels, rows.Err()
}

func scanLatestRows(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var (
			ev       event.Event
			parcelID uuid.UUID
			kind     string
			eventID  uuid.UUID
			payload  []byte
		)
		if err := rows.Scan(&parcelID, &kind, &eventID, &ev.EventTS, &ev.SequenceNo, &payload); err != nil {
			return nil, fmt.Errorf("scan latest row: %w", err)
		}
		ev.ParcelID = domain.ParcelID(parcelID)
		ev.Kind = domain.EventKind(kind)
		ev.EventID = domain.EventID(eventID)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal latest payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
