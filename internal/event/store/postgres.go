package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"relaymart/internal/event"
	"relaymart/pkg/domain"
)

// PostgresStore persists the raw event log in the parcel_events table.
// Envelope fields are first-class columns; the kind-specific payload rides
// along as JSONB the way the outbox pattern stores event bodies.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) AppendBatch(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO parcel_events (
			event_id, parcel_id, event_kind, event_ts,
			sequence_no, producer, schema_version, payload, ingested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			uuid.UUID(ev.EventID),
			uuid.UUID(ev.ParcelID),
			ev.Kind.String(),
			ev.EventTS,
			ev.SequenceNo,
			ev.Producer,
			ev.SchemaVersion,
			payload,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWindow(ctx context.Context, lower, upper time.Time) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ingest_seq, event_id, parcel_id, event_kind, event_ts,
		       sequence_no, producer, schema_version, payload
		FROM parcel_events
		WHERE event_ts > $1 AND event_ts <= $2
		ORDER BY ingest_seq
	`, lower, upper)
	if err != nil {
		return nil, fmt.Errorf("query event window: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) ListByParcels(ctx context.Context, parcelIDs []domain.ParcelID, kinds []domain.EventKind) ([]event.Event, error) {
	if len(parcelIDs) == 0 || len(kinds) == 0 {
		return nil, nil
	}

	ids := make([]string, len(parcelIDs))
	for i, id := range parcelIDs {
		ids[i] = id.String()
	}
	kindNames := make([]string, len(kinds))
	for i, k := range kinds {
		kindNames[i] = k.String()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ingest_seq, event_id, parcel_id, event_kind, event_ts,
		       sequence_no, producer, schema_version, payload
		FROM parcel_events
		WHERE parcel_id = ANY($1) AND event_kind = ANY($2)
		ORDER BY ingest_seq
	`, pq.Array(ids), pq.Array(kindNames))
	if err != nil {
		return nil, fmt.Errorf("query events by parcel: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var (
			ev       event.Event
			eventID  uuid.UUID
			parcelID uuid.UUID
			kind     string
			payload  []byte
		)
		err := rows.Scan(
			&ev.IngestSeq,
			&eventID,
			&parcelID,
			&kind,
			&ev.EventTS,
			&ev.SequenceNo,
			&ev.Producer,
			&ev.SchemaVersion,
			&payload,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.EventID = domain.EventID(eventID)
		ev.ParcelID = domain.ParcelID(parcelID)
		ev.Kind = domain.EventKind(kind)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parcel_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
