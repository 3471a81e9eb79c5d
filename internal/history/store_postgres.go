package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"relaymart/pkg/domain"
	"relaymart/pkg/platform/sentinel"
	txcontext "relaymart/pkg/platform/tx"
)

// PostgresStore persists the dim_parcel_history table. Attributes are stored
// as JSONB keyed by tracked column; the partial unique index on
// (parcel_id) WHERE valid_to IS NULL enforces the single-open-record
// invariant at the schema level.
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

func (s *PostgresStore) GetOpen(ctx context.Context, parcelID domain.ParcelID) (Record, error) {
	row := s.handle(ctx).QueryRowContext(ctx, `
		SELECT parcel_id, attributes, valid_from, valid_to
		FROM dim_parcel_history
		WHERE parcel_id = $1 AND valid_to IS NULL
	`, uuid.UUID(parcelID))

	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get open history record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListOpenParcels(ctx context.Context) ([]domain.ParcelID, error) {
	rows, err := s.handle(ctx).QueryContext(ctx,
		`SELECT parcel_id FROM dim_parcel_history WHERE valid_to IS NULL ORDER BY parcel_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list open history parcels: %w", err)
	}
	defer rows.Close()

	var parcels []domain.ParcelID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan open history parcel: %w", err)
		}
		parcels = append(parcels, domain.ParcelID(id))
	}
	return parcels, rows.Err()
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshal history attributes: %w", err)
	}
	_, err = s.handle(ctx).ExecContext(ctx, `
		INSERT INTO dim_parcel_history (parcel_id, attributes, valid_from, valid_to)
		VALUES ($1, $2, $3, NULL)
	`, uuid.UUID(rec.ParcelID), attrs, rec.ValidFrom)
	if err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context, parcelID domain.ParcelID, validTo time.Time) error {
	res, err := s.handle(ctx).ExecContext(ctx, `
		UPDATE dim_parcel_history
		SET valid_to = $2
		WHERE parcel_id = $1 AND valid_to IS NULL
	`, uuid.UUID(parcelID), validTo)
	if err != nil {
		return fmt.Errorf("close history record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByParcel(ctx context.Context, parcelID domain.ParcelID) ([]Record, error) {
	rows, err := s.handle(ctx).QueryContext(ctx, `
		SELECT parcel_id, attributes, valid_from, valid_to
		FROM dim_parcel_history
		WHERE parcel_id = $1
		ORDER BY valid_from
	`, uuid.UUID(parcelID))
	if err != nil {
		return nil, fmt.Errorf("list history records: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var (
		rec      Record
		parcelID uuid.UUID
		attrs    []byte
		validTo  sql.NullTime
	)
	if err := scan(&parcelID, &attrs, &rec.ValidFrom, &validTo); err != nil {
		return Record{}, err
	}
	rec.ParcelID = domain.ParcelID(parcelID)
	if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
		return Record{}, fmt.Errorf("unmarshal history attributes: %w", err)
	}
	if validTo.Valid {
		t := validTo.Time
		rec.ValidTo = &t
	}
	return rec, nil
}
