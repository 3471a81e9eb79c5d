package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"relaymart/internal/snapshot"
	"relaymart/pkg/domain"
	"relaymart/pkg/platform/sentinel"
	txcontext "relaymart/pkg/platform/tx"
)

// PostgresStore persists the parcel_snapshot table.
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

func (s *PostgresStore) Upsert(ctx context.Context, snaps []snapshot.ParcelSnapshot) error {
	query := `
		INSERT INTO parcel_snapshot (
			parcel_id, status, merchant_id, service_tier,
			promised_window_start, promised_window_end, weight_grams, volume_cm3,
			last_depot_id, route_id, courier_id, predicted_delivery_ts,
			delivered_ts, delivery_outcome, delivery_attempts, last_exception_code,
			last_event_ts, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (parcel_id) DO UPDATE SET
			status = EXCLUDED.status,
			merchant_id = EXCLUDED.merchant_id,
			service_tier = EXCLUDED.service_tier,
			promised_window_start = EXCLUDED.promised_window_start,
			promised_window_end = EXCLUDED.promised_window_end,
			weight_grams = EXCLUDED.weight_grams,
			volume_cm3 = EXCLUDED.volume_cm3,
			last_depot_id = EXCLUDED.last_depot_id,
			route_id = EXCLUDED.route_id,
			courier_id = EXCLUDED.courier_id,
			predicted_delivery_ts = EXCLUDED.predicted_delivery_ts,
			delivered_ts = EXCLUDED.delivered_ts,
			delivery_outcome = EXCLUDED.delivery_outcome,
			delivery_attempts = EXCLUDED.delivery_attempts,
			last_exception_code = EXCLUDED.last_exception_code,
			last_event_ts = EXCLUDED.last_event_ts,
			updated_at = EXCLUDED.updated_at
	`
	for _, snap := range snaps {
		_, err := s.execer(ctx).ExecContext(ctx, query,
			uuid.UUID(snap.ParcelID),
			string(snap.Status),
			uuidOrNil((*uuid.UUID)(snap.MerchantID)),
			snap.ServiceTier,
			snap.PromisedWindowStart,
			snap.PromisedWindowEnd,
			snap.WeightGrams,
			snap.VolumeCM3,
			uuidOrNil((*uuid.UUID)(snap.LastDepotID)),
			uuidOrNil((*uuid.UUID)(snap.RouteID)),
			uuidOrNil((*uuid.UUID)(snap.CourierID)),
			snap.PredictedDeliveryTS,
			snap.DeliveredTS,
			snap.DeliveryOutcome,
			snap.DeliveryAttempts,
			snap.LastExceptionCode,
			snap.LastEventTS,
			snap.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert snapshot %s: %w", snap.ParcelID, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, parcelID domain.ParcelID) (snapshot.ParcelSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT parcel_id, status, merchant_id, service_tier,
		       promised_window_start, promised_window_end, weight_grams, volume_cm3,
		       last_depot_id, route_id, courier_id, predicted_delivery_ts,
		       delivered_ts, delivery_outcome, delivery_attempts, last_exception_code,
		       last_event_ts, updated_at
		FROM parcel_snapshot
		WHERE parcel_id = $1
	`, uuid.UUID(parcelID))

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.ParcelSnapshot{}, sentinel.ErrNotFound
	}
	if err != nil {
		return snapshot.ParcelSnapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) ListParcels(ctx context.Context) ([]domain.ParcelID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT parcel_id FROM parcel_snapshot ORDER BY parcel_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshot parcels: %w", err)
	}
	defer rows.Close()

	var parcels []domain.ParcelID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan snapshot parcel: %w", err)
		}
		parcels = append(parcels, domain.ParcelID(id))
	}
	return parcels, rows.Err()
}

func uuidOrNil(u *uuid.UUID) any {
	if u == nil {
		return nil
	}
	return *u
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (snapshot.ParcelSnapshot, error) {
	var (
		snap       snapshot.ParcelSnapshot
		parcelID   uuid.UUID
		status     string
		merchantID *uuid.UUID
		depotID    *uuid.UUID
		routeID    *uuid.UUID
		courierID  *uuid.UUID
	)
	err := row.Scan(
		&parcelID,
		&status,
		&merchantID,
		&snap.ServiceTier,
		&snap.PromisedWindowStart,
		&snap.PromisedWindowEnd,
		&snap.WeightGrams,
		&snap.VolumeCM3,
		&depotID,
		&routeID,
		&courierID,
		&snap.PredictedDeliveryTS,
		&snap.DeliveredTS,
		&snap.DeliveryOutcome,
		&snap.DeliveryAttempts,
		&snap.LastExceptionCode,
		&snap.LastEventTS,
		&snap.UpdatedAt,
	)
	if err != nil {
		return snapshot.ParcelSnapshot{}, err
	}
	snap.ParcelID = domain.ParcelID(parcelID)
	snap.Status = snapshot.Status(status)
	snap.MerchantID = (*domain.MerchantID)(merchantID)
	snap.LastDepotID = (*domain.DepotID)(depotID)
	snap.RouteID = (*domain.RouteID)(routeID)
	snap.CourierID = (*domain.CourierID)(courierID)
	return snap, nil
}
