package watermark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	txcontext "relaymart/pkg/platform/tx"
	"relaymart/pkg/platform/sentinel"
)

// PostgresStore persists watermarks in the target_watermarks table. Commit
// picks up a transaction from context when the runner opened one, which is
// how the merge-and-watermark atomicity contract is implemented.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, target string) (time.Time, error) {
	var ts time.Time
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT last_processed_ts FROM target_watermarks WHERE target = $1`,
		target,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, sentinel.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get watermark: %w", err)
	}
	return ts, nil
}

func (s *PostgresStore) Commit(ctx context.Context, target string, ts time.Time) error {
	// GREATEST keeps the watermark monotonic even if an old run commits late.
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO target_watermarks (target, last_processed_ts, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (target) DO UPDATE SET
			last_processed_ts = GREATEST(target_watermarks.last_processed_ts, EXCLUDED.last_processed_ts),
			updated_at = NOW()
	`, target, ts)
	if err != nil {
		return fmt.Errorf("commit watermark: %w", err)
	}
	return nil
}

// List returns every committed watermark keyed by target, for the admin API.
func (s *PostgresStore) List(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target, last_processed_ts FROM target_watermarks ORDER BY target`,
	)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	defer rows.Close()

	marks := make(map[string]time.Time)
	for rows.Next() {
		var target string
		var ts time.Time
		if err := rows.Scan(&target, &ts); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		marks[target] = ts
	}
	return marks, rows.Err()
}
