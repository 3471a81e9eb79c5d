package rollup

import (
	"context"
	"database/sql"
	"fmt"

	txcontext "relaymart/pkg/platform/tx"
)

// PostgresStore persists one rollup target's rows, conflicting on the
// (dimension, bucket) grain.
type PostgresStore struct {
	db    *sql.DB
	table string
}

func NewPostgres(db *sql.DB, table string) *PostgresStore {
	return &PostgresStore{db: db, table: table}
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

func (s *PostgresStore) Merge(ctx context.Context, rows []Row) (int, error) {
	h := s.handle(ctx)
	query := fmt.Sprintf(`
		INSERT INTO %s (dimension, bucket_date, row_count, p95)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dimension, bucket_date) DO UPDATE SET
			row_count = EXCLUDED.row_count,
			p95 = EXCLUDED.p95
	`, s.table)
	for _, row := range rows {
		if _, err := h.ExecContext(ctx, query, row.Dimension, row.Bucket, row.Count, row.P95); err != nil {
			return 0, fmt.Errorf("merge rollup row %s: %w", row.GrainKey(), err)
		}
	}
	return len(rows), nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Row, error) {
	rows, err := s.handle(ctx).QueryContext(ctx, fmt.Sprintf(`
		SELECT dimension, bucket_date, row_count, p95
		FROM %s
		ORDER BY dimension, bucket_date
	`, s.table))
	if err != nil {
		return nil, fmt.Errorf("list rollup rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Dimension, &row.Bucket, &row.Count, &row.P95); err != nil {
			return nil, fmt.Errorf("scan rollup row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.handle(ctx).QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rollup rows: %w", err)
	}
	return n, nil
}
