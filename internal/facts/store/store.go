// Package store persists derived fact rows. Every implementation merges by
// grain key: inserting a row whose key already exists overwrites the
// existing row, which is what makes window reprocessing idempotent.
package store

import (
	"context"

	"relaymart/internal/facts"
)

// Store is the fact table contract for one target.
type Store[R facts.Row] interface {
	// Merge upserts rows by grain key and returns the number of rows
	// written. Merging the same rows twice yields the same table.
	Merge(ctx context.Context, rows []R) (int, error)

	// List returns all rows ordered by grain key.
	List(ctx context.Context) ([]R, error)

	// Count returns the number of rows in the target.
	Count(ctx context.Context) (int64, error)
}
