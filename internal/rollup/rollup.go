// Package rollup computes windowed aggregates over fact tables: per
// (dimension, date bucket), a row count and an approximate p95 over a
// declared measure. The quantile is approximate with bounded error; large
// per-bucket cardinalities would not fit an exact computation.
package rollup

import (
	"fmt"
	"sort"
	"time"

	"github.com/beorn7/perks/quantile"

	"relaymart/internal/facts"
)

// p95 tolerance for the targeted quantile stream.
const p95Epsilon = 0.001

// Row is one aggregate bucket. The grain is (dimension, bucket date).
type Row struct {
	Dimension string
	Bucket    time.Time
	Count     int64
	P95       float64
}

func (r Row) GrainKey() string {
	return fmt.Sprintf("%s|%s", r.Dimension, r.Bucket.UTC().Format("2006-01-02"))
}

// Aggregator groups fact rows of one target into rollup rows.
//
// Inputs are sorted by grain key before they feed the quantile stream, so
// the approximation is a function of the row set alone, not of the order
// the store returned them in.
type Aggregator[R facts.Row] struct {
	target    string
	dimension func(R) string
	bucketTS  func(R) time.Time
	measure   func(R) float64
}

func NewAggregator[R facts.Row](target string, dimension func(R) string, bucketTS func(R) time.Time, measure func(R) float64) *Aggregator[R] {
	return &Aggregator[R]{
		target:    target,
		dimension: dimension,
		bucketTS:  bucketTS,
		measure:   measure,
	}
}

func (a *Aggregator[R]) Target() string { return a.target }

// Aggregate rolls the fact rows up into one row per (dimension, bucket),
// ordered by grain key.
func (a *Aggregator[R]) Aggregate(rows []R) []Row {
	sorted := make([]R, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].GrainKey() < sorted[j].GrainKey()
	})

	type bucket struct {
		count  int64
		stream *quantile.Stream
	}

	buckets := make(map[Row]*bucket)
	for _, row := range sorted {
		key := Row{
			Dimension: a.dimension(row),
			Bucket:    truncateToDay(a.bucketTS(row)),
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{stream: quantile.NewTargeted(map[float64]float64{0.95: p95Epsilon})}
			buckets[key] = b
		}
		b.count++
		b.stream.Insert(a.measure(row))
	}

	out := make([]Row, 0, len(buckets))
	for key, b := range buckets {
		key.Count = b.count
		key.P95 = b.stream.Query(0.95)
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GrainKey() < out[j].GrainKey()
	})
	return out
}

func truncateToDay(ts time.Time) time.Time {
	ts = ts.UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}
