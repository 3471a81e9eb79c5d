package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the materializer.
type Metrics struct {
	EventsIngested   prometheus.Counter
	EventsRejected   *prometheus.CounterVec
	EventsConformed  prometheus.Counter
	EventsMalformed  *prometheus.CounterVec
	RunsTotal        *prometheus.CounterVec
	RunsSkipped      *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	RowsMerged       *prometheus.CounterVec
	DanglingOpens    prometheus.Gauge
	WatermarkSeconds *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EventsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaymart_events_ingested_total",
			Help: "Raw events appended to the event log",
		}),
		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relaymart_events_rejected_total",
			Help: "Events rejected at ingest, by reason",
		}, []string{"reason"}),
		EventsConformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relaymart_events_conformed_total",
			Help: "Events surviving dedup in conforming passes",
		}),
		EventsMalformed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relaymart_events_malformed_total",
			Help: "Events excluded from conforming, by missing field",
		}, []string{"reason"}),
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relaymart_runs_total",
			Help: "Materialization passes, by target and outcome",
		}, []string{"target", "outcome"}),
		RunsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relaymart_runs_skipped_total",
			Help: "Passes skipped because the target was already running",
		}, []string{"target"}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaymart_run_duration_seconds",
			Help:    "Wall time of materialization passes",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),
		RowsMerged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relaymart_rows_merged_total",
			Help: "Rows upserted into derived tables, by target",
		}, []string{"target"}),
		DanglingOpens: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relaymart_pairing_dangling_opens",
			Help: "Open scan events without a matching close in the last pairing pass",
		}),
		WatermarkSeconds: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relaymart_watermark_timestamp_seconds",
			Help: "Committed watermark per target as a unix timestamp",
		}, []string{"target"}),
	}
}
