// Package httptransport is the thin admin surface over the materializer:
// health, watermark inspection, manual run triggers, snapshot lookups, and
// the Prometheus scrape endpoint. It delegates to the runner and stores
// without embedding materialization logic.
package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the admin endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/watermarks", h.HandleListWatermarks)
	r.Post("/runs", h.HandleTriggerRun)
	r.Get("/parcels/{parcelID}", h.HandleGetParcel)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
