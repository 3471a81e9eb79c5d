package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"relaymart/internal/snapshot"
	snapshotstore "relaymart/internal/snapshot/store"
	"relaymart/pkg/domain"
	dErrors "relaymart/pkg/domain-errors"
	"relaymart/pkg/platform/httputil"
	"relaymart/pkg/platform/sentinel"
)

// Runner triggers materialization passes.
type Runner interface {
	RunAll(ctx context.Context) error
	RunTarget(ctx context.Context, target string) error
}

// WatermarkLister exposes committed watermarks for inspection.
type WatermarkLister interface {
	List(ctx context.Context) (map[string]time.Time, error)
}

type Handler struct {
	runner     Runner
	watermarks WatermarkLister
	snapshots  snapshotstore.Store
	logger     *slog.Logger
}

func NewHandler(runner Runner, watermarks WatermarkLister, snapshots snapshotstore.Store, logger *slog.Logger) *Handler {
	return &Handler{
		runner:     runner,
		watermarks: watermarks,
		snapshots:  snapshots,
		logger:     logger,
	}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleListWatermarks handles GET /watermarks.
func (h *Handler) HandleListWatermarks(w http.ResponseWriter, r *http.Request) {
	marks, err := h.watermarks.List(r.Context())
	if err != nil {
		h.logger.Error("list watermarks failed", "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "list watermarks"))
		return
	}

	out := make(map[string]string, len(marks))
	for target, ts := range marks {
		out[target] = ts.UTC().Format(time.RFC3339Nano)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"watermarks": out})
}

type triggerRunRequest struct {
	// Target selects one materialization target; empty runs a full cycle.
	Target string `json:"target,omitempty"`
}

// HandleTriggerRun handles POST /runs. The run executes synchronously; an
// overlapping trigger for a running target is skipped, not queued.
func (h *Handler) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}

	start := time.Now()
	var err error
	if req.Target == "" {
		err = h.runner.RunAll(r.Context())
	} else {
		err = h.runner.RunTarget(r.Context(), req.Target)
	}
	if err != nil {
		h.logger.Error("triggered run failed", "target", req.Target, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.Info("triggered run complete",
		"target", req.Target,
		"duration_ms", time.Since(start).Milliseconds())
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleGetParcel handles GET /parcels/{parcelID}, serving the current
// snapshot row.
func (h *Handler) HandleGetParcel(w http.ResponseWriter, r *http.Request) {
	parcelID, err := domain.ParseParcelID(chi.URLParam(r, "parcelID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	snap, err := h.snapshots.Get(r.Context(), parcelID)
	if errors.Is(err, sentinel.ErrNotFound) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "parcel not found"))
		return
	}
	if err != nil {
		h.logger.Error("get snapshot failed", "parcel_id", parcelID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "get snapshot"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, fromSnapshot(snap))
}

// parcelResponse is the wire form of a snapshot row.
type parcelResponse struct {
	ParcelID            string     `json:"parcel_id"`
	Status              string     `json:"status"`
	MerchantID          *string    `json:"merchant_id,omitempty"`
	ServiceTier         *string    `json:"service_tier,omitempty"`
	LastDepotID         *string    `json:"last_depot_id,omitempty"`
	RouteID             *string    `json:"route_id,omitempty"`
	CourierID           *string    `json:"courier_id,omitempty"`
	PredictedDeliveryTS *time.Time `json:"predicted_delivery_ts,omitempty"`
	DeliveredTS         *time.Time `json:"delivered_ts,omitempty"`
	DeliveryOutcome     *string    `json:"delivery_outcome,omitempty"`
	DeliveryAttempts    int        `json:"delivery_attempts"`
	LastExceptionCode   *string    `json:"last_exception_code,omitempty"`
	LastEventTS         time.Time  `json:"last_event_ts"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func fromSnapshot(snap snapshot.ParcelSnapshot) parcelResponse {
	resp := parcelResponse{
		ParcelID:            snap.ParcelID.String(),
		Status:              string(snap.Status),
		ServiceTier:         snap.ServiceTier,
		PredictedDeliveryTS: snap.PredictedDeliveryTS,
		DeliveredTS:         snap.DeliveredTS,
		DeliveryOutcome:     snap.DeliveryOutcome,
		DeliveryAttempts:    snap.DeliveryAttempts,
		LastExceptionCode:   snap.LastExceptionCode,
		LastEventTS:         snap.LastEventTS,
		UpdatedAt:           snap.UpdatedAt,
	}
	if snap.MerchantID != nil {
		s := snap.MerchantID.String()
		resp.MerchantID = &s
	}
	if snap.LastDepotID != nil {
		s := snap.LastDepotID.String()
		resp.LastDepotID = &s
	}
	if snap.RouteID != nil {
		s := snap.RouteID.String()
		resp.RouteID = &s
	}
	if snap.CourierID != nil {
		s := snap.CourierID.String()
		resp.CourierID = &s
	}
	return resp
}
