// Package snapshot derives the current-state view: one row per parcel,
// combining that parcel's latest-per-kind events. The snapshot is both a
// queryable current view and the input the history snapshotter versions.
package snapshot

import (
	"time"

	"relaymart/pkg/domain"
)

// Status is the parcel's position in the delivery lifecycle, derived from
// the most recent operational event. ETA and EXCEPTION events enrich the
// snapshot but never move the status.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusInDepot        Status = "IN_DEPOT"
	StatusOutDepot       Status = "OUT_DEPOT"
	StatusLoaded         Status = "LOADED"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
)

// ParcelSnapshot is the current state of one parcel. Pointer fields are
// unknown until the corresponding event kind has been observed.
type ParcelSnapshot struct {
	ParcelID domain.ParcelID
	Status   Status

	MerchantID          *domain.MerchantID
	ServiceTier         *string
	PromisedWindowStart *time.Time
	PromisedWindowEnd   *time.Time
	WeightGrams         *int
	VolumeCM3           *int

	LastDepotID *domain.DepotID
	RouteID     *domain.RouteID
	CourierID   *domain.CourierID

	PredictedDeliveryTS *time.Time

	DeliveredTS      *time.Time
	DeliveryOutcome  *string
	DeliveryAttempts int

	LastExceptionCode *string

	LastEventTS time.Time
	UpdatedAt   time.Time
}

// TrackedValue returns the snapshot attribute named by a tracked column, as
// the string the history snapshotter compares. Unknown values normalize to
// "" so absence compares stably. Column names follow the materialized table,
// not Go field names.
func (p ParcelSnapshot) TrackedValue(column string) (string, bool) {
	switch column {
	case "status":
		return string(p.Status), true
	case "service_tier":
		return strVal(p.ServiceTier), true
	case "route_id":
		if p.RouteID == nil {
			return "", true
		}
		return p.RouteID.String(), true
	case "courier_id":
		if p.CourierID == nil {
			return "", true
		}
		return p.CourierID.String(), true
	case "last_depot_id":
		if p.LastDepotID == nil {
			return "", true
		}
		return p.LastDepotID.String(), true
	case "predicted_delivery_ts":
		if p.PredictedDeliveryTS == nil {
			return "", true
		}
		return p.PredictedDeliveryTS.UTC().Format(time.RFC3339Nano), true
	case "delivery_outcome":
		return strVal(p.DeliveryOutcome), true
	case "last_exception_code":
		return strVal(p.LastExceptionCode), true
	default:
		return "", false
	}
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
