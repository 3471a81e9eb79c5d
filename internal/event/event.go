// Package event defines the raw parcel event record, the append-only unit of
// the whole system. Events are created once, never mutated, never deleted;
// every derived table is a deterministic function of the event set.
package event

import (
	"time"

	"relaymart/pkg/domain"
)

// Event is one raw record from the parcel event log. The envelope fields are
// required for conforming; Payload fields vary by kind and may be absent.
//
// IngestSeq is assigned by the log store on append and is strictly
// monotonic. It never participates in dedup ordering (SequenceNo does) but
// makes replays reproducible.
type Event struct {
	EventID       domain.EventID
	ParcelID      domain.ParcelID
	Kind          domain.EventKind
	EventTS       time.Time
	SequenceNo    int
	Producer      string
	SchemaVersion string
	IngestSeq     int64

	Payload Payload
}

// Payload carries the kind-specific fields. Pointers model absence: a nil
// field was not present on the wire and must exclude the event from derivers
// that require it, never crash them.
type Payload struct {
	// PARCEL_CREATED
	MerchantID           *domain.MerchantID `json:"merchant_id,omitempty"`
	OriginAddressID      *string            `json:"origin_address_id,omitempty"`
	DestinationAddressID *string            `json:"destination_address_id,omitempty"`
	ServiceTier          *string            `json:"service_tier,omitempty"`
	CreatedTS            *time.Time         `json:"created_ts,omitempty"`
	PromisedWindowStart  *time.Time         `json:"promised_window_start,omitempty"`
	PromisedWindowEnd    *time.Time         `json:"promised_window_end,omitempty"`
	WeightGrams          *int               `json:"weight_grams,omitempty"`
	VolumeCM3            *int               `json:"volume_cm3,omitempty"`

	// SCAN_IN_DEPOT / SCAN_OUT_DEPOT
	DepotID   *domain.DepotID `json:"depot_id,omitempty"`
	ScannerID *string         `json:"scanner_id,omitempty"`
	AreaCode  *string         `json:"area_code,omitempty"`
	BeltNo    *int            `json:"belt_no,omitempty"`

	// LOADED_TO_VAN / OUT_FOR_DELIVERY
	RouteID           *domain.RouteID   `json:"route_id,omitempty"`
	CourierID         *domain.CourierID `json:"courier_id,omitempty"`
	PlannedStopSeq    *int              `json:"planned_stop_seq,omitempty"`
	FirstPlannedETATS *time.Time        `json:"first_planned_eta_ts,omitempty"`

	// ETA_SET / ETA_UPDATED
	PredictedDeliveryTS *time.Time `json:"predicted_delivery_ts,omitempty"`
	GeneratedTS         *time.Time `json:"generated_ts,omitempty"`
	Source              *string    `json:"source,omitempty"`

	// DELIVERED
	DeliveredTS   *time.Time `json:"delivered_ts,omitempty"`
	AttemptNumber *int       `json:"attempt_number,omitempty"`
	Outcome       *string    `json:"outcome,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`

	// EXCEPTION
	ExceptionCode *string `json:"exception_code,omitempty"`
	StageHint     *string `json:"stage_hint,omitempty"`
	Details       *string `json:"details,omitempty"`
}

// MalformedReason names the envelope field whose absence excluded an event
// from conforming. Reasons feed both the returned report and the
// events_malformed counter so drops are observable, never silent.
type MalformedReason string

const (
	MalformedMissingEventID  MalformedReason = "missing_event_id"
	MalformedMissingParcelID MalformedReason = "missing_parcel_id"
	MalformedMissingEventTS  MalformedReason = "missing_event_ts"
	MalformedUnknownKind     MalformedReason = "unknown_kind"
)

// CheckEnvelope validates the fields conforming depends on. Payload shape is
// an upstream concern and is not inspected here.
func (e Event) CheckEnvelope() (MalformedReason, bool) {
	if e.EventID.IsNil() {
		return MalformedMissingEventID, false
	}
	if e.ParcelID.IsNil() {
		return MalformedMissingParcelID, false
	}
	if e.EventTS.IsZero() {
		return MalformedMissingEventTS, false
	}
	if !e.Kind.IsValid() {
		return MalformedUnknownKind, false
	}
	return "", true
}
