// Package ingest consumes raw parcel events from Kafka and appends them to
// the event log. Delivery is at-least-once: duplicate event IDs land in the
// log and the conformer dedups them, so the consumer never needs
// exactly-once coordination.
package ingest

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"relaymart/internal/event"
	"relaymart/pkg/domain"
)

var errMissingEventTS = errors.New("event_ts is required")

// Reject reasons, used as the events_rejected_total label.
const (
	RejectInvalidJSON     = "invalid_json"
	RejectInvalidEventID  = "invalid_event_id"
	RejectInvalidParcelID = "invalid_parcel_id"
	RejectMissingEventTS  = "missing_event_ts"
	RejectUnknownKind     = "unknown_kind"
)

// wireEvent is the flat wire envelope: common metadata and kind-specific
// payload fields side by side in one JSON object.
type wireEvent struct {
	EventID       string    `json:"event_id"`
	ParcelID      string    `json:"parcel_id"`
	EventType     string    `json:"event_type"`
	EventTS       time.Time `json:"event_ts"`
	SequenceNo    int       `json:"sequence_no"`
	Producer      string    `json:"producer"`
	SchemaVersion string    `json:"schema_version"`

	event.Payload
}

// Decode parses one wire message. On failure it returns the reject reason
// alongside the error; identity and ordering fields are checked here, while
// payload completeness is left to the derivers.
func Decode(data []byte) (event.Event, string, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return event.Event{}, RejectInvalidJSON, err
	}

	eventID, err := uuid.Parse(w.EventID)
	if err != nil {
		return event.Event{}, RejectInvalidEventID, err
	}
	parcelID, err := uuid.Parse(w.ParcelID)
	if err != nil {
		return event.Event{}, RejectInvalidParcelID, err
	}
	if w.EventTS.IsZero() {
		return event.Event{}, RejectMissingEventTS, errMissingEventTS
	}
	kind, err := domain.ParseEventKind(w.EventType)
	if err != nil {
		return event.Event{}, RejectUnknownKind, err
	}

	return event.Event{
		EventID:       domain.EventID(eventID),
		ParcelID:      domain.ParcelID(parcelID),
		Kind:          kind,
		EventTS:       w.EventTS,
		SequenceNo:    w.SequenceNo,
		Producer:      w.Producer,
		SchemaVersion: w.SchemaVersion,
		Payload:       w.Payload,
	}, "", nil
}
