package domain

import dErrors "relaymart/pkg/domain-errors"

// EventKind is the closed set of parcel lifecycle event types.
//
// Usage: construct via ParseEventKind at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type EventKind string

const (
	KindParcelCreated  EventKind = "PARCEL_CREATED"
	KindScanInDepot    EventKind = "SCAN_IN_DEPOT"
	KindScanOutDepot   EventKind = "SCAN_OUT_DEPOT"
	KindLoadedToVan    EventKind = "LOADED_TO_VAN"
	KindOutForDelivery EventKind = "OUT_FOR_DELIVERY"
	KindETASet         EventKind = "ETA_SET"
	KindETAUpdated     EventKind = "ETA_UPDATED"
	KindDelivered      EventKind = "DELIVERED"
	KindException      EventKind = "EXCEPTION"
)

// validEventKinds is the single source of truth for the closed set.
var validEventKinds = map[EventKind]bool{
	KindParcelCreated:  true,
	KindScanInDepot:    true,
	KindScanOutDepot:   true,
	KindLoadedToVan:    true,
	KindOutForDelivery: true,
	KindETASet:         true,
	KindETAUpdated:     true,
	KindDelivered:      true,
	KindException:      true,
}

// AllEventKinds returns every kind in declaration order. Used by the
// projector to walk the latest-per-kind rows deterministically.
func AllEventKinds() []EventKind {
	return []EventKind{
		KindParcelCreated,
		KindScanInDepot,
		KindScanOutDepot,
		KindLoadedToVan,
		KindOutForDelivery,
		KindETASet,
		KindETAUpdated,
		KindDelivered,
		KindException,
	}
}

// ParseEventKind constructs an EventKind from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or outside the
// closed set; no other errors are expected.
func ParseEventKind(s string) (EventKind, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "event kind cannot be empty")
	}
	k := EventKind(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown event kind")
	}
	return k, nil
}

// IsValid checks if the kind is one of the supported enum values.
func (k EventKind) IsValid() bool {
	return validEventKinds[k]
}

// String returns the string representation of the kind.
func (k EventKind) String() string {
	return string(k)
}
