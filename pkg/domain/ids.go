// Package domain defines the typed identifiers and closed enumerations shared
// by every materialization target. IDs are distinct types over uuid.UUID so a
// courier ID can never be passed where a parcel ID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "relaymart/pkg/domain-errors"
)

// EventID identifies one logical event in the log. Exactly one conformed
// record survives per EventID.
type EventID uuid.UUID

// ParcelID identifies a parcel, the primary entity of every derived table.
type ParcelID uuid.UUID

// MerchantID identifies the merchant that created a parcel.
type MerchantID uuid.UUID

// DepotID identifies a sortation depot.
type DepotID uuid.UUID

// CourierID identifies a delivery courier.
type CourierID uuid.UUID

// RouteID identifies a delivery route.
type RouteID uuid.UUID

func (id EventID) String() string    { return uuid.UUID(id).String() }
func (id ParcelID) String() string   { return uuid.UUID(id).String() }
func (id MerchantID) String() string { return uuid.UUID(id).String() }
func (id DepotID) String() string    { return uuid.UUID(id).String() }
func (id CourierID) String() string  { return uuid.UUID(id).String() }
func (id RouteID) String() string    { return uuid.UUID(id).String() }

func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ParcelID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id MerchantID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DepotID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CourierID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id RouteID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// Text marshalling delegates to uuid so IDs travel as canonical UUID strings
// in wire payloads and JSONB columns. Defined types do not inherit methods,
// so each ID declares its own pair.

func (id EventID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id ParcelID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id MerchantID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id DepotID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id CourierID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id RouteID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *EventID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ParcelID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *MerchantID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *DepotID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CourierID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RouteID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }

// parseUUID enforces the shared invariant: IDs must be valid, non-nil UUIDs.
func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

// ParseEventID constructs an EventID from external input. Call at trust
// boundaries; direct casting bypasses validation.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s)
	return EventID(u), err
}

// ParseParcelID constructs a ParcelID from external input.
func ParseParcelID(s string) (ParcelID, error) {
	u, err := parseUUID(s)
	return ParcelID(u), err
}

// ParseMerchantID constructs a MerchantID from external input.
func ParseMerchantID(s string) (MerchantID, error) {
	u, err := parseUUID(s)
	return MerchantID(u), err
}

// ParseDepotID constructs a DepotID from external input.
func ParseDepotID(s string) (DepotID, error) {
	u, err := parseUUID(s)
	return DepotID(u), err
}

// ParseCourierID constructs a CourierID from external input.
func ParseCourierID(s string) (CourierID, error) {
	u, err := parseUUID(s)
	return CourierID(u), err
}

// ParseRouteID constructs a RouteID from external input.
func ParseRouteID(s string) (RouteID, error) {
	u, err := parseUUID(s)
	return RouteID(u), err
}
