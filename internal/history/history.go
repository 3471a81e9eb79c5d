// Package history maintains the slowly-changing-dimension record of parcel
// attributes: per parcel, an ordered, non-overlapping sequence of
// (attributes, valid_from, valid_to) intervals with at most one open record.
package history

import (
	"time"

	"relaymart/pkg/domain"
)

// Record is one attribute-version interval. ValidTo nil marks the open
// (current) version. Invariants the store and snapshotter uphold together:
// at most one open record per parcel, a new record's ValidFrom equals the
// ValidTo of the record it closed, and intervals never overlap.
type Record struct {
	ParcelID   domain.ParcelID
	Attributes map[string]string
	ValidFrom  time.Time
	ValidTo    *time.Time
}

// Open reports whether this is the current version.
func (r Record) Open() bool { return r.ValidTo == nil }

// sameAttributes compares only the tracked attribute tuple. Both maps come
// from the same tracked-column list so key sets match.
func sameAttributes(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// DeletePolicy governs parcels that disappear from the source while holding
// an open record.
type DeletePolicy string

const (
	// DeletePolicyClose closes the open record with no replacement. The
	// safer default: history then states when the parcel was last seen.
	DeletePolicyClose DeletePolicy = "close"

	// DeletePolicyRetain leaves the open record as-is indefinitely.
	DeletePolicyRetain DeletePolicy = "retain"
)

func (p DeletePolicy) valid() bool {
	return p == DeletePolicyClose || p == DeletePolicyRetain
}
