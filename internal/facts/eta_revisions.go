package facts

import (
	"time"

	"relaymart/internal/event"
	"relaymart/pkg/domain"
)

const TargetETARevisions = "fct_eta_revisions"

// ETARevision is one ETA prediction for a parcel, grained on the event ID so
// the full revision history is kept, not just the latest value.
type ETARevision struct {
	EventID             domain.EventID
	ParcelID            domain.ParcelID
	Kind                domain.EventKind
	PredictedDeliveryTS time.Time
	Source              *string
	EventTS             time.Time
}

func (r ETARevision) GrainKey() string { return r.EventID.String() }

// NewETARevisionDeriver consumes ETA_SET and ETA_UPDATED events.
// predicted_delivery_ts is the measure and is required.
func NewETARevisionDeriver(opts ...Option[ETARevision]) *Deriver[ETARevision] {
	return NewDeriver(
		TargetETARevisions,
		[]domain.EventKind{domain.KindETASet, domain.KindETAUpdated},
		func(ev event.Event) (string, bool) {
			if ev.Payload.PredictedDeliveryTS == nil {
				return "predicted_delivery_ts", false
			}
			return "", true
		},
		func(ev event.Event) ETARevision {
			return ETARevision{
				EventID:             ev.EventID,
				ParcelID:            ev.ParcelID,
				Kind:                ev.Kind,
				PredictedDeliveryTS: *ev.Payload.PredictedDeliveryTS,
				Source:              ev.Payload.Source,
				EventTS:             ev.EventTS,
			}
		},
		opts...,
	)
}
