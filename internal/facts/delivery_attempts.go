package facts

import (
	"time"

	"relaymart/internal/event"
	"relaymart/pkg/domain"
)

const TargetDeliveryAttempts = "fct_delivery_attempts"

// DeliveryAttempt is one terminal delivery outcome, grained on the event ID:
// every DELIVERED event is its own attempt, successful or not.
type DeliveryAttempt struct {
	EventID       domain.EventID
	ParcelID      domain.ParcelID
	DeliveredTS   time.Time
	AttemptNumber int
	Outcome       string
	FailureReason *string
	EventTS       time.Time
}

func (a DeliveryAttempt) GrainKey() string { return a.EventID.String() }

// NewDeliveryAttemptDeriver consumes DELIVERED events. delivered_ts is the
// fact's measure and is required; attempt_number defaults to 1 when the
// producer omitted it.
func NewDeliveryAttemptDeriver(opts ...Option[DeliveryAttempt]) *Deriver[DeliveryAttempt] {
	return NewDeriver(
		TargetDeliveryAttempts,
		[]domain.EventKind{domain.KindDelivered},
		func(ev event.Event) (string, bool) {
			if ev.Payload.DeliveredTS == nil {
				return "delivered_ts", false
			}
			return "", true
		},
		func(ev event.Event) DeliveryAttempt {
			attempt := 1
			if ev.Payload.AttemptNumber != nil {
				attempt = *ev.Payload.AttemptNumber
			}
			var outcome string
			if ev.Payload.Outcome != nil {
				outcome = *ev.Payload.Outcome
			}
			return DeliveryAttempt{
				EventID:       ev.EventID,
				ParcelID:      ev.ParcelID,
				DeliveredTS:   *ev.Payload.DeliveredTS,
				AttemptNumber: attempt,
				Outcome:       outcome,
				FailureReason: ev.Payload.FailureReason,
				EventTS:       ev.EventTS,
			}
		},
		opts...,
	)
}
