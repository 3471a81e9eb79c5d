package facts

import (
	"time"

	"relaymart/internal/event"
	"relaymart/pkg/domain"
)

const TargetExceptions = "fct_exceptions"

// Exception is one operational exception raised against a parcel, grained on
// the event ID.
type Exception struct {
	EventID   domain.EventID
	ParcelID  domain.ParcelID
	Code      string
	StageHint *string
	Details   *string
	EventTS   time.Time
}

func (e Exception) GrainKey() string { return e.EventID.String() }

// NewExceptionDeriver consumes EXCEPTION events. exception_code classifies
// the exception and is required; stage_hint and details are advisory.
func NewExceptionDeriver(opts ...Option[Exception]) *Deriver[Exception] {
	return NewDeriver(
		TargetExceptions,
		[]domain.EventKind{domain.KindException},
		func(ev event.Event) (string, bool) {
			if ev.Payload.ExceptionCode == nil {
				return "exception_code", false
			}
			return "", true
		},
		func(ev event.Event) Exception {
			return Exception{
				EventID:   ev.EventID,
				ParcelID:  ev.ParcelID,
				Code:      *ev.Payload.ExceptionCode,
				StageHint: ev.Payload.StageHint,
				Details:   ev.Payload.Details,
				EventTS:   ev.EventTS,
			}
		},
		opts...,
	)
}
