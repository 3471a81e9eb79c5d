package conform

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"relaymart/internal/event"
	"relaymart/internal/platform/logger"
	"relaymart/pkg/domain"
)

type ConformerSuite struct {
	suite.Suite
	conformer *Conformer
}

func TestConformerSuite(t *testing.T) {
	suite.Run(t, new(ConformerSuite))
}

func (s *ConformerSuite) SetupTest() {
	s.conformer = New(WithLogger(logger.NewDiscard()))
}

func ts(minute int) time.Time {
	return time.Date(2026, 8, 1, 12, minute, 0, 0, time.UTC)
}

func newEvent(id domain.EventID, parcel domain.ParcelID, kind domain.EventKind, eventTS time.Time, seq int) event.Event {
	return event.Event{
		EventID:    id,
		ParcelID:   parcel,
		Kind:       kind,
		EventTS:    eventTS,
		SequenceNo: seq,
	}
}

func (s *ConformerSuite) TestDedupKeepsMaxEventTS() {
	id := domain.EventID(uuid.New())
	parcel := domain.ParcelID(uuid.New())

	res := s.conformer.Conform([]event.Event{
		newEvent(id, parcel, domain.KindScanInDepot, ts(10), 1),
		newEvent(id, parcel, domain.KindScanInDepot, ts(20), 1),
	})

	s.Require().Len(res.Deduped, 1)
	s.Equal(ts(20), res.Deduped[0].EventTS)
}

func (s *ConformerSuite) TestDedupTieBreak() {
	parcel := domain.ParcelID(uuid.New())

	s.Run("equal timestamps break on sequence number", func() {
		id := domain.EventID(uuid.New())
		res := s.conformer.Conform([]event.Event{
			newEvent(id, parcel, domain.KindETAUpdated, ts(5), 7),
			newEvent(id, parcel, domain.KindETAUpdated, ts(5), 3),
		})
		s.Require().Len(res.Deduped, 1)
		s.Equal(7, res.Deduped[0].SequenceNo)
	})

	s.Run("result does not depend on input order", func() {
		id := domain.EventID(uuid.New())
		a := newEvent(id, parcel, domain.KindETAUpdated, ts(5), 3)
		b := newEvent(id, parcel, domain.KindETAUpdated, ts(5), 7)

		forward := s.conformer.Conform([]event.Event{a, b})
		reverse := s.conformer.Conform([]event.Event{b, a})

		s.Equal(forward.Deduped, reverse.Deduped)
	})
}

func (s *ConformerSuite) TestLatestPerKind() {
	parcel := domain.ParcelID(uuid.New())

	res := s.conformer.Conform([]event.Event{
		newEvent(domain.EventID(uuid.New()), parcel, domain.KindScanInDepot, ts(1), 0),
		newEvent(domain.EventID(uuid.New()), parcel, domain.KindETAUpdated, ts(2), 1),
		newEvent(domain.EventID(uuid.New()), parcel, domain.KindScanInDepot, ts(3), 2),
	})

	s.Require().Len(res.LatestByKind, 2)

	scan := res.LatestByKind[LatestKey{ParcelID: parcel, Kind: domain.KindScanInDepot}]
	s.Equal(ts(3), scan.EventTS)

	eta := res.LatestByKind[LatestKey{ParcelID: parcel, Kind: domain.KindETAUpdated}]
	s.Equal(ts(2), eta.EventTS)
}

func (s *ConformerSuite) TestLatestPerKindMonotonicUnderReplay() {
	parcel := domain.ParcelID(uuid.New())
	newer := newEvent(domain.EventID(uuid.New()), parcel, domain.KindETAUpdated, ts(30), 5)
	older := newEvent(domain.EventID(uuid.New()), parcel, domain.KindETAUpdated, ts(10), 2)

	withNewerOnly := s.conformer.Conform([]event.Event{newer})
	withBoth := s.conformer.Conform([]event.Event{newer, older})

	key := LatestKey{ParcelID: parcel, Kind: domain.KindETAUpdated}
	s.Equal(withNewerOnly.LatestByKind[key], withBoth.LatestByKind[key])
}

func (s *ConformerSuite) TestMalformedExcludedAndCounted() {
	parcel := domain.ParcelID(uuid.New())

	missingID := newEvent(domain.EventID{}, parcel, domain.KindDelivered, ts(1), 0)
	missingTS := newEvent(domain.EventID(uuid.New()), parcel, domain.KindDelivered, time.Time{}, 1)
	missingParcel := newEvent(domain.EventID(uuid.New()), domain.ParcelID{}, domain.KindDelivered, ts(2), 2)
	valid := newEvent(domain.EventID(uuid.New()), parcel, domain.KindDelivered, ts(3), 3)

	res := s.conformer.Conform([]event.Event{missingID, missingTS, missingParcel, valid})

	s.Len(res.Deduped, 1)
	s.Equal(1, res.Malformed[event.MalformedMissingEventID])
	s.Equal(1, res.Malformed[event.MalformedMissingEventTS])
	s.Equal(1, res.Malformed[event.MalformedMissingParcelID])
}

func (s *ConformerSuite) TestIdempotent() {
	parcel := domain.ParcelID(uuid.New())
	events := []event.Event{
		newEvent(domain.EventID(uuid.New()), parcel, domain.KindScanInDepot, ts(1), 0),
		newEvent(domain.EventID(uuid.New()), parcel, domain.KindScanOutDepot, ts(2), 1),
	}

	first := s.conformer.Conform(events)
	second := s.conformer.Conform(events)

	s.Equal(first.Deduped, second.Deduped)
	s.Equal(first.LatestByKind, second.LatestByKind)
}

func (s *ConformerSuite) TestTouchedParcels() {
	p1 := domain.ParcelID(uuid.New())
	p2 := domain.ParcelID(uuid.New())

	res := s.conformer.Conform([]event.Event{
		newEvent(domain.EventID(uuid.New()), p1, domain.KindScanInDepot, ts(1), 0),
		newEvent(domain.EventID(uuid.New()), p2, domain.KindScanInDepot, ts(2), 0),
		newEvent(domain.EventID(uuid.New()), p1, domain.KindScanOutDepot, ts(3), 1),
	})

	touched := res.TouchedParcels()
	s.Len(touched, 2)
	s.Contains(touched, p1)
	s.Contains(touched, p2)
}
