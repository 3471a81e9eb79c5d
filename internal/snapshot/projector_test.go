package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	conformstore "relaymart/internal/conform/store"
	"relaymart/internal/event"
	"relaymart/pkg/domain"
)

type ProjectorSuite struct {
	suite.Suite
	latest    *conformstore.InMemoryStore
	projector *Projector
	now       time.Time
}

func TestProjectorSuite(t *testing.T) {
	suite.Run(t, new(ProjectorSuite))
}

func (s *ProjectorSuite) SetupTest() {
	s.latest = conformstore.NewInMemoryStore()
	s.now = time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)

	var err error
	s.projector, err = New(s.latest, WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
}

func (s *ProjectorSuite) seed(events ...event.Event) {
	s.Require().NoError(s.latest.Merge(context.Background(), events))
}

func at(minute int) time.Time {
	return time.Date(2026, 8, 15, 8, minute, 0, 0, time.UTC)
}

func (s *ProjectorSuite) TestNew() {
	_, err := New(nil)
	s.Error(err)
}

func (s *ProjectorSuite) TestCombinesKindsIntoOneSnapshot() {
	parcel := domain.ParcelID(uuid.New())
	merchant := domain.MerchantID(uuid.New())
	depot := domain.DepotID(uuid.New())
	route := domain.RouteID(uuid.New())
	courier := domain.CourierID(uuid.New())
	tier := "NEXT_DAY"

	s.seed(
		event.Event{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindParcelCreated, EventTS: at(0),
			Payload: event.Payload{MerchantID: &merchant, ServiceTier: &tier},
		},
		event.Event{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindScanInDepot, EventTS: at(10),
			Payload: event.Payload{DepotID: &depot},
		},
		event.Event{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindLoadedToVan, EventTS: at(20),
			Payload: event.Payload{RouteID: &route, CourierID: &courier},
		},
	)

	snaps, err := s.projector.ProjectAll(context.Background())
	s.Require().NoError(err)
	s.Require().Len(snaps, 1)

	snap := snaps[0]
	s.Equal(parcel, snap.ParcelID)
	s.Equal(StatusLoaded, snap.Status)
	s.Equal(&merchant, snap.MerchantID)
	s.Equal(&depot, snap.LastDepotID)
	s.Equal(&route, snap.RouteID)
	s.Equal(&courier, snap.CourierID)
	s.Equal(at(20), snap.LastEventTS)
	s.Equal(s.now, snap.UpdatedAt)
}

func (s *ProjectorSuite) TestNewestRowWinsSharedFields() {
	// A parcel at its second depot: the out-scan row from depot A is older
	// than the in-scan row from depot B. The depot of the newest scan wins,
	// not the kind walked last.
	parcel := domain.ParcelID(uuid.New())
	depotA := domain.DepotID(uuid.New())
	depotB := domain.DepotID(uuid.New())

	s.seed(
		event.Event{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindScanOutDepot, EventTS: at(10),
			Payload: event.Payload{DepotID: &depotA},
		},
		event.Event{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindScanInDepot, EventTS: at(20),
			Payload: event.Payload{DepotID: &depotB},
		},
	)

	snaps, err := s.projector.ProjectAll(context.Background())
	s.Require().NoError(err)
	s.Require().Len(snaps, 1)
	s.Equal(StatusInDepot, snaps[0].Status)
	s.Require().NotNil(snaps[0].LastDepotID)
	s.Equal(depotB, *snaps[0].LastDepotID)
}

func (s *ProjectorSuite) TestNewestRouteAssignmentWins() {
	// Reloaded for a second attempt: the LOADED_TO_VAN row is newer than
	// the OUT_FOR_DELIVERY row from the failed first attempt.
	parcel := domain.ParcelID(uuid.New())
	route1 := domain.RouteID(uuid.New())
	route2 := domain.RouteID(uuid.New())
	courier1 := domain.CourierID(uuid.New())
	courier2 := domain.CourierID(uuid.New())

	s.seed(
		event.Event{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindOutForDelivery, EventTS: at(10),
			Payload: event.Payload{RouteID: &route1, CourierID: &courier1},
		},
		event.Event{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindLoadedToVan, EventTS: at(30),
			Payload: event.Payload{RouteID: &route2, CourierID: &courier2},
		},
	)

	snaps, err := s.projector.ProjectAll(context.Background())
	s.Require().NoError(err)
	s.Require().Len(snaps, 1)
	s.Require().NotNil(snaps[0].RouteID)
	s.Equal(route2, *snaps[0].RouteID)
	s.Require().NotNil(snaps[0].CourierID)
	s.Equal(courier2, *snaps[0].CourierID)
}

func (s *ProjectorSuite) TestExceptionDoesNotMoveStatus() {
	parcel := domain.ParcelID(uuid.New())
	code := "MISSORT"

	s.seed(
		event.Event{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindScanInDepot, EventTS: at(5),
		},
		event.Event{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindException, EventTS: at(6),
			Payload: event.Payload{ExceptionCode: &code},
		},
	)

	snaps, err := s.projector.ProjectAll(context.Background())
	s.Require().NoError(err)
	s.Require().Len(snaps, 1)
	s.Equal(StatusInDepot, snaps[0].Status)
	s.Equal(&code, snaps[0].LastExceptionCode)
}

func (s *ProjectorSuite) TestETAUpdatedSupersedesETASet() {
	parcel := domain.ParcelID(uuid.New())
	initial := at(50)
	revised := at(55)

	s.seed(
		event.Event{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindETASet, EventTS: at(30),
			Payload: event.Payload{PredictedDeliveryTS: &initial},
		},
		event.Event{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindETAUpdated, EventTS: at(35),
			Payload: event.Payload{PredictedDeliveryTS: &revised},
		},
	)

	snaps, err := s.projector.ProjectAll(context.Background())
	s.Require().NoError(err)
	s.Require().Len(snaps, 1)
	s.Equal(&revised, snaps[0].PredictedDeliveryTS)
}

func (s *ProjectorSuite) TestIncrementalMatchesFullRebuild() {
	p1 := domain.ParcelID(uuid.New())
	p2 := domain.ParcelID(uuid.New())

	s.seed(
		event.Event{EventID: domain.EventID(uuid.New()), ParcelID: p1, Kind: domain.KindParcelCreated, EventTS: at(1)},
		event.Event{EventID: domain.EventID(uuid.New()), ParcelID: p1, Kind: domain.KindScanInDepot, EventTS: at(2)},
		event.Event{EventID: domain.EventID(uuid.New()), ParcelID: p2, Kind: domain.KindParcelCreated, EventTS: at(3)},
	)

	full, err := s.projector.ProjectAll(context.Background())
	s.Require().NoError(err)

	changed, err := s.projector.ProjectChanged(context.Background(), map[domain.ParcelID]struct{}{
		p1: {}, p2: {},
	})
	s.Require().NoError(err)

	s.Equal(full, changed)
}

func (s *ProjectorSuite) TestChangedSetRestrictsRecompute() {
	p1 := domain.ParcelID(uuid.New())
	p2 := domain.ParcelID(uuid.New())

	s.seed(
		event.Event{EventID: domain.EventID(uuid.New()), ParcelID: p1, Kind: domain.KindParcelCreated, EventTS: at(1)},
		event.Event{EventID: domain.EventID(uuid.New()), ParcelID: p2, Kind: domain.KindParcelCreated, EventTS: at(2)},
	)

	snaps, err := s.projector.ProjectChanged(context.Background(), map[domain.ParcelID]struct{}{p1: {}})
	s.Require().NoError(err)
	s.Require().Len(snaps, 1)
	s.Equal(p1, snaps[0].ParcelID)
}
