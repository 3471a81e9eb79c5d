//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"relaymart/internal/conform/store"
	"relaymart/internal/event"
	"relaymart/pkg/domain"
	"relaymart/pkg/testutil/containers"
)

type LatestPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestLatestPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LatestPostgresSuite))
}

func (s *LatestPostgresSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *LatestPostgresSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "conformed_latest")
	s.Require().NoError(err)
}

func latestEvent(parcel domain.ParcelID, kind domain.EventKind, ts time.Time, seq int) event.Event {
	return event.Event{
		EventID:    domain.EventID(uuid.New()),
		ParcelID:   parcel,
		Kind:       kind,
		EventTS:    ts,
		SequenceNo: seq,
	}
}

func (s *LatestPostgresSuite) TestNewerEventReplacesRow() {
	ctx := context.Background()
	parcel := domain.ParcelID(uuid.New())
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	older := latestEvent(parcel, domain.KindScanInDepot, base, 1)
	newer := latestEvent(parcel, domain.KindScanInDepot, base.Add(time.Hour), 2)

	s.Require().NoError(s.store.Merge(ctx, []event.Event{older}))
	s.Require().NoError(s.store.Merge(ctx, []event.Event{newer}))

	got, err := s.store.ListByParcel(ctx, parcel)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(newer.EventID, got[0].EventID)
}

func (s *LatestPostgresSuite) TestStaleEventDoesNotReplaceRow() {
	ctx := context.Background()
	parcel := domain.ParcelID(uuid.New())
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	newer := latestEvent(parcel, domain.KindScanInDepot, base.Add(time.Hour), 2)
	stale := latestEvent(parcel, domain.KindScanInDepot, base, 1)

	s.Require().NoError(s.store.Merge(ctx, []event.Event{newer}))
	s.Require().NoError(s.store.Merge(ctx, []event.Event{stale}))

	got, err := s.store.ListByParcel(ctx, parcel)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(newer.EventID, got[0].EventID)
}

func (s *LatestPostgresSuite) TestEqualTimestampsBreakTieOnSequence() {
	ctx := context.Background()
	parcel := domain.ParcelID(uuid.New())
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	first := latestEvent(parcel, domain.KindETAUpdated, ts, 1)
	second := latestEvent(parcel, domain.KindETAUpdated, ts, 5)

	s.Require().NoError(s.store.Merge(ctx, []event.Event{first}))
	s.Require().NoError(s.store.Merge(ctx, []event.Event{second}))

	got, err := s.store.ListByParcel(ctx, parcel)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(second.EventID, got[0].EventID)
	s.Equal(5, got[0].SequenceNo)
}

func (s *LatestPostgresSuite) TestOneRowPerKind() {
	ctx := context.Background()
	parcel := domain.ParcelID(uuid.New())
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	s.Require().NoError(s.store.Merge(ctx, []event.Event{
		latestEvent(parcel, domain.KindParcelCreated, base, 1),
		latestEvent(parcel, domain.KindScanInDepot, base.Add(time.Hour), 2),
		latestEvent(parcel, domain.KindDelivered, base.Add(2*time.Hour), 3),
	}))

	got, err := s.store.ListByParcel(ctx, parcel)
	s.Require().NoError(err)
	s.Len(got, 3)

	parcels, err := s.store.ListParcels(ctx)
	s.Require().NoError(err)
	s.Require().Len(parcels, 1)
	s.Equal(parcel, parcels[0])
}
