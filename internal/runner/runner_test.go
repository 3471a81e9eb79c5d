package runner_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	conformstore "relaymart/internal/conform/store"
	"relaymart/internal/event"
	eventstore "relaymart/internal/event/store"
	"relaymart/internal/facts"
	"relaymart/internal/facts/pairing"
	factstore "relaymart/internal/facts/store"
	"relaymart/internal/history"
	"relaymart/internal/platform/logger"
	"relaymart/internal/rollup"
	"relaymart/internal/runner"
	"relaymart/internal/snapshot"
	snapshotstore "relaymart/internal/snapshot/store"
	"relaymart/internal/watermark"
	"relaymart/pkg/domain"
	dErrors "relaymart/pkg/domain-errors"
	"relaymart/pkg/platform/sentinel"
)

type RunnerSuite struct {
	suite.Suite

	now        time.Time
	events     *eventstore.InMemoryStore
	latest     *conformstore.InMemoryStore
	snapshots  *snapshotstore.InMemoryStore
	historians *history.InMemoryStore
	watermarks *watermark.InMemoryStore
	attempts   factstore.Store[facts.DeliveryAttempt]
	exceptions factstore.Store[facts.Exception]
	etas       factstore.Store[facts.ETARevision]
	dwell      factstore.Store[pairing.DepotDwell]
	rollups    factstore.Store[rollup.Row]
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerSuite))
}

func (s *RunnerSuite) SetupTest() {
	s.now = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	s.events = eventstore.NewInMemoryStore()
	s.latest = conformstore.NewInMemoryStore()
	s.snapshots = snapshotstore.NewInMemoryStore()
	s.historians = history.NewInMemoryStore()
	s.watermarks = watermark.NewInMemoryStore()
	s.attempts = factstore.NewInMemoryStore[facts.DeliveryAttempt]()
	s.exceptions = factstore.NewInMemoryStore[facts.Exception]()
	s.etas = factstore.NewInMemoryStore[facts.ETARevision]()
	s.dwell = factstore.NewInMemoryStore[pairing.DepotDwell]()
	s.rollups = factstore.NewInMemoryStore[rollup.Row]()
}

func (s *RunnerSuite) newRunner() *runner.Runner {
	tracker, err := watermark.New(s.watermarks, 7, watermark.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)

	snapshotter, err := history.New(s.historians, []string{"status", "service_tier"}, history.DeletePolicyClose)
	s.Require().NoError(err)

	r, err := runner.New(runner.Deps{
		Events:     s.events,
		Latest:     s.latest,
		Snapshots:  s.snapshots,
		History:    snapshotter,
		Tracker:    tracker,
		Attempts:   s.attempts,
		Exceptions: s.exceptions,
		ETAs:       s.etas,
		DepotDwell: s.dwell,
		Rollups:    s.rollups,
	},
		runner.WithLogger(logger.NewDiscard()),
		runner.WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
	return r
}

// lifecycle appends a full parcel journey: created, depot in/out, eta,
// delivered. Timestamps sit a day before the suite clock so every target's
// bootstrap window covers them.
func (s *RunnerSuite) lifecycle(parcel domain.ParcelID) {
	base := s.now.Add(-24 * time.Hour)
	tier := "NEXT_DAY"
	depot := domain.DepotID(uuid.New())
	eta := base.Add(10 * time.Hour)
	deliveredAt := base.Add(9 * time.Hour)
	outcome := "DELIVERED_OK"
	attempt := 1

	evs := []event.Event{
		{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindParcelCreated, EventTS: base, SequenceNo: 1,
			Payload: event.Payload{ServiceTier: &tier},
		},
		{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindScanInDepot, EventTS: base.Add(2 * time.Hour), SequenceNo: 2,
			Payload: event.Payload{DepotID: &depot},
		},
		{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindScanOutDepot, EventTS: base.Add(5 * time.Hour), SequenceNo: 3,
			Payload: event.Payload{DepotID: &depot},
		},
		{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindETASet, EventTS: base.Add(6 * time.Hour), SequenceNo: 4,
			Payload: event.Payload{PredictedDeliveryTS: &eta},
		},
		{
			EventID: domain.EventID(uuid.New()), ParcelID: parcel,
			Kind: domain.KindDelivered, EventTS: deliveredAt, SequenceNo: 5,
			Payload: event.Payload{DeliveredTS: &deliveredAt, AttemptNumber: &attempt, Outcome: &outcome},
		},
	}
	s.Require().NoError(s.events.AppendBatch(context.Background(), evs))
}

func (s *RunnerSuite) TestRunAllMaterializesEveryTarget() {
	ctx := context.Background()
	parcel := domain.ParcelID(uuid.New())
	s.lifecycle(parcel)

	s.Require().NoError(s.newRunner().RunAll(ctx))

	snap, err := s.snapshots.Get(ctx, parcel)
	s.Require().NoError(err)
	s.Equal(snapshot.StatusDelivered, snap.Status)
	s.Require().NotNil(snap.ServiceTier)
	s.Equal("NEXT_DAY", *snap.ServiceTier)

	recs, err := s.historians.ListByParcel(ctx, parcel)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.True(recs[0].Open())
	s.Equal(s.now, recs[0].ValidFrom)

	n, err := s.attempts.Count(ctx)
	s.Require().NoError(err)
	s.EqualValues(1, n)

	n, err = s.etas.Count(ctx)
	s.Require().NoError(err)
	s.EqualValues(1, n)

	dwells, err := s.dwell.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(dwells, 1)
	s.InDelta(3*3600, dwells[0].DwellSeconds, 0.001)

	aggs, err := s.rollups.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(aggs, 1)
	s.EqualValues(1, aggs[0].Count)

	for _, target := range runner.Targets() {
		ts, err := s.watermarks.Get(ctx, target)
		s.Require().NoError(err, target)
		s.Equal(s.now, ts, target)
	}
}

func (s *RunnerSuite) TestRerunConvergesToSameState() {
	ctx := context.Background()
	parcel := domain.ParcelID(uuid.New())
	s.lifecycle(parcel)

	r := s.newRunner()
	s.Require().NoError(r.RunAll(ctx))

	firstDwells, err := s.dwell.List(ctx)
	s.Require().NoError(err)
	firstRecs, err := s.historians.ListByParcel(ctx, parcel)
	s.Require().NoError(err)

	s.now = s.now.Add(time.Hour)
	s.Require().NoError(r.RunAll(ctx))

	secondDwells, err := s.dwell.List(ctx)
	s.Require().NoError(err)
	s.Equal(firstDwells, secondDwells)

	secondRecs, err := s.historians.ListByParcel(context.Background(), parcel)
	s.Require().NoError(err)
	s.Equal(firstRecs, secondRecs)

	n, err := s.attempts.Count(ctx)
	s.Require().NoError(err)
	s.EqualValues(1, n)
}

func (s *RunnerSuite) TestLateEventProcessedNextWindow() {
	ctx := context.Background()
	parcel := domain.ParcelID(uuid.New())
	s.lifecycle(parcel)

	r := s.newRunner()
	s.Require().NoError(r.RunAll(ctx))

	// An exception lands after the first run's upper bound.
	s.now = s.now.Add(time.Hour)
	code := "DAMAGED"
	s.Require().NoError(s.events.AppendBatch(ctx, []event.Event{{
		EventID: domain.EventID(uuid.New()), ParcelID: parcel,
		Kind: domain.KindException, EventTS: s.now.Add(-time.Minute), SequenceNo: 6,
		Payload: event.Payload{ExceptionCode: &code},
	}}))

	s.Require().NoError(r.RunAll(ctx))

	n, err := s.exceptions.Count(ctx)
	s.Require().NoError(err)
	s.EqualValues(1, n)

	snap, err := s.snapshots.Get(ctx, parcel)
	s.Require().NoError(err)
	s.Require().NotNil(snap.LastExceptionCode)
	s.Equal("DAMAGED", *snap.LastExceptionCode)
	// Exceptions enrich but never move the status.
	s.Equal(snapshot.StatusDelivered, snap.Status)
}

type failingAttemptStore struct {
	factstore.Store[facts.DeliveryAttempt]
}

func (f failingAttemptStore) Merge(context.Context, []facts.DeliveryAttempt) (int, error) {
	return 0, fmt.Errorf("backend unavailable")
}

func (s *RunnerSuite) TestFailedPassLeavesWatermarkUnmoved() {
	ctx := context.Background()
	parcel := domain.ParcelID(uuid.New())
	s.lifecycle(parcel)

	tracker, err := watermark.New(s.watermarks, 7, watermark.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	snapshotter, err := history.New(s.historians, []string{"status"}, history.DeletePolicyClose)
	s.Require().NoError(err)

	deps := runner.Deps{
		Events:     s.events,
		Latest:     s.latest,
		Snapshots:  s.snapshots,
		History:    snapshotter,
		Tracker:    tracker,
		Attempts:   failingAttemptStore{s.attempts},
		Exceptions: s.exceptions,
		ETAs:       s.etas,
		DepotDwell: s.dwell,
		Rollups:    s.rollups,
	}
	broken, err := runner.New(deps,
		runner.WithLogger(logger.NewDiscard()),
		runner.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)

	s.Error(broken.RunAll(ctx))

	_, err = s.watermarks.Get(ctx, facts.TargetDeliveryAttempts)
	s.ErrorIs(err, sentinel.ErrNotFound)

	// A repaired runner repeats the window and converges.
	deps.Attempts = s.attempts
	fixed, err := runner.New(deps,
		runner.WithLogger(logger.NewDiscard()),
		runner.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	s.Require().NoError(fixed.RunAll(ctx))

	n, err := s.attempts.Count(ctx)
	s.Require().NoError(err)
	s.EqualValues(1, n)
}

func (s *RunnerSuite) TestRunTargetUnknown() {
	err := s.newRunner().RunTarget(context.Background(), "no_such_target")
	s.Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
