//go:build integration

package ingest_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	eventstore "relaymart/internal/event/store"
	"relaymart/internal/ingest"
	"relaymart/internal/platform/logger"
	"relaymart/pkg/domain"
	"relaymart/pkg/testutil/containers"
)

type ConsumerSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer

	topic    string
	store    *eventstore.InMemoryStore
	consumer *ingest.Consumer
	producer *kgo.Client
	done     chan error
}

func TestConsumerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ConsumerSuite))
}

func (s *ConsumerSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redpanda = mgr.GetRedpanda(s.T())
}

func (s *ConsumerSuite) SetupTest() {
	// A fresh topic per test isolates offsets without resetting the broker.
	s.topic = fmt.Sprintf("parcel-events-%s", uuid.NewString())
	s.store = eventstore.NewInMemoryStore()

	consumer, err := ingest.NewConsumer(
		s.redpanda.Brokers, s.topic, "materializer-test",
		s.store,
		ingest.WithLogger(logger.NewDiscard()),
	)
	s.Require().NoError(err)
	s.consumer = consumer

	ctx := context.Background()
	s.Require().NoError(consumer.EnsureTopic(ctx, 1))

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.DefaultProduceTopic(s.topic),
	)
	s.Require().NoError(err)
	s.producer = producer

	s.done = make(chan error, 1)
	go func() {
		s.done <- s.consumer.Run(context.Background())
	}()
}

func (s *ConsumerSuite) TearDownTest() {
	s.producer.Close()
	s.consumer.Close()
	select {
	case err := <-s.done:
		s.NoError(err)
	case <-time.After(10 * time.Second):
		s.Fail("consumer did not stop after client close")
	}
}

func (s *ConsumerSuite) produce(payloads ...map[string]any) {
	ctx := context.Background()
	for _, payload := range payloads {
		raw, err := json.Marshal(payload)
		s.Require().NoError(err)
		s.Require().NoError(s.producer.ProduceSync(ctx, &kgo.Record{Value: raw}).FirstErr())
	}
}

func (s *ConsumerSuite) waitForCount(want int64) {
	ctx := context.Background()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		count, err := s.store.Count(ctx)
		s.Require().NoError(err)
		if count >= want {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	count, _ := s.store.Count(ctx)
	s.Require().Equal(want, count, "timed out waiting for ingested events")
}

func (s *ConsumerSuite) TestIngestsValidEvents() {
	parcel := uuid.NewString()
	s.produce(
		map[string]any{
			"event_id":   uuid.NewString(),
			"parcel_id":  parcel,
			"event_type": "PARCEL_CREATED",
			"event_ts":   "2026-08-20T10:00:00Z",
			"sequence_no": 1,
			"service_tier": "NEXT_DAY",
		},
		map[string]any{
			"event_id":   uuid.NewString(),
			"parcel_id":  parcel,
			"event_type": "SCAN_IN_DEPOT",
			"event_ts":   "2026-08-20T12:00:00Z",
			"sequence_no": 2,
			"depot_id":   uuid.NewString(),
		},
	)

	s.waitForCount(2)

	id, err := domain.ParseParcelID(parcel)
	s.Require().NoError(err)
	events, err := s.store.ListByParcels(context.Background(),
		[]domain.ParcelID{id}, domain.AllEventKinds())
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(domain.KindParcelCreated, events[0].Kind)
	s.Require().NotNil(events[0].Payload.ServiceTier)
	s.Equal("NEXT_DAY", *events[0].Payload.ServiceTier)
}

func (s *ConsumerSuite) TestMalformedRecordsAreDroppedNotFatal() {
	valid := map[string]any{
		"event_id":   uuid.NewString(),
		"parcel_id":  uuid.NewString(),
		"event_type": "DELIVERED",
		"event_ts":   "2026-08-20T18:00:00Z",
		"sequence_no": 1,
	}

	s.Require().NoError(s.producer.ProduceSync(context.Background(),
		&kgo.Record{Value: []byte("{not json")}).FirstErr())
	s.produce(
		map[string]any{
			// Unknown kind is rejected at decode.
			"event_id":   uuid.NewString(),
			"parcel_id":  uuid.NewString(),
			"event_type": "TELEPORTED",
			"event_ts":   "2026-08-20T18:00:00Z",
			"sequence_no": 1,
		},
		valid,
	)

	s.waitForCount(1)

	count, err := s.store.Count(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}
