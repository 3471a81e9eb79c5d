package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"relaymart/internal/event"
	eventstore "relaymart/internal/event/store"
	"relaymart/internal/platform/metrics"
)

// Consumer pulls raw event batches from Kafka into the event log. Offsets
// commit only after the batch is durably appended; a crash between append
// and commit redelivers, and the duplicate event IDs are absorbed by dedup.
type Consumer struct {
	client  *kgo.Client
	store   eventstore.Store
	topic   string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Consumer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) { c.logger = logger }
}

func NewConsumer(brokers []string, topic, group string, store eventstore.Store, opts ...Option) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(group),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("build kafka client: %w", err)
	}

	c := &Consumer{
		client: client,
		store:  store,
		topic:  topic,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EnsureTopic creates the event topic when it does not exist yet. Local and
// test clusters start empty; production clusters usually pre-provision.
func (c *Consumer) EnsureTopic(ctx context.Context, partitions int32) error {
	adm := kadm.NewClient(c.client)

	topics, err := adm.ListTopics(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if topics.Has(c.topic) {
		return nil
	}

	if _, err := adm.CreateTopic(ctx, partitions, 1, nil, c.topic); err != nil {
		return fmt.Errorf("create topic %s: %w", c.topic, err)
	}
	c.logger.Info("created event topic", "topic", c.topic, "partitions", partitions)
	return nil
}

// Run polls until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("ingest consumer started", "topic", c.topic)
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error", "topic", topic, "partition", partition, "error", err)
		})

		if err := c.processFetches(ctx, fetches); err != nil {
			return err
		}
	}
}

func (c *Consumer) processFetches(ctx context.Context, fetches kgo.Fetches) error {
	var batch []event.Event
	fetches.EachRecord(func(rec *kgo.Record) {
		ev, reason, err := Decode(rec.Value)
		if err != nil {
			if c.metrics != nil {
				c.metrics.EventsRejected.WithLabelValues(reason).Inc()
			}
			c.logger.Warn("rejecting event", "reason", reason, "error", err,
				"partition", rec.Partition, "offset", rec.Offset)
			return
		}
		batch = append(batch, ev)
	})

	if len(batch) > 0 {
		if err := c.store.AppendBatch(ctx, batch); err != nil {
			// Offsets stay uncommitted; the batch redelivers.
			return fmt.Errorf("append event batch: %w", err)
		}
		if c.metrics != nil {
			c.metrics.EventsIngested.Add(float64(len(batch)))
		}
	}

	if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

func (c *Consumer) Close() {
	c.client.Close()
}
