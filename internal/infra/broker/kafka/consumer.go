package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

type MessageHandler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// Consumer feeds a consumer group into a MessageHandler. A failing message is
// retried in place a few times; after that the claim is abandoned without
// marking, and the group rejoins to redeliver from the last commit.
type Consumer struct {
	group    sarama.ConsumerGroup
	handler  MessageHandler
	logger   *slog.Logger
	retries  int
	retryGap time.Duration
	rejoin   time.Duration
}

func NewConsumer(brokers []string, groupID string, cfg *sarama.Config, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	g, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		group:    g,
		handler:  handler,
		logger:   logger,
		retries:  3,
		retryGap: 200 * time.Millisecond,
		rejoin:   time.Second,
	}, nil
}

func (c *Consumer) Run(ctx context.Context, topics []string) error {
	c.logger.Info("kafka consumer started", "topics", topics)
	for {
		if err := c.group.Consume(ctx, topics, c); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.rejoin):
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if !c.deliver(sess.Context(), msg) {
			return nil
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

// deliver reports whether msg was handled and may be marked.
func (c *Consumer) deliver(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	for attempt := 1; ; attempt++ {
		err := c.handler.Handle(ctx, msg)
		if err == nil {
			return true
		}
		log := c.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "attempt", attempt, "error", err)
		if attempt >= c.retries {
			log.Error("kafka message failed, leaving it for redelivery")
			return false
		}
		log.Warn("kafka message failed, retrying")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryGap):
		}
	}
}

var _ sarama.ConsumerGroupHandler = (*Consumer)(nil)
