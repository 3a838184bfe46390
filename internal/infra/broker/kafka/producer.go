package kafka

import (
	"context"
	"log/slog"

	"github.com/IBM/sarama"

	infraoutbox "staybook/internal/infra/outbox"
)

// Producer publishes relayed outbox events. Records are keyed by aggregate
// id and hash-partitioned, so all events of one booking land on a single
// partition in the order they were raised.
type Producer struct {
	sync   sarama.SyncProducer
	logger *slog.Logger
}

func NewProducer(brokers []string, clientID string, logger *slog.Logger) (*Producer, error) {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Retry.Max = 5
	cfg.Net.MaxOpenRequests = 1
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{sync: sync, logger: logger}, nil
}

func (p *Producer) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		return err
	}
	p.logger.Debug("event published", "topic", topic, "key", key, "partition", partition, "offset", offset)
	return nil
}

func (p *Producer) Close() error {
	if p.sync == nil {
		return nil
	}
	return p.sync.Close()
}

var _ infraoutbox.Producer = (*Producer)(nil)
