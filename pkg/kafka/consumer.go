// Package kafka reads cleaned-document messages through segmentio/kafka-go.
// Message bodies are opaque here; the stream layer owns decoding.
package kafka

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/papyrus-search/papyrus/pkg/config"
)

// Fetch sizing for the reader.
const (
	minFetchBytes = 1 << 10
	maxFetchBytes = 10 << 20
)

// MessageHandler processes one message. A non-nil return skips the commit for
// that message; the consumer does not fetch it again, and a later commit in
// the same partition moves the group offset past it.
type MessageHandler func(ctx context.Context, key, value []byte) error

// Consumer drains one topic within a consumer group, committing offsets
// after each handled message.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	logger  *slog.Logger
}

// NewConsumer builds a Consumer over cfg's brokers for topic. Consumption
// starts at the earliest retained offset so a fresh group sees the whole
// corpus.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    minFetchBytes,
			MaxBytes:    maxFetchBytes,
			StartOffset: kafka.FirstOffset,
		}),
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start fetches and handles messages until ctx is cancelled, then returns nil.
// Fetch and handler failures are logged and the loop goes on.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("fetch failed", "error", err)
			continue
		}
		if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
			c.logger.Error("message handling failed",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("offset commit failed",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
