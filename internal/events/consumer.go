package events

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Handler processes one consumed message. Returning nil commits the offset;
// returning an error leaves it uncommitted so the broker redelivers.
type Handler func(ctx context.Context, msg kafka.Message) error

// Consumer reads one topic inside a consumer group and hands each message to
// a Handler. Offsets are committed only after the handler succeeds, giving
// at-least-once delivery; handlers must be idempotent.
type Consumer struct {
	reader *kafka.Reader
	logger zerolog.Logger
}

// ConsumerConfig configures a group consumer.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

// NewConsumer creates a consumer for the given topic.
func NewConsumer(cfg ConsumerConfig, logger zerolog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // explicit commits only
		MaxWait:        time.Second,
	})
	return &Consumer{
		reader: reader,
		logger: logger.With().Str("component", "event-consumer").Str("topic", cfg.Topic).Logger(),
	}
}

// Run fetches messages until ctx is cancelled. Handler errors are logged and
// the message is left uncommitted for redelivery.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error().Err(err).Msg("fetch failed")
			continue
		}

		if err := handle(ctx, msg); err != nil {
			c.logger.Error().Err(err).
				Str("key", string(msg.Key)).
				Int64("offset", msg.Offset).
				Msg("handler failed, offset not committed")
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("commit failed")
		}
	}
}

// Close shuts down the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
