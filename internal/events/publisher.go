package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/faqforge/faqforge/internal/metrics"
)

// Publisher sends event envelopes to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, envelope any) error
	Close() error
}

// KafkaPublisher writes envelopes to Kafka synchronously, keyed by document
// ID so one document's events stay ordered within a partition.
type KafkaPublisher struct {
	mu     sync.RWMutex
	writer *kafka.Writer
	logger zerolog.Logger
}

// KafkaPublisherConfig configures the Kafka publisher.
type KafkaPublisherConfig struct {
	Brokers      []string
	ClientID     string
	WriteTimeout time.Duration
}

// NewKafkaPublisher creates a publisher connected to the given brokers. The
// topic is chosen per message so one writer serves all three document topics.
func NewKafkaPublisher(cfg KafkaPublisherConfig, logger zerolog.Logger) *KafkaPublisher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  5 * time.Second,
	}
	if cfg.ClientID != "" {
		writer.Transport = &kafka.Transport{ClientID: cfg.ClientID}
	}
	return &KafkaPublisher{
		writer: writer,
		logger: logger.With().Str("component", "event-publisher").Logger(),
	}
}

// Publish serializes the envelope and writes it to the topic.
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, envelope any) error {
	p.mu.RLock()
	writer := p.writer
	p.mu.RUnlock()
	if writer == nil {
		return fmt.Errorf("kafka writer is closed")
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: time.Now().UTC(),
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		metrics.EventPublishFailuresTotal.WithLabelValues(topic).Inc()
		p.logger.Error().Err(err).Str("topic", topic).Str("key", key).Msg("publish failed")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug().Str("topic", topic).Str("key", key).Msg("event published")
	return nil
}

// Close shuts down the writer. Safe to call more than once.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}

// LogPublisher logs envelopes instead of sending them. Used in local test
// mode where no broker runs.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a log-only publisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "event-publisher").Logger()}
}

// Publish logs the envelope. Never fails.
func (p *LogPublisher) Publish(ctx context.Context, topic, key string, envelope any) error {
	p.logger.Info().Str("topic", topic).Str("key", key).Interface("envelope", envelope).Msg("event (local mode)")
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
