package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/faqforge/faqforge/internal/metrics"
	"github.com/faqforge/faqforge/internal/storage/postgres"
)

// OutboxPublisher wraps a Publisher and parks envelopes in the failed_events
// table when the bus rejects them. The caller's operation still succeeds; the
// retry loop drains the table later.
type OutboxPublisher struct {
	inner  Publisher
	store  *postgres.Store
	logger zerolog.Logger
}

// NewOutboxPublisher wraps inner with outbox fallback.
func NewOutboxPublisher(inner Publisher, store *postgres.Store, logger zerolog.Logger) *OutboxPublisher {
	return &OutboxPublisher{
		inner:  inner,
		store:  store,
		logger: logger.With().Str("component", "outbox-publisher").Logger(),
	}
}

// Publish attempts the bus write and falls back to the outbox on failure.
// Returns an error only when both the bus and the outbox write fail.
func (p *OutboxPublisher) Publish(ctx context.Context, topic, key string, envelope any) error {
	err := p.inner.Publish(ctx, topic, key, envelope)
	if err == nil {
		return nil
	}

	payload, merr := json.Marshal(envelope)
	if merr != nil {
		return merr
	}
	if oerr := p.store.InsertFailedEvent(ctx, topic, key, payload, err.Error()); oerr != nil {
		p.logger.Error().Err(oerr).Str("topic", topic).Str("key", key).Msg("outbox write failed")
		return oerr
	}
	p.logger.Warn().Err(err).Str("topic", topic).Str("key", key).Msg("event parked in outbox")
	return nil
}

// Close closes the wrapped publisher.
func (p *OutboxPublisher) Close() error {
	return p.inner.Close()
}

// OutboxRetrier periodically republishes parked events.
type OutboxRetrier struct {
	publisher Publisher
	store     *postgres.Store
	interval  time.Duration
	batchSize int
	logger    zerolog.Logger
}

// NewOutboxRetrier creates a retry loop draining the outbox every interval.
func NewOutboxRetrier(publisher Publisher, store *postgres.Store, interval time.Duration, logger zerolog.Logger) *OutboxRetrier {
	if interval <= 0 {
		interval = time.Minute
	}
	return &OutboxRetrier{
		publisher: publisher,
		store:     store,
		interval:  interval,
		batchSize: 50,
		logger:    logger.With().Str("component", "outbox-retrier").Logger(),
	}
}

// Run drains the outbox on a ticker until ctx is cancelled.
func (r *OutboxRetrier) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drainOnce(ctx)
		}
	}
}

func (r *OutboxRetrier) drainOnce(ctx context.Context) {
	pending, err := r.store.ListUnpublishedEvents(ctx, r.batchSize)
	if err != nil {
		r.logger.Error().Err(err).Msg("list outbox failed")
		return
	}
	for _, evt := range pending {
		var envelope json.RawMessage = evt.Payload
		if err := r.publisher.Publish(ctx, evt.Topic, evt.Key, envelope); err != nil {
			metrics.OutboxRetriesTotal.WithLabelValues("failure").Inc()
			if rerr := r.store.RecordEventRetryFailure(ctx, evt.ID, err.Error()); rerr != nil {
				r.logger.Error().Err(rerr).Int64("id", evt.ID).Msg("record retry failure failed")
			}
			continue
		}
		metrics.OutboxRetriesTotal.WithLabelValues("success").Inc()
		if err := r.store.MarkEventPublished(ctx, evt.ID); err != nil {
			r.logger.Error().Err(err).Int64("id", evt.ID).Msg("mark published failed")
		}
	}
}
