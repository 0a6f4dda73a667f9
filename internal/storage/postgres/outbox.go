package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// InsertFailedEvent parks an event whose bus publish failed so the retry loop
// can pick it up later.
func (s *Store) InsertFailedEvent(ctx context.Context, topic, key string, payload []byte, lastError string) error {
	if len(lastError) > maxStoredErrorLen {
		lastError = lastError[:maxStoredErrorLen]
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO failed_events (topic, event_key, payload, last_error)
		VALUES ($1, $2, $3, $4)
	`, topic, key, payload, lastError)
	return err
}

// ListUnpublishedEvents returns the oldest parked events, up to limit.
func (s *Store) ListUnpublishedEvents(ctx context.Context, limit int) ([]FailedEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic, event_key, payload, last_error, retry_count, published, created_at, retried_at
		FROM failed_events
		WHERE NOT published
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FailedEvent
	for rows.Next() {
		var (
			e         FailedEvent
			retriedAt pgtype.Timestamptz
			createdAt time.Time
		)
		if err := rows.Scan(&e.ID, &e.Topic, &e.Key, &e.Payload, &e.LastError, &e.RetryCount, &e.Published, &createdAt, &retriedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = createdAt
		e.RetriedAt = timePtr(retriedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkEventPublished flags a parked event as delivered.
func (s *Store) MarkEventPublished(ctx context.Context, id int64) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE failed_events
		SET published = TRUE, retried_at = NOW()
		WHERE id = $1 AND NOT published
	`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordEventRetryFailure bumps the retry counter after another failed
// publish attempt.
func (s *Store) RecordEventRetryFailure(ctx context.Context, id int64, lastError string) error {
	if len(lastError) > maxStoredErrorLen {
		lastError = lastError[:maxStoredErrorLen]
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE failed_events
		SET retry_count = retry_count + 1, last_error = $2, retried_at = NOW()
		WHERE id = $1
	`, id, lastError)
	return err
}
