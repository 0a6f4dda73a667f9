package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateConversation starts a new conversation for a user. The title is the
// first query truncated by the caller.
func (s *Store) CreateConversation(ctx context.Context, orgID, userID uuid.UUID, title string) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (conversation_id, org_id, user_id, title)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, uuid.New(), orgID, userID, title)
	return scanConversation(row)
}

// GetConversation retrieves a conversation scoped to its organization and
// owning user.
func (s *Store) GetConversation(ctx context.Context, orgID, userID, conversationID uuid.UUID) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT * FROM conversations
		WHERE org_id = $1 AND user_id = $2 AND conversation_id = $3
	`, orgID, userID, conversationID)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	return conv, nil
}

// ListConversations returns a user's conversations, most recently active
// first.
func (s *Store) ListConversations(ctx context.Context, orgID, userID uuid.UUID, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `
		SELECT * FROM conversations
		WHERE org_id = $1 AND user_id = $2
		ORDER BY updated_at DESC
		LIMIT $3 OFFSET $4
	`, orgID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// AppendMessage persists one turn and bumps the conversation's counters in
// the same transaction, so message_count never drifts from the actual rows.
func (s *Store) AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string, sources []SourceRef) (Message, error) {
	if sources == nil {
		sources = []SourceRef{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return Message{}, err
	}

	var msg Message
	err = s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO messages (message_id, conversation_id, role, content, sources)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING message_id, conversation_id, role, content, sources, created_at
		`, uuid.New(), conversationID, role, content, string(sourcesJSON))
		m, err := scanMessage(row)
		if err != nil {
			return err
		}

		cmd, err := tx.Exec(ctx, `
			UPDATE conversations
			SET message_count = message_count + 1, updated_at = NOW()
			WHERE conversation_id = $1
		`, conversationID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrNotFound
		}
		msg = m
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, conversation_id, role, content, sources, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentMessages returns the last limit messages of a conversation, oldest
// first.
func (s *Store) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, conversation_id, role, content, sources, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DeleteConversation removes a conversation and, through the cascade, its
// messages.
func (s *Store) DeleteConversation(ctx context.Context, orgID, userID, conversationID uuid.UUID) error {
	cmd, err := s.pool.Exec(ctx, `
		DELETE FROM conversations
		WHERE org_id = $1 AND user_id = $2 AND conversation_id = $3
	`, orgID, userID, conversationID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		conv      Conversation
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(
		&conv.ID,
		&conv.OrgID,
		&conv.UserID,
		&conv.Title,
		&conv.MessageCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}
	conv.CreatedAt = createdAt
	conv.UpdatedAt = updatedAt
	return conv, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m       Message
		sources []byte
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &sources, &m.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &m.Sources); err != nil {
			return Message{}, err
		}
	}
	return m, nil
}
