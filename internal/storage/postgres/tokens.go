package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// CreateRefreshToken persists the server-side record for a newly issued
// refresh token.
func (s *Store) CreateRefreshToken(ctx context.Context, rec RefreshToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (token_id, user_id, org_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.TokenID, rec.UserID, rec.OrgID, rec.TokenHash, rec.ExpiresAt)
	return err
}

// GetRefreshToken loads a refresh token record by its token_id.
func (s *Store) GetRefreshToken(ctx context.Context, tokenID uuid.UUID) (RefreshToken, error) {
	row := s.pool.QueryRow(ctx, `SELECT * FROM refresh_tokens WHERE token_id = $1`, tokenID)
	rec, err := scanRefreshToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RefreshToken{}, ErrNotFound
		}
		return RefreshToken{}, err
	}
	return rec, nil
}

// RotateRefreshToken atomically revokes the old record and inserts the new
// one. The revocation is a compare-and-set on revoked = FALSE, so a replayed
// refresh token resolves to exactly one successor: the second caller gets
// ErrConflict.
func (s *Store) RotateRefreshToken(ctx context.Context, oldTokenID uuid.UUID, next RefreshToken) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked = TRUE, revoked_at = NOW()
			WHERE token_id = $1 AND revoked = FALSE
		`, oldTokenID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrConflict
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO refresh_tokens (token_id, user_id, org_id, token_hash, expires_at)
			VALUES ($1, $2, $3, $4, $5)
		`, next.TokenID, next.UserID, next.OrgID, next.TokenHash, next.ExpiresAt)
		return err
	})
}

// RevokeRefreshToken marks a record revoked. Idempotent: revoking an already
// revoked or missing record succeeds.
func (s *Store) RevokeRefreshToken(ctx context.Context, tokenID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = NOW()
		WHERE token_id = $1 AND revoked = FALSE
	`, tokenID)
	return err
}

// RevokeAllUserTokens revokes every live refresh token of a user.
func (s *Store) RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = NOW()
		WHERE user_id = $1 AND revoked = FALSE
	`, userID)
	return err
}

func scanRefreshToken(row pgx.Row) (RefreshToken, error) {
	var (
		rec       RefreshToken
		revokedAt pgtype.Timestamptz
		createdAt time.Time
	)
	err := row.Scan(
		&rec.TokenID,
		&rec.UserID,
		&rec.OrgID,
		&rec.TokenHash,
		&rec.ExpiresAt,
		&rec.Revoked,
		&revokedAt,
		&createdAt,
	)
	if err != nil {
		return RefreshToken{}, err
	}
	rec.RevokedAt = timePtr(revokedAt)
	rec.CreatedAt = createdAt
	return rec, nil
}
