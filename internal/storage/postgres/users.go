package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateUserParams bundles the inputs for user creation inside an org.
type CreateUserParams struct {
	OrgID        uuid.UUID
	Email        string
	PasswordHash string
	Role         Role
}

// CreateUser creates a new user within an organization. Returns ErrDuplicate
// when the email already exists in the org.
func (s *Store) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (user_id, org_id, email, password_hash, role)
		VALUES ($1, $2, LOWER($3), $4, $5)
		RETURNING *
	`, uuid.New(), params.OrgID, params.Email, params.PasswordHash, string(params.Role))
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicate
		}
		return User{}, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email within an organization.
func (s *Store) GetUserByEmail(ctx context.Context, orgID uuid.UUID, email string) (User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT * FROM users WHERE org_id = $1 AND email = LOWER($2)
	`, orgID, email)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID. When orgID is non-nil the lookup is
// tenant-scoped.
func (s *Store) GetUserByID(ctx context.Context, userID uuid.UUID) (User, error) {
	row := s.pool.QueryRow(ctx, `SELECT * FROM users WHERE user_id = $1`, userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}

// ListUsers returns all users of an organization ordered by creation time.
func (s *Store) ListUsers(ctx context.Context, orgID uuid.UUID) ([]User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT * FROM users WHERE org_id = $1 ORDER BY created_at ASC
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// RecordLoginFailure increments failed_login_attempts and, when the counter
// reaches maxAttempts, sets locked_until. Returns the updated user so callers
// can audit a lockout.
func (s *Store) RecordLoginFailure(ctx context.Context, userID uuid.UUID, maxAttempts int, lockedUntil time.Time) (User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE
				WHEN failed_login_attempts + 1 >= $2 THEN $3
				ELSE locked_until
			END,
			updated_at = NOW()
		WHERE user_id = $1
		RETURNING *
	`, userID, maxAttempts, lockedUntil)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}

// RecordLoginSuccess resets the failure counters and stamps last_login_at.
func (s *Store) RecordLoginSuccess(ctx context.Context, userID uuid.UUID) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = 0,
			locked_until = NULL,
			last_login_at = NOW(),
			updated_at = NOW()
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserRole changes a user's role within their organization.
func (s *Store) UpdateUserRole(ctx context.Context, orgID, userID uuid.UUID, role Role) (User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users SET role = $3, updated_at = NOW()
		WHERE org_id = $1 AND user_id = $2
		RETURNING *
	`, orgID, userID, string(role))
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}

// SetUserActive toggles a user's active flag within their organization.
func (s *Store) SetUserActive(ctx context.Context, orgID, userID uuid.UUID, active bool) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE users SET is_active = $3, updated_at = NOW()
		WHERE org_id = $1 AND user_id = $2
	`, orgID, userID, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
