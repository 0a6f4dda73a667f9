package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// CreateOrgParams bundles the inputs for organization registration.
type CreateOrgParams struct {
	Name             string
	ClientIDPrefix   string
	ClientIDHash     string
	ClientSecretHash string
	OwnerEmail       string
	OwnerPasswordHash string
}

// CreateOrgWithOwner atomically inserts a new organization together with its
// owner user. Returns ErrDuplicate when the org name or client_id_hash
// collides.
func (s *Store) CreateOrgWithOwner(ctx context.Context, params CreateOrgParams) (Org, User, error) {
	orgID := uuid.New()
	userID := uuid.New()

	var (
		org   Org
		owner User
	)
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO orgs (org_id, name, client_id_prefix, client_id_hash, client_secret_hash)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING *
		`, orgID, params.Name, params.ClientIDPrefix, params.ClientIDHash, params.ClientSecretHash)
		o, err := scanOrg(row)
		if err != nil {
			return err
		}
		org = o

		row = tx.QueryRow(ctx, `
			INSERT INTO users (user_id, org_id, email, password_hash, role)
			VALUES ($1, $2, LOWER($3), $4, $5)
			RETURNING *
		`, userID, orgID, params.OwnerEmail, params.OwnerPasswordHash, string(RoleOwner))
		u, err := scanUser(row)
		if err != nil {
			return err
		}
		owner = u
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return Org{}, User{}, ErrDuplicate
		}
		return Org{}, User{}, err
	}
	return org, owner, nil
}

// GetOrgByID retrieves an organization by ID.
func (s *Store) GetOrgByID(ctx context.Context, id uuid.UUID) (Org, error) {
	row := s.pool.QueryRow(ctx, `SELECT * FROM orgs WHERE org_id = $1`, id)
	org, err := scanOrg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Org{}, ErrNotFound
		}
		return Org{}, err
	}
	return org, nil
}

// GetOrgByClientIDHash retrieves an organization by the hash of its client_id.
// This is the lookup path for the HMAC gate.
func (s *Store) GetOrgByClientIDHash(ctx context.Context, clientIDHash string) (Org, error) {
	row := s.pool.QueryRow(ctx, `SELECT * FROM orgs WHERE client_id_hash = $1`, clientIDHash)
	org, err := scanOrg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Org{}, ErrNotFound
		}
		return Org{}, err
	}
	return org, nil
}

// SetOrgActive toggles the active flag. Inactive orgs reject all requests.
func (s *Store) SetOrgActive(ctx context.Context, id uuid.UUID, active bool) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE orgs SET is_active = $2, updated_at = NOW() WHERE org_id = $1
	`, id, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrg(row pgx.Row) (Org, error) {
	var (
		o         Org
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(
		&o.ID,
		&o.Name,
		&o.ClientIDPrefix,
		&o.ClientIDHash,
		&o.ClientSecretHash,
		&o.IsActive,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return Org{}, err
	}
	o.CreatedAt = createdAt
	o.UpdatedAt = updatedAt
	return o, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u           User
		role        string
		lockedUntil pgtype.Timestamptz
		lastLogin   pgtype.Timestamptz
	)
	err := row.Scan(
		&u.ID,
		&u.OrgID,
		&u.Email,
		&u.PasswordHash,
		&role,
		&u.IsActive,
		&u.FailedLoginAttempts,
		&lockedUntil,
		&lastLogin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	u.LockedUntil = timePtr(lockedUntil)
	u.LastLoginAt = timePtr(lastLogin)
	return u, nil
}
