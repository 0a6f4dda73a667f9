// Package identity implements organization registration, user login with
// lockout, refresh token rotation, and the two request authentication gates
// (HMAC and bearer).
//
// Purpose:
//   The trust fabric of the platform. Organizations authenticate requests
//   with HMAC signatures derived from their client secret; users authenticate
//   with short-lived access tokens and rotating refresh tokens.
//
// Dependencies:
//   - golang.org/x/crypto/bcrypt (via internal/security): password hashing
//   - github.com/golang-jwt/jwt/v5 (via internal/token): bearer tokens
//   - github.com/redis/go-redis/v9 (via credential cache): org lookup cache
//
// Key Responsibilities:
//   - RegisterOrg: atomic org + owner creation, one-time credential reveal
//   - Login: password verification, lockout at the attempt threshold
//   - Refresh: rotation with replay detection revoking the token family
//   - ValidateHMAC / ValidateAccess: the two authentication gates
//
// Error Handling:
//   - All caller-visible failures are *apierr.Error values. Login failures
//     never reveal whether the email exists.
package identity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/faqforge/faqforge/internal/apierr"
	"github.com/faqforge/faqforge/internal/audit"
	"github.com/faqforge/faqforge/internal/metrics"
	"github.com/faqforge/faqforge/internal/security"
	"github.com/faqforge/faqforge/internal/storage/postgres"
	"github.com/faqforge/faqforge/internal/token"
)

// clientIDDisplayLen is how much of the client_id survives as the stored
// display prefix.
const clientIDDisplayLen = 11

// Store is the slice of the database layer the identity service needs.
// *postgres.Store satisfies it.
type Store interface {
	CreateOrgWithOwner(ctx context.Context, params postgres.CreateOrgParams) (postgres.Org, postgres.User, error)
	GetOrgByID(ctx context.Context, id uuid.UUID) (postgres.Org, error)
	GetOrgByClientIDHash(ctx context.Context, clientIDHash string) (postgres.Org, error)

	CreateUser(ctx context.Context, params postgres.CreateUserParams) (postgres.User, error)
	GetUserByEmail(ctx context.Context, orgID uuid.UUID, email string) (postgres.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (postgres.User, error)
	ListUsers(ctx context.Context, orgID uuid.UUID) ([]postgres.User, error)
	RecordLoginFailure(ctx context.Context, userID uuid.UUID, maxAttempts int, lockedUntil time.Time) (postgres.User, error)
	RecordLoginSuccess(ctx context.Context, userID uuid.UUID) error
	UpdateUserRole(ctx context.Context, orgID, userID uuid.UUID, role postgres.Role) (postgres.User, error)
	SetUserActive(ctx context.Context, orgID, userID uuid.UUID, active bool) error

	CreateRefreshToken(ctx context.Context, rec postgres.RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenID uuid.UUID) (postgres.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldTokenID uuid.UUID, next postgres.RefreshToken) error
	RevokeRefreshToken(ctx context.Context, tokenID uuid.UUID) error
	RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) error
}

// OrgResolver resolves client_id hashes to organizations. The plain Store
// satisfies it; the Redis credential cache wraps it.
type OrgResolver interface {
	GetOrgByClientIDHash(ctx context.Context, clientIDHash string) (postgres.Org, error)
}

// Config carries the identity service's tunables.
type Config struct {
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	HMACWindow       time.Duration
}

// Service implements the identity operations.
type Service struct {
	store    Store
	resolver OrgResolver
	issuer   *token.Issuer
	emitter  audit.Emitter
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates the identity service. resolver may be nil, in which case
// org lookups go straight to the store.
func NewService(store Store, resolver OrgResolver, issuer *token.Issuer, emitter audit.Emitter, cfg Config, logger zerolog.Logger) *Service {
	if resolver == nil {
		resolver = store
	}
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 30 * time.Minute
	}
	if cfg.HMACWindow <= 0 {
		cfg.HMACWindow = 5 * time.Minute
	}
	return &Service{
		store:    store,
		resolver: resolver,
		issuer:   issuer,
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger.With().Str("component", "identity").Logger(),
		now:      time.Now,
	}
}

// RegisterOrgInput is the registration request.
type RegisterOrgInput struct {
	OrgName  string
	Email    string
	Password string
}

// RegisterOrgResult carries the new org, its owner, and the raw credentials.
// The raw values exist only in this result; persist them client-side.
type RegisterOrgResult struct {
	Org          postgres.Org
	Owner        postgres.User
	ClientID     string
	ClientSecret string
}

// RegisterOrg creates an organization with its owner user and mints the org's
// credential pair.
func (s *Service) RegisterOrg(ctx context.Context, in RegisterOrgInput) (RegisterOrgResult, error) {
	in.OrgName = strings.TrimSpace(in.OrgName)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.OrgName == "" || !validEmail(in.Email) {
		return RegisterOrgResult{}, apierr.ErrValidation.WithDetails(map[string]any{
			"org_name": "required",
			"email":    "must be a valid email address",
		})
	}
	if err := security.ValidatePasswordPolicy(in.Password); err != nil {
		return RegisterOrgResult{}, apierr.ErrInvalidPasswordFormat
	}

	passwordHash, err := security.HashPassword(in.Password)
	if err != nil {
		return RegisterOrgResult{}, fmt.Errorf("hash password: %w", err)
	}
	clientID, clientSecret, err := security.GenerateClientCredentials()
	if err != nil {
		return RegisterOrgResult{}, fmt.Errorf("generate credentials: %w", err)
	}

	org, owner, err := s.store.CreateOrgWithOwner(ctx, postgres.CreateOrgParams{
		Name:              in.OrgName,
		ClientIDPrefix:    clientID[:clientIDDisplayLen],
		ClientIDHash:      security.HashIdentifier(clientID),
		ClientSecretHash:  security.HashIdentifier(clientSecret),
		OwnerEmail:        in.Email,
		OwnerPasswordHash: passwordHash,
	})
	if err != nil {
		if errors.Is(err, postgres.ErrDuplicate) {
			return RegisterOrgResult{}, apierr.ErrDuplicateOrg
		}
		return RegisterOrgResult{}, fmt.Errorf("create org: %w", err)
	}

	s.audit(ctx, audit.Event{
		OrgID:  org.ID,
		UserID: &owner.ID,
		Action: audit.ActionOrgRegistered,
		Status: audit.StatusSuccess,
	})
	s.logger.Info().Str("org_id", org.ID.String()).Str("org_name", org.Name).Msg("organization registered")

	return RegisterOrgResult{
		Org:          org,
		Owner:        owner,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}, nil
}

// TokenPair is one issued access/refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// LoginInput is the password login request. IP and UserAgent feed the audit
// trail.
type LoginInput struct {
	OrgID     uuid.UUID
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// Login verifies the password and issues a token pair. After
// MaxLoginAttempts consecutive failures the account locks for
// LockoutDuration. The caller cannot distinguish a wrong password from an
// unknown email.
func (s *Service) Login(ctx context.Context, in LoginInput) (TokenPair, postgres.User, error) {
	user, err := s.store.GetUserByEmail(ctx, in.OrgID, strings.TrimSpace(in.Email))
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			metrics.RecordAuthFailure("password", "unknown_email")
			s.audit(ctx, audit.Event{
				OrgID:     in.OrgID,
				Action:    audit.ActionLoginFailed,
				Status:    audit.StatusFailure,
				Details:   map[string]any{"reason": "unknown_email"},
				IPAddress: in.IPAddress,
				UserAgent: in.UserAgent,
			})
			return TokenPair{}, postgres.User{}, apierr.ErrInvalidCredentials
		}
		return TokenPair{}, postgres.User{}, fmt.Errorf("lookup user: %w", err)
	}

	now := s.now()
	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		metrics.RecordAuthFailure("password", "account_locked")
		s.audit(ctx, audit.Event{
			OrgID:     in.OrgID,
			UserID:    &user.ID,
			Action:    audit.ActionAccountLocked,
			Status:    audit.StatusFailure,
			Details:   map[string]any{"locked_until": user.LockedUntil.UTC().Format(time.RFC3339)},
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
		})
		return TokenPair{}, postgres.User{}, apierr.ErrAccountLocked
	}
	if !user.IsActive {
		metrics.RecordAuthFailure("password", "account_inactive")
		return TokenPair{}, postgres.User{}, apierr.ErrAccountInactive
	}

	if !security.VerifyPassword(in.Password, user.PasswordHash) {
		updated, ferr := s.store.RecordLoginFailure(ctx, user.ID, s.cfg.MaxLoginAttempts, now.Add(s.cfg.LockoutDuration))
		if ferr != nil {
			return TokenPair{}, postgres.User{}, fmt.Errorf("record login failure: %w", ferr)
		}
		metrics.RecordAuthFailure("password", "invalid_password")

		action := audit.ActionLoginFailed
		details := map[string]any{"failed_attempts": updated.FailedLoginAttempts}
		if updated.LockedUntil != nil && updated.LockedUntil.After(now) {
			action = audit.ActionAccountLocked
			details["locked_until"] = updated.LockedUntil.UTC().Format(time.RFC3339)
		}
		s.audit(ctx, audit.Event{
			OrgID:     in.OrgID,
			UserID:    &user.ID,
			Action:    action,
			Status:    audit.StatusFailure,
			Details:   details,
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
		})
		if action == audit.ActionAccountLocked {
			return TokenPair{}, postgres.User{}, apierr.ErrAccountLocked
		}
		return TokenPair{}, postgres.User{}, apierr.ErrInvalidCredentials
	}

	if err := s.store.RecordLoginSuccess(ctx, user.ID); err != nil {
		return TokenPair{}, postgres.User{}, fmt.Errorf("record login success: %w", err)
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return TokenPair{}, postgres.User{}, err
	}
	metrics.RecordAuthSuccess("password")
	s.audit(ctx, audit.Event{
		OrgID:     in.OrgID,
		UserID:    &user.ID,
		Action:    audit.ActionLoginSuccess,
		Status:    audit.StatusSuccess,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	})
	return pair, user, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued. Presenting an already-rotated token is treated as replay
// and revokes every live token of the user.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.issuer.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		metrics.RecordAuthFailure("refresh", "invalid_token")
		return TokenPair{}, apierr.ErrInvalidRefreshToken
	}
	tokenID := uuid.MustParse(claims.TokenID)
	userID := uuid.MustParse(claims.UserID)

	rec, err := s.store.GetRefreshToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			metrics.RecordAuthFailure("refresh", "unknown_token")
			return TokenPair{}, apierr.ErrInvalidRefreshToken
		}
		return TokenPair{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	if rec.Revoked {
		return TokenPair{}, s.handleReuse(ctx, rec)
	}
	if rec.ExpiresAt.Before(s.now()) {
		metrics.RecordAuthFailure("refresh", "expired_token")
		return TokenPair{}, apierr.ErrInvalidRefreshToken
	}
	if rec.TokenHash != security.HashIdentifier(refreshToken) {
		metrics.RecordAuthFailure("refresh", "hash_mismatch")
		return TokenPair{}, apierr.ErrInvalidRefreshToken
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return TokenPair{}, apierr.ErrInvalidRefreshToken
		}
		return TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return TokenPair{}, apierr.ErrAccountInactive
	}

	now := s.now()
	accessToken, err := s.issuer.IssueAccess(user.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	newRefresh, newTokenID, expiresAt, err := s.issuer.IssueRefresh(user.ID, now)
	if err != nil {
		return TokenPair{}, err
	}

	err = s.store.RotateRefreshToken(ctx, tokenID, postgres.RefreshToken{
		TokenID:   newTokenID,
		UserID:    user.ID,
		OrgID:     user.OrgID,
		TokenHash: security.HashIdentifier(newRefresh),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		if errors.Is(err, postgres.ErrConflict) {
			// Lost the rotation race: someone else presented this token
			// concurrently. Treat as replay.
			return TokenPair{}, s.handleReuse(ctx, rec)
		}
		return TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	metrics.RecordAuthSuccess("refresh")
	s.audit(ctx, audit.Event{
		OrgID:  user.OrgID,
		UserID: &user.ID,
		Action: audit.ActionTokenRefreshed,
		Status: audit.StatusSuccess,
	})
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		ExpiresIn:    int(s.issuer.AccessTTL().Seconds()),
	}, nil
}

// handleReuse revokes the whole token family of the record's user and
// records the replay.
func (s *Service) handleReuse(ctx context.Context, rec postgres.RefreshToken) error {
	metrics.RecordAuthFailure("refresh", "token_reuse")
	if err := s.store.RevokeAllUserTokens(ctx, rec.UserID); err != nil {
		s.logger.Error().Err(err).Str("user_id", rec.UserID.String()).Msg("revoke token family failed")
	}
	s.audit(ctx, audit.Event{
		OrgID:   rec.OrgID,
		UserID:  &rec.UserID,
		Action:  audit.ActionTokenReuseDetected,
		Status:  audit.StatusFailure,
		Details: map[string]any{"token_id": rec.TokenID.String()},
	})
	s.logger.Warn().
		Str("user_id", rec.UserID.String()).
		Str("token_id", rec.TokenID.String()).
		Msg("refresh token reuse detected, token family revoked")
	return apierr.ErrInvalidRefreshToken
}

// Logout revokes the presented refresh token. Idempotent: an invalid,
// expired or already-revoked token still logs out cleanly.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.issuer.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil
	}
	tokenID, err := uuid.Parse(claims.TokenID)
	if err != nil {
		return nil
	}
	if err := s.store.RevokeRefreshToken(ctx, tokenID); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	rec, err := s.store.GetRefreshToken(ctx, tokenID)
	if err == nil {
		s.audit(ctx, audit.Event{
			OrgID:  rec.OrgID,
			UserID: &rec.UserID,
			Action: audit.ActionLogout,
			Status: audit.StatusSuccess,
		})
	}
	return nil
}

// ValidateAccess verifies an access token and loads its user. Both the user
// and the user's account must be active.
func (s *Service) ValidateAccess(ctx context.Context, accessToken string) (postgres.User, error) {
	claims, err := s.issuer.Verify(accessToken, token.TypeAccess)
	if err != nil {
		return postgres.User{}, err
	}
	user, err := s.store.GetUserByID(ctx, uuid.MustParse(claims.UserID))
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return postgres.User{}, apierr.ErrInvalidToken
		}
		return postgres.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return postgres.User{}, apierr.ErrAccountInactive
	}
	return user, nil
}

// HMACInput is one signed request to validate.
type HMACInput struct {
	ClientID  string
	Timestamp string
	Signature string
	Method    string
	Path      string
	Body      []byte
}

// ValidateHMAC authenticates an org-signed request: the timestamp must fall
// within the window, the client must resolve to an active org, and the
// signature must verify against the canonical payload.
func (s *Service) ValidateHMAC(ctx context.Context, in HMACInput) (postgres.Org, error) {
	if in.ClientID == "" || in.Timestamp == "" || in.Signature == "" {
		metrics.RecordAuthFailure("hmac", "missing_headers")
		return postgres.Org{}, apierr.ErrMissingHMACHeader
	}

	millis, err := strconv.ParseInt(in.Timestamp, 10, 64)
	if err != nil {
		metrics.RecordAuthFailure("hmac", "bad_timestamp")
		return postgres.Org{}, apierr.ErrExpiredRequest
	}
	drift := math.Abs(float64(s.now().UnixMilli() - millis))
	if drift > float64(s.cfg.HMACWindow.Milliseconds()) {
		metrics.RecordAuthFailure("hmac", "expired_request")
		return postgres.Org{}, apierr.ErrExpiredRequest
	}

	org, err := s.resolver.GetOrgByClientIDHash(ctx, security.HashIdentifier(in.ClientID))
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			metrics.RecordAuthFailure("hmac", "unknown_client")
			return postgres.Org{}, apierr.ErrInvalidClientID
		}
		return postgres.Org{}, fmt.Errorf("resolve client: %w", err)
	}
	if !org.IsActive {
		metrics.RecordAuthFailure("hmac", "inactive_org")
		return postgres.Org{}, apierr.ErrInvalidClientID
	}

	payload, err := security.EncodeCanonical(in.Method, in.Path, in.Timestamp, in.Body)
	if err != nil {
		return postgres.Org{}, fmt.Errorf("encode canonical payload: %w", err)
	}
	if !security.VerifyHMAC(org.ClientSecretHash, payload, in.Signature) {
		metrics.RecordAuthFailure("hmac", "invalid_signature")
		s.audit(ctx, audit.Event{
			OrgID:   org.ID,
			Action:  audit.ActionLoginFailed,
			Status:  audit.StatusFailure,
			Details: map[string]any{"reason": "invalid_hmac_signature", "path": in.Path},
		})
		return postgres.Org{}, apierr.ErrInvalidSignature
	}

	metrics.RecordAuthSuccess("hmac")
	return org, nil
}

// CreateUser adds a user to an organization. The caller's role checks happen
// at the handler; the service validates inputs and records the audit event.
func (s *Service) CreateUser(ctx context.Context, orgID uuid.UUID, actorID uuid.UUID, email, password string, role postgres.Role) (postgres.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if !validEmail(email) {
		return postgres.User{}, apierr.ErrValidation.WithDetails(map[string]any{"email": "must be a valid email address"})
	}
	if !role.Valid() || role == postgres.RoleOwner {
		return postgres.User{}, apierr.ErrValidation.WithDetails(map[string]any{"role": "must be admin or user"})
	}
	if err := security.ValidatePasswordPolicy(password); err != nil {
		return postgres.User{}, apierr.ErrInvalidPasswordFormat
	}
	passwordHash, err := security.HashPassword(password)
	if err != nil {
		return postgres.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, postgres.CreateUserParams{
		OrgID:        orgID,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, postgres.ErrDuplicate) {
			return postgres.User{}, apierr.ErrDuplicateEmail
		}
		return postgres.User{}, fmt.Errorf("create user: %w", err)
	}

	s.audit(ctx, audit.Event{
		OrgID:   orgID,
		UserID:  &actorID,
		Action:  audit.ActionUserCreated,
		Status:  audit.StatusSuccess,
		Details: map[string]any{"created_user_id": user.ID.String(), "role": string(role)},
	})
	return user, nil
}

// ListUsers returns the organization's users.
func (s *Service) ListUsers(ctx context.Context, orgID uuid.UUID) ([]postgres.User, error) {
	return s.store.ListUsers(ctx, orgID)
}

// ChangeRole updates a user's role. Owners cannot be demoted through this
// path and nobody can be promoted to owner.
func (s *Service) ChangeRole(ctx context.Context, orgID, actorID, targetID uuid.UUID, role postgres.Role) (postgres.User, error) {
	if !role.Valid() || role == postgres.RoleOwner {
		return postgres.User{}, apierr.ErrValidation.WithDetails(map[string]any{"role": "must be admin or user"})
	}
	target, err := s.store.GetUserByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return postgres.User{}, apierr.ErrNotFound
		}
		return postgres.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if target.OrgID != orgID {
		return postgres.User{}, apierr.ErrNotFound
	}
	if target.Role == postgres.RoleOwner {
		return postgres.User{}, apierr.ErrInsufficientPermission.WithMessage("the owner role cannot be changed")
	}

	updated, err := s.store.UpdateUserRole(ctx, orgID, targetID, role)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return postgres.User{}, apierr.ErrNotFound
		}
		return postgres.User{}, fmt.Errorf("update role: %w", err)
	}

	s.audit(ctx, audit.Event{
		OrgID:   orgID,
		UserID:  &actorID,
		Action:  audit.ActionRoleChanged,
		Status:  audit.StatusSuccess,
		Details: map[string]any{"target_user_id": targetID.String(), "new_role": string(role)},
	})
	return updated, nil
}

// DeactivateUser disables a user's account and revokes their refresh tokens.
// The owner cannot be deactivated.
func (s *Service) DeactivateUser(ctx context.Context, orgID, actorID, targetID uuid.UUID) error {
	target, err := s.store.GetUserByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return apierr.ErrNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if target.OrgID != orgID {
		return apierr.ErrNotFound
	}
	if target.Role == postgres.RoleOwner {
		return apierr.ErrInsufficientPermission.WithMessage("the owner account cannot be deactivated")
	}

	if err := s.store.SetUserActive(ctx, orgID, targetID, false); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return apierr.ErrNotFound
		}
		return fmt.Errorf("deactivate user: %w", err)
	}
	if err := s.store.RevokeAllUserTokens(ctx, targetID); err != nil {
		s.logger.Error().Err(err).Str("user_id", targetID.String()).Msg("revoke tokens on deactivation failed")
	}

	s.audit(ctx, audit.Event{
		OrgID:   orgID,
		UserID:  &actorID,
		Action:  audit.ActionUserDeactivated,
		Status:  audit.StatusSuccess,
		Details: map[string]any{"target_user_id": targetID.String()},
	})
	return nil
}

// issuePair mints and persists a fresh access/refresh pair.
func (s *Service) issuePair(ctx context.Context, user postgres.User) (TokenPair, error) {
	now := s.now()
	accessToken, err := s.issuer.IssueAccess(user.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, tokenID, expiresAt, err := s.issuer.IssueRefresh(user.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	err = s.store.CreateRefreshToken(ctx, postgres.RefreshToken{
		TokenID:   tokenID,
		UserID:    user.ID,
		OrgID:     user.OrgID,
		TokenHash: security.HashIdentifier(refreshToken),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("persist refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.issuer.AccessTTL().Seconds()),
	}, nil
}

// audit emits best-effort for informational events; failures are logged, not
// propagated, because the security decision has already been made.
func (s *Service) audit(ctx context.Context, event audit.Event) {
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("action", event.Action).Msg("audit emit failed")
	}
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.ContainsAny(email, " \t\n")
}
