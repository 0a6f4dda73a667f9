package identity

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/faqforge/faqforge/internal/apierr"
	"github.com/faqforge/faqforge/internal/audit"
	"github.com/faqforge/faqforge/internal/security"
	"github.com/faqforge/faqforge/internal/storage/postgres"
	"github.com/faqforge/faqforge/internal/token"
)

const testPassword = "Sup3rSecretPass"

type memStore struct {
	orgs   map[uuid.UUID]postgres.Org
	users  map[uuid.UUID]postgres.User
	tokens map[uuid.UUID]postgres.RefreshToken
}

func newMemStore() *memStore {
	return &memStore{
		orgs:   map[uuid.UUID]postgres.Org{},
		users:  map[uuid.UUID]postgres.User{},
		tokens: map[uuid.UUID]postgres.RefreshToken{},
	}
}

func (m *memStore) CreateOrgWithOwner(ctx context.Context, params postgres.CreateOrgParams) (postgres.Org, postgres.User, error) {
	for _, o := range m.orgs {
		if o.Name == params.Name {
			return postgres.Org{}, postgres.User{}, postgres.ErrDuplicate
		}
	}
	org := postgres.Org{
		ID:               uuid.New(),
		Name:             params.Name,
		ClientIDPrefix:   params.ClientIDPrefix,
		ClientIDHash:     params.ClientIDHash,
		ClientSecretHash: params.ClientSecretHash,
		IsActive:         true,
	}
	owner := postgres.User{
		ID:           uuid.New(),
		OrgID:        org.ID,
		Email:        strings.ToLower(params.OwnerEmail),
		PasswordHash: params.OwnerPasswordHash,
		Role:         postgres.RoleOwner,
		IsActive:     true,
	}
	m.orgs[org.ID] = org
	m.users[owner.ID] = owner
	return org, owner, nil
}

func (m *memStore) GetOrgByID(ctx context.Context, id uuid.UUID) (postgres.Org, error) {
	org, ok := m.orgs[id]
	if !ok {
		return postgres.Org{}, postgres.ErrNotFound
	}
	return org, nil
}

func (m *memStore) GetOrgByClientIDHash(ctx context.Context, hash string) (postgres.Org, error) {
	for _, org := range m.orgs {
		if org.ClientIDHash == hash {
			return org, nil
		}
	}
	return postgres.Org{}, postgres.ErrNotFound
}

func (m *memStore) CreateUser(ctx context.Context, params postgres.CreateUserParams) (postgres.User, error) {
	for _, u := range m.users {
		if u.OrgID == params.OrgID && u.Email == strings.ToLower(params.Email) {
			return postgres.User{}, postgres.ErrDuplicate
		}
	}
	user := postgres.User{
		ID:           uuid.New(),
		OrgID:        params.OrgID,
		Email:        strings.ToLower(params.Email),
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		IsActive:     true,
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, orgID uuid.UUID, email string) (postgres.User, error) {
	for _, u := range m.users {
		if u.OrgID == orgID && u.Email == strings.ToLower(email) {
			return u, nil
		}
	}
	return postgres.User{}, postgres.ErrNotFound
}

func (m *memStore) GetUserByID(ctx context.Context, userID uuid.UUID) (postgres.User, error) {
	u, ok := m.users[userID]
	if !ok {
		return postgres.User{}, postgres.ErrNotFound
	}
	return u, nil
}

func (m *memStore) ListUsers(ctx context.Context, orgID uuid.UUID) ([]postgres.User, error) {
	var out []postgres.User
	for _, u := range m.users {
		if u.OrgID == orgID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) RecordLoginFailure(ctx context.Context, userID uuid.UUID, maxAttempts int, lockedUntil time.Time) (postgres.User, error) {
	u, ok := m.users[userID]
	if !ok {
		return postgres.User{}, postgres.ErrNotFound
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= maxAttempts {
		u.LockedUntil = &lockedUntil
	}
	m.users[userID] = u
	return u, nil
}

func (m *memStore) RecordLoginSuccess(ctx context.Context, userID uuid.UUID) error {
	u, ok := m.users[userID]
	if !ok {
		return postgres.ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	m.users[userID] = u
	return nil
}

func (m *memStore) UpdateUserRole(ctx context.Context, orgID, userID uuid.UUID, role postgres.Role) (postgres.User, error) {
	u, ok := m.users[userID]
	if !ok || u.OrgID != orgID {
		return postgres.User{}, postgres.ErrNotFound
	}
	u.Role = role
	m.users[userID] = u
	return u, nil
}

func (m *memStore) SetUserActive(ctx context.Context, orgID, userID uuid.UUID, active bool) error {
	u, ok := m.users[userID]
	if !ok || u.OrgID != orgID {
		return postgres.ErrNotFound
	}
	u.IsActive = active
	m.users[userID] = u
	return nil
}

func (m *memStore) CreateRefreshToken(ctx context.Context, rec postgres.RefreshToken) error {
	m.tokens[rec.TokenID] = rec
	return nil
}

func (m *memStore) GetRefreshToken(ctx context.Context, tokenID uuid.UUID) (postgres.RefreshToken, error) {
	rec, ok := m.tokens[tokenID]
	if !ok {
		return postgres.RefreshToken{}, postgres.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) RotateRefreshToken(ctx context.Context, oldTokenID uuid.UUID, next postgres.RefreshToken) error {
	rec, ok := m.tokens[oldTokenID]
	if !ok || rec.Revoked {
		return postgres.ErrConflict
	}
	rec.Revoked = true
	m.tokens[oldTokenID] = rec
	m.tokens[next.TokenID] = next
	return nil
}

func (m *memStore) RevokeRefreshToken(ctx context.Context, tokenID uuid.UUID) error {
	rec, ok := m.tokens[tokenID]
	if !ok {
		return nil
	}
	rec.Revoked = true
	m.tokens[tokenID] = rec
	return nil
}

func (m *memStore) RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) error {
	for id, rec := range m.tokens {
		if rec.UserID == userID {
			rec.Revoked = true
			m.tokens[id] = rec
		}
	}
	return nil
}

type recordingEmitter struct {
	events []audit.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, event audit.Event) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEmitter) actions() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

func newTestService(t *testing.T) (*Service, *memStore, *recordingEmitter) {
	t.Helper()
	issuer, err := token.NewIssuer("test-secret", 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)

	store := newMemStore()
	emitter := &recordingEmitter{}
	svc := NewService(store, nil, issuer, emitter, Config{
		MaxLoginAttempts: 3,
		LockoutDuration:  30 * time.Minute,
		HMACWindow:       5 * time.Minute,
	}, zerolog.Nop())
	return svc, store, emitter
}

func registerOrg(t *testing.T, svc *Service) RegisterOrgResult {
	t.Helper()
	result, err := svc.RegisterOrg(context.Background(), RegisterOrgInput{
		OrgName:  "Acme Corp",
		Email:    "owner@acme.test",
		Password: testPassword,
	})
	require.NoError(t, err)
	return result
}

func TestRegisterOrgMintsCredentials(t *testing.T) {
	svc, store, emitter := newTestService(t)
	result := registerOrg(t, svc)

	require.True(t, strings.HasPrefix(result.ClientID, security.ClientIDPrefix))
	require.True(t, strings.HasPrefix(result.ClientSecret, security.ClientSecretPrefix))
	require.Equal(t, postgres.RoleOwner, result.Owner.Role)

	stored := store.orgs[result.Org.ID]
	require.Equal(t, security.HashIdentifier(result.ClientID), stored.ClientIDHash)
	require.NotContains(t, stored.ClientSecretHash, result.ClientSecret)
	require.Contains(t, emitter.actions(), audit.ActionOrgRegistered)
}

func TestRegisterOrgRejectsWeakPassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.RegisterOrg(context.Background(), RegisterOrgInput{
		OrgName:  "Acme",
		Email:    "owner@acme.test",
		Password: "short",
	})
	require.True(t, apierr.Is(err, apierr.ErrInvalidPasswordFormat.Code))
}

func TestRegisterOrgRejectsDuplicateName(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerOrg(t, svc)
	_, err := svc.RegisterOrg(context.Background(), RegisterOrgInput{
		OrgName:  "Acme Corp",
		Email:    "other@acme.test",
		Password: testPassword,
	})
	require.True(t, apierr.Is(err, apierr.ErrDuplicateOrg.Code))
}

func TestLoginSuccessIssuesPair(t *testing.T) {
	svc, _, emitter := newTestService(t)
	result := registerOrg(t, svc)

	pair, user, err := svc.Login(context.Background(), LoginInput{
		OrgID:    result.Org.ID,
		Email:    "owner@acme.test",
		Password: testPassword,
	})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, int((15 * time.Minute).Seconds()), pair.ExpiresIn)
	require.Equal(t, result.Owner.ID, user.ID)
	require.Contains(t, emitter.actions(), audit.ActionLoginSuccess)
}

func TestLoginWrongPasswordIsGeneric(t *testing.T) {
	svc, _, _ := newTestService(t)
	result := registerOrg(t, svc)

	_, _, err := svc.Login(context.Background(), LoginInput{
		OrgID:    result.Org.ID,
		Email:    "owner@acme.test",
		Password: "WrongPassword1",
	})
	require.True(t, apierr.Is(err, apierr.ErrInvalidCredentials.Code))

	_, _, err = svc.Login(context.Background(), LoginInput{
		OrgID:    result.Org.ID,
		Email:    "nobody@acme.test",
		Password: testPassword,
	})
	require.True(t, apierr.Is(err, apierr.ErrInvalidCredentials.Code))
}

func TestLoginLocksAfterMaxAttempts(t *testing.T) {
	svc, _, emitter := newTestService(t)
	result := registerOrg(t, svc)

	for i := 0; i < 2; i++ {
		_, _, err := svc.Login(context.Background(), LoginInput{
			OrgID:    result.Org.ID,
			Email:    "owner@acme.test",
			Password: "WrongPassword1",
		})
		require.True(t, apierr.Is(err, apierr.ErrInvalidCredentials.Code))
	}

	_, _, err := svc.Login(context.Background(), LoginInput{
		OrgID:    result.Org.ID,
		Email:    "owner@acme.test",
		Password: "WrongPassword1",
	})
	require.True(t, apierr.Is(err, apierr.ErrAccountLocked.Code))
	require.Contains(t, emitter.actions(), audit.ActionAccountLocked)

	// Locked account rejects even the correct password.
	_, _, err = svc.Login(context.Background(), LoginInput{
		OrgID:    result.Org.ID,
		Email:    "owner@acme.test",
		Password: testPassword,
	})
	require.True(t, apierr.Is(err, apierr.ErrAccountLocked.Code))
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	result := registerOrg(t, svc)

	pair, _, err := svc.Login(context.Background(), LoginInput{
		OrgID:    result.Org.ID,
		Email:    "owner@acme.test",
		Password: testPassword,
	})
	require.NoError(t, err)

	next, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	require.NotEmpty(t, next.AccessToken)
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	svc, store, emitter := newTestService(t)
	result := registerOrg(t, svc)

	pair, _, err := svc.Login(context.Background(), LoginInput{
		OrgID:    result.Org.ID,
		Email:    "owner@acme.test",
		Password: testPassword,
	})
	require.NoError(t, err)

	next, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)

	// Replaying the rotated token revokes every live token of the user.
	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.True(t, apierr.Is(err, apierr.ErrInvalidRefreshToken.Code))
	require.Contains(t, emitter.actions(), audit.ActionTokenReuseDetected)

	for _, rec := range store.tokens {
		require.True(t, rec.Revoked)
	}

	_, err = svc.Refresh(context.Background(), next.RefreshToken)
	require.True(t, apierr.Is(err, apierr.ErrInvalidRefreshToken.Code))
}

func TestRefreshRejectsGarbage(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Refresh(context.Background(), "not-a-token")
	require.True(t, apierr.Is(err, apierr.ErrInvalidRefreshToken.Code))
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	result := registerOrg(t, svc)

	pair, _, err := svc.Login(context.Background(), LoginInput{
		OrgID:    result.Org.ID,
		Email:    "owner@acme.test",
		Password: testPassword,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), pair.RefreshToken))
	require.NoError(t, svc.Logout(context.Background(), pair.RefreshToken))
	require.NoError(t, svc.Logout(context.Background(), "garbage"))

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.True(t, apierr.Is(err, apierr.ErrInvalidRefreshToken.Code))
}

func TestValidateAccessRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	result := registerOrg(t, svc)

	pair, _, err := svc.Login(context.Background(), LoginInput{
		OrgID:    result.Org.ID,
		Email:    "owner@acme.test",
		Password: testPassword,
	})
	require.NoError(t, err)

	user, err := svc.ValidateAccess(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, result.Owner.ID, user.ID)

	_, err = svc.ValidateAccess(context.Background(), pair.RefreshToken)
	require.True(t, apierr.Is(err, apierr.ErrInvalidToken.Code))
}

func signedHMACInput(result RegisterOrgResult, method, path string, body []byte, at time.Time) HMACInput {
	timestamp := strconv.FormatInt(at.UnixMilli(), 10)
	payload, _ := security.EncodeCanonical(method, path, timestamp, body)
	secretHash := security.HashIdentifier(result.ClientSecret)
	return HMACInput{
		ClientID:  result.ClientID,
		Timestamp: timestamp,
		Signature: security.SignHMAC(secretHash, payload),
		Method:    method,
		Path:      path,
		Body:      body,
	}
}

func TestValidateHMACAccepts(t *testing.T) {
	svc, _, _ := newTestService(t)
	result := registerOrg(t, svc)

	in := signedHMACInput(result, "POST", "/v1/auth/login", []byte(`{"email":"a@b.c"}`), time.Now())
	org, err := svc.ValidateHMAC(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, result.Org.ID, org.ID)
}

func TestValidateHMACEmptyBodyDefaultsToObject(t *testing.T) {
	svc, _, _ := newTestService(t)
	result := registerOrg(t, svc)

	in := signedHMACInput(result, "GET", "/v1/documents", nil, time.Now())
	_, err := svc.ValidateHMAC(context.Background(), in)
	require.NoError(t, err)
}

func TestValidateHMACRejectsStaleTimestamp(t *testing.T) {
	svc, _, _ := newTestService(t)
	result := registerOrg(t, svc)

	in := signedHMACInput(result, "GET", "/v1/documents", nil, time.Now().Add(-10*time.Minute))
	_, err := svc.ValidateHMAC(context.Background(), in)
	require.True(t, apierr.Is(err, apierr.ErrExpiredRequest.Code))
}

func TestValidateHMACRejectsTamperedBody(t *testing.T) {
	svc, _, _ := newTestService(t)
	result := registerOrg(t, svc)

	in := signedHMACInput(result, "POST", "/v1/auth/login", []byte(`{"email":"a@b.c"}`), time.Now())
	in.Body = []byte(`{"email":"evil@b.c"}`)
	_, err := svc.ValidateHMAC(context.Background(), in)
	require.True(t, apierr.Is(err, apierr.ErrInvalidSignature.Code))
}

func TestValidateHMACRejectsUnknownClient(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerOrg(t, svc)

	in := HMACInput{
		ClientID:  "pk_unknown",
		Timestamp: strconv.FormatInt(time.Now().UnixMilli(), 10),
		Signature: "deadbeef",
		Method:    "GET",
		Path:      "/v1/documents",
	}
	_, err := svc.ValidateHMAC(context.Background(), in)
	require.True(t, apierr.Is(err, apierr.ErrInvalidClientID.Code))
}

func TestValidateHMACRejectsMissingHeaders(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.ValidateHMAC(context.Background(), HMACInput{})
	require.True(t, apierr.Is(err, apierr.ErrMissingHMACHeader.Code))
}

func TestCreateUserAndChangeRole(t *testing.T) {
	svc, _, emitter := newTestService(t)
	result := registerOrg(t, svc)

	user, err := svc.CreateUser(context.Background(), result.Org.ID, result.Owner.ID, "member@acme.test", testPassword, postgres.RoleUser)
	require.NoError(t, err)
	require.Equal(t, postgres.RoleUser, user.Role)
	require.Contains(t, emitter.actions(), audit.ActionUserCreated)

	_, err = svc.CreateUser(context.Background(), result.Org.ID, result.Owner.ID, "member@acme.test", testPassword, postgres.RoleUser)
	require.True(t, apierr.Is(err, apierr.ErrDuplicateEmail.Code))

	updated, err := svc.ChangeRole(context.Background(), result.Org.ID, result.Owner.ID, user.ID, postgres.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, postgres.RoleAdmin, updated.Role)

	_, err = svc.ChangeRole(context.Background(), result.Org.ID, result.Owner.ID, result.Owner.ID, postgres.RoleUser)
	require.True(t, apierr.Is(err, apierr.ErrInsufficientPermission.Code))

	_, err = svc.ChangeRole(context.Background(), result.Org.ID, result.Owner.ID, user.ID, postgres.RoleOwner)
	require.True(t, apierr.Is(err, apierr.ErrValidation.Code))
}

func TestDeactivateUser(t *testing.T) {
	svc, _, emitter := newTestService(t)
	result := registerOrg(t, svc)

	user, err := svc.CreateUser(context.Background(), result.Org.ID, result.Owner.ID, "member@acme.test", testPassword, postgres.RoleUser)
	require.NoError(t, err)

	pair, _, err := svc.Login(context.Background(), LoginInput{
		OrgID:    result.Org.ID,
		Email:    "member@acme.test",
		Password: testPassword,
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateUser(context.Background(), result.Org.ID, result.Owner.ID, user.ID))
	require.Contains(t, emitter.actions(), audit.ActionUserDeactivated)

	// Deactivation revokes outstanding sessions and blocks new ones.
	_, err = svc.ValidateAccess(context.Background(), pair.AccessToken)
	require.True(t, apierr.Is(err, apierr.ErrAccountInactive.Code))
	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.True(t, apierr.Is(err, apierr.ErrInvalidRefreshToken.Code))
	_, _, err = svc.Login(context.Background(), LoginInput{
		OrgID:    result.Org.ID,
		Email:    "member@acme.test",
		Password: testPassword,
	})
	require.True(t, apierr.Is(err, apierr.ErrAccountInactive.Code))

	// The owner account is protected, and other tenants cannot reach the user.
	err = svc.DeactivateUser(context.Background(), result.Org.ID, result.Owner.ID, result.Owner.ID)
	require.True(t, apierr.Is(err, apierr.ErrInsufficientPermission.Code))
	err = svc.DeactivateUser(context.Background(), uuid.New(), result.Owner.ID, user.ID)
	require.True(t, apierr.Is(err, apierr.ErrNotFound.Code))
}
