package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/faqforge/faqforge/internal/audit"
	"github.com/faqforge/faqforge/internal/identity"
	"github.com/faqforge/faqforge/internal/security"
	"github.com/faqforge/faqforge/internal/storage/postgres"
	"github.com/faqforge/faqforge/internal/token"
)

const testPassword = "Str0ngPass!xyz"

// gateStore is an in-memory identity.Store for handler tests.
type gateStore struct {
	mu           sync.Mutex
	orgs         map[uuid.UUID]postgres.Org
	orgsByHash   map[string]uuid.UUID
	users        map[uuid.UUID]postgres.User
	usersByEmail map[string]uuid.UUID
	tokens       map[uuid.UUID]postgres.RefreshToken
}

func newGateStore() *gateStore {
	return &gateStore{
		orgs:         map[uuid.UUID]postgres.Org{},
		orgsByHash:   map[string]uuid.UUID{},
		users:        map[uuid.UUID]postgres.User{},
		usersByEmail: map[string]uuid.UUID{},
		tokens:       map[uuid.UUID]postgres.RefreshToken{},
	}
}

func emailKey(orgID uuid.UUID, email string) string {
	return orgID.String() + "/" + email
}

func (s *gateStore) CreateOrgWithOwner(ctx context.Context, params postgres.CreateOrgParams) (postgres.Org, postgres.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, org := range s.orgs {
		if org.Name == params.Name {
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
		CreatedAt:        time.Now(),
	}
	owner := postgres.User{
		ID:           uuid.New(),
		OrgID:        org.ID,
		Email:        params.OwnerEmail,
		PasswordHash: params.OwnerPasswordHash,
		Role:         postgres.RoleOwner,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	s.orgs[org.ID] = org
	s.orgsByHash[org.ClientIDHash] = org.ID
	s.users[owner.ID] = owner
	s.usersByEmail[emailKey(org.ID, owner.Email)] = owner.ID
	return org, owner, nil
}

func (s *gateStore) GetOrgByID(ctx context.Context, id uuid.UUID) (postgres.Org, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return postgres.Org{}, postgres.ErrNotFound
	}
	return org, nil
}

func (s *gateStore) GetOrgByClientIDHash(ctx context.Context, clientIDHash string) (postgres.Org, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.orgsByHash[clientIDHash]
	if !ok {
		return postgres.Org{}, postgres.ErrNotFound
	}
	return s.orgs[id], nil
}

func (s *gateStore) CreateUser(ctx context.Context, params postgres.CreateUserParams) (postgres.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByEmail[emailKey(params.OrgID, params.Email)]; exists {
		return postgres.User{}, postgres.ErrDuplicate
	}
	user := postgres.User{
		ID:           uuid.New(),
		OrgID:        params.OrgID,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	s.users[user.ID] = user
	s.usersByEmail[emailKey(params.OrgID, params.Email)] = user.ID
	return user, nil
}

func (s *gateStore) GetUserByEmail(ctx context.Context, orgID uuid.UUID, email string) (postgres.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByEmail[emailKey(orgID, email)]
	if !ok {
		return postgres.User{}, postgres.ErrNotFound
	}
	return s.users[id], nil
}

func (s *gateStore) GetUserByID(ctx context.Context, userID uuid.UUID) (postgres.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return postgres.User{}, postgres.ErrNotFound
	}
	return user, nil
}

func (s *gateStore) ListUsers(ctx context.Context, orgID uuid.UUID) ([]postgres.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []postgres.User
	for _, u := range s.users {
		if u.OrgID == orgID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *gateStore) RecordLoginFailure(ctx context.Context, userID uuid.UUID, maxAttempts int, lockedUntil time.Time) (postgres.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[userID]
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= maxAttempts {
		user.LockedUntil = &lockedUntil
	}
	s.users[userID] = user
	return user, nil
}

func (s *gateStore) RecordLoginSuccess(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[userID]
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	now := time.Now()
	user.LastLoginAt = &now
	s.users[userID] = user
	return nil
}

func (s *gateStore) UpdateUserRole(ctx context.Context, orgID, userID uuid.UUID, role postgres.Role) (postgres.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok || user.OrgID != orgID {
		return postgres.User{}, postgres.ErrNotFound
	}
	user.Role = role
	s.users[userID] = user
	return user, nil
}

func (s *gateStore) SetUserActive(ctx context.Context, orgID, userID uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok || user.OrgID != orgID {
		return postgres.ErrNotFound
	}
	user.IsActive = active
	s.users[userID] = user
	return nil
}

func (s *gateStore) CreateRefreshToken(ctx context.Context, rec postgres.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[rec.TokenID] = rec
	return nil
}

func (s *gateStore) GetRefreshToken(ctx context.Context, tokenID uuid.UUID) (postgres.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[tokenID]
	if !ok {
		return postgres.RefreshToken{}, postgres.ErrNotFound
	}
	return rec, nil
}

func (s *gateStore) RotateRefreshToken(ctx context.Context, oldTokenID uuid.UUID, next postgres.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.tokens[oldTokenID]
	if !ok || old.Revoked {
		return postgres.ErrConflict
	}
	now := time.Now()
	old.Revoked = true
	old.RevokedAt = &now
	s.tokens[oldTokenID] = old
	s.tokens[next.TokenID] = next
	return nil
}

func (s *gateStore) RevokeRefreshToken(ctx context.Context, tokenID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[tokenID]
	if !ok {
		return postgres.ErrNotFound
	}
	now := time.Now()
	rec.Revoked = true
	rec.RevokedAt = &now
	s.tokens[tokenID] = rec
	return nil
}

func (s *gateStore) RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, rec := range s.tokens {
		if rec.UserID == userID && !rec.Revoked {
			rec.Revoked = true
			rec.RevokedAt = &now
			s.tokens[id] = rec
		}
	}
	return nil
}

// env is one wired identity API with a registered organization.
type env struct {
	t            *testing.T
	router       chi.Router
	svc          *identity.Service
	store        *gateStore
	orgID        uuid.UUID
	clientID     string
	clientSecret string
	ownerEmail   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := newGateStore()
	issuer, err := token.NewIssuer("handler-test-signing-secret", 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)

	svc := identity.NewService(store, nil, issuer, audit.NewLoggerEmitter(zerolog.Nop()), identity.Config{}, zerolog.Nop())
	router := chi.NewRouter()
	NewIdentityHandler(svc, zerolog.Nop()).Routes(router)

	e := &env{t: t, router: router, svc: svc, store: store}
	e.registerOrg("Acme", "owner@acme.io")
	return e
}

func (e *env) registerOrg(name, email string) {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/v1/org/register", map[string]any{
		"org_name":       name,
		"admin_email":    email,
		"admin_password": testPassword,
	}, nil)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())

	data := envelopeData(e.t, rec)
	e.orgID = uuid.MustParse(data["org_id"].(string))
	e.clientID = data["client_id"].(string)
	e.clientSecret = data["client_secret"].(string)
	e.ownerEmail = email
}

// do performs one request against the router. When sign is non-nil the
// request carries that org's HMAC headers.
func (e *env) do(method, path string, body any, modify func(*http.Request)) *httptest.ResponseRecorder {
	e.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(e.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if modify != nil {
		modify(req)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// signed returns a request modifier adding valid HMAC headers for the env's
// org, optionally plus a bearer token.
func (e *env) signed(bearer string) func(*http.Request) {
	return signedAs(e.t, e.clientID, e.clientSecret, bearer)
}

func signedAs(t *testing.T, clientID, clientSecret, bearer string) func(*http.Request) {
	return func(req *http.Request) {
		t.Helper()
		var body []byte
		if req.Body != nil {
			var err error
			body, err = io.ReadAll(req.Body)
			require.NoError(t, err)
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		payload, err := security.EncodeCanonical(req.Method, req.URL.Path, ts, body)
		require.NoError(t, err)

		req.Header.Set(HeaderClientID, clientID)
		req.Header.Set(HeaderTimestamp, ts)
		req.Header.Set(HeaderSignature, security.SignHMAC(security.HashIdentifier(clientSecret), payload))
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
	}
}

// login returns the owner's token pair through the signed login endpoint.
func (e *env) login() (access, refresh string) {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    e.ownerEmail,
		"password": testPassword,
	}, e.signed(""))
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())

	data := envelopeData(e.t, rec)
	return data["access_token"].(string), data["refresh_token"].(string)
}

func envelopeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "success", envelope.Status)
	return envelope.Data
}

func currentMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func signPayload(t *testing.T, clientSecret, method, path, timestamp string, body []byte) string {
	t.Helper()
	payload, err := security.EncodeCanonical(method, path, timestamp, body)
	require.NoError(t, err)
	return security.SignHMAC(security.HashIdentifier(clientSecret), payload)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Status    string `json:"status"`
		ErrorCode string `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "error", envelope.Status)
	return envelope.ErrorCode
}
