package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/faqforge/faqforge/internal/apierr"
	"github.com/faqforge/faqforge/internal/httpx"
	"github.com/faqforge/faqforge/internal/identity"
	"github.com/faqforge/faqforge/internal/storage/postgres"
)

// IdentityHandler exposes registration, authentication and user management.
type IdentityHandler struct {
	svc    *identity.Service
	logger zerolog.Logger
}

func NewIdentityHandler(svc *identity.Service, logger zerolog.Logger) *IdentityHandler {
	return &IdentityHandler{svc: svc, logger: logger.With().Str("component", "identity_api").Logger()}
}

// Routes mounts the identity surface. Registration and HMAC validation are
// public; everything else sits behind the HMAC gate, and user management
// additionally behind the bearer gate.
func (h *IdentityHandler) Routes(r chi.Router) {
	r.Post("/v1/org/register", h.registerOrg)
	r.Post("/v1/auth/validate-hmac", h.validateHMAC)
	r.Post("/v1/auth/validate-jwt", h.validateJWT)

	r.Group(func(r chi.Router) {
		r.Use(HMACGate(h.svc))
		r.Post("/v1/auth/login", h.login)
		r.Post("/v1/auth/signup", h.signup)
		r.Post("/v1/auth/refresh", h.refresh)

		r.Group(func(r chi.Router) {
			r.Use(BearerGate(h.svc))
			r.Post("/v1/auth/logout", h.logout)

			r.With(RequireRole(postgres.RoleAdmin)).Get("/v1/users", h.listUsers)
			r.With(RequireRole(postgres.RoleAdmin)).Post("/v1/users", h.createUser)
			r.With(RequireRole(postgres.RoleOwner)).Patch("/v1/users/{userID}/role", h.changeRole)
			r.Delete("/v1/users/{userID}", h.deactivateUser)
		})
	})
}

type userView struct {
	UserID    uuid.UUID  `json:"user_id"`
	OrgID     uuid.UUID  `json:"org_id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	IsActive  bool       `json:"is_active"`
	LastLogin *time.Time `json:"last_login_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func viewUser(u postgres.User) userView {
	return userView{
		UserID:    u.ID,
		OrgID:     u.OrgID,
		Email:     u.Email,
		Role:      string(u.Role),
		IsActive:  u.IsActive,
		LastLogin: u.LastLoginAt,
		CreatedAt: u.CreatedAt,
	}
}

func (h *IdentityHandler) registerOrg(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgName       string `json:"org_name"`
		AdminEmail    string `json:"admin_email"`
		AdminPassword string `json:"admin_password"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}

	result, err := h.svc.RegisterOrg(r.Context(), identity.RegisterOrgInput{
		OrgName:  req.OrgName,
		Email:    req.AdminEmail,
		Password: req.AdminPassword,
	})
	if err != nil {
		apierr.Write(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, "organization registered", map[string]any{
		"org_id":        result.Org.ID,
		"org_name":      result.Org.Name,
		"client_id":     result.ClientID,
		"client_secret": result.ClientSecret,
		"admin_user":    viewUser(result.Owner),
	})
}

func (h *IdentityHandler) login(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}

	pair, user, err := h.svc.Login(r.Context(), identity.LoginInput{
		OrgID:     org.ID,
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		apierr.Write(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, "login successful", map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_in":    pair.ExpiresIn,
		"token_type":    "Bearer",
		"user":          viewUser(user),
	})
}

func (h *IdentityHandler) signup(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}

	user, err := h.svc.CreateUser(r.Context(), org.ID, uuid.Nil, req.Email, req.Password, postgres.RoleUser)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, "user created", viewUser(user))
}

func (h *IdentityHandler) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, "token refreshed", map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_in":    pair.ExpiresIn,
		"token_type":    "Bearer",
	})
}

func (h *IdentityHandler) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}

	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, "logged out", nil)
}

// validateJWT lets sibling services check a bearer token without going
// through the full gate chain.
func (h *IdentityHandler) validateJWT(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if header == "" {
		apierr.Write(w, apierr.ErrMissingAuthHeader)
		return
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		apierr.Write(w, apierr.ErrInvalidToken)
		return
	}

	user, err := h.svc.ValidateAccess(r.Context(), header[len(prefix):])
	if err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, "token valid", map[string]any{
		"valid": true,
		"user": map[string]any{
			"user_id": user.ID,
			"org_id":  user.OrgID,
			"role":    string(user.Role),
		},
	})
}

// validateHMAC lets sibling services verify an org signature out of band. The
// caller forwards the original request's method, path and body.
func (h *IdentityHandler) validateHMAC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID  string `json:"client_id"`
		Timestamp string `json:"timestamp"`
		Signature string `json:"signature"`
		Payload   struct {
			Method string          `json:"method"`
			Path   string          `json:"path"`
			Body   json.RawMessage `json:"body"`
		} `json:"payload"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}

	org, err := h.svc.ValidateHMAC(r.Context(), identity.HMACInput{
		ClientID:  req.ClientID,
		Timestamp: req.Timestamp,
		Signature: req.Signature,
		Method:    req.Payload.Method,
		Path:      req.Payload.Path,
		Body:      req.Payload.Body,
	})
	if err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, "signature valid", map[string]any{
		"valid":    true,
		"org_id":   org.ID,
		"org_name": org.Name,
	})
}

func (h *IdentityHandler) listUsers(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())

	users, err := h.svc.ListUsers(r.Context(), org.ID)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, viewUser(u))
	}
	httpx.WriteJSON(w, http.StatusOK, "users listed", map[string]any{"users": views})
}

func (h *IdentityHandler) createUser(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())
	actor, _ := UserFromContext(r.Context())

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	if req.Role == "" {
		req.Role = string(postgres.RoleUser)
	}

	user, err := h.svc.CreateUser(r.Context(), org.ID, actor.ID, req.Email, req.Password, postgres.Role(req.Role))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, "user created", viewUser(user))
}

func (h *IdentityHandler) changeRole(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())
	actor, _ := UserFromContext(r.Context())

	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		apierr.Write(w, apierr.ErrValidation.WithDetails(map[string]any{"user_id": "must be a UUID"}))
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}

	user, err := h.svc.ChangeRole(r.Context(), org.ID, actor.ID, targetID, postgres.Role(req.Role))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, "role updated", viewUser(user))
}

func (h *IdentityHandler) deactivateUser(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())
	actor, _ := UserFromContext(r.Context())

	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		apierr.Write(w, apierr.ErrValidation.WithDetails(map[string]any{"user_id": "must be a UUID"}))
		return
	}

	// Users may deactivate their own account; anyone else's needs admin.
	if targetID != actor.ID && !actor.Role.AtLeast(postgres.RoleAdmin) {
		apierr.Write(w, apierr.ErrInsufficientPermission)
		return
	}

	if err := h.svc.DeactivateUser(r.Context(), org.ID, actor.ID, targetID); err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, "user deactivated", nil)
}
