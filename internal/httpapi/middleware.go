// Package httpapi wires the HTTP handlers and the two authentication gates.
//
// Purpose:
//   All /v1 routes sit behind the HMAC gate: the organization signs every
//   request with its client secret. User-scoped routes additionally sit
//   behind the bearer gate, which binds the access token's user to the
//   already-authenticated organization. Role guards sit on top of both.
//
// Key Responsibilities:
//   - HMACGate: header extraction, body capture, signature validation
//   - BearerGate: access token validation and org binding
//   - RequireRole: least-privilege checks against the role hierarchy
//   - Request-scoped context carriers for org and user
//
// Error Handling:
//   - Gate failures render the standard error envelope via apierr.Write and
//     never reach the handler.
package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/faqforge/faqforge/internal/apierr"
	"github.com/faqforge/faqforge/internal/identity"
	"github.com/faqforge/faqforge/internal/storage/postgres"
)

// Signed request headers.
const (
	HeaderClientID  = "X-Client-ID"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// maxSignedBodyBytes bounds how much request body the HMAC gate buffers.
// Document bytes never travel through the API, so signed bodies stay small.
const maxSignedBodyBytes = 1 << 20

type contextKey int

const (
	orgContextKey contextKey = iota
	userContextKey
)

// OrgFromContext returns the authenticated organization. The second return
// is false only when the HMAC gate did not run, which is a routing bug.
func OrgFromContext(ctx context.Context) (postgres.Org, bool) {
	org, ok := ctx.Value(orgContextKey).(postgres.Org)
	return org, ok
}

// UserFromContext returns the authenticated user set by the bearer gate.
func UserFromContext(ctx context.Context) (postgres.User, bool) {
	user, ok := ctx.Value(userContextKey).(postgres.User)
	return user, ok
}

// HMACGate authenticates the organization on every request. The body is
// buffered for signature verification and restored for the handler.
func HMACGate(svc *identity.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes))
			if err != nil {
				apierr.Write(w, apierr.ErrValidation.WithMessage("failed to read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			org, err := svc.ValidateHMAC(r.Context(), identity.HMACInput{
				ClientID:  r.Header.Get(HeaderClientID),
				Timestamp: r.Header.Get(HeaderTimestamp),
				Signature: r.Header.Get(HeaderSignature),
				Method:    r.Method,
				Path:      r.URL.Path,
				Body:      body,
			})
			if err != nil {
				apierr.Write(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), orgContextKey, org)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerGate authenticates the user and binds it to the organization the
// HMAC gate already established. A token from another org's user is an
// ORG_MISMATCH, not an authentication retry.
func BearerGate(svc *identity.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			org, ok := OrgFromContext(r.Context())
			if !ok {
				// The bearer gate must always run behind the HMAC gate.
				apierr.Write(w, apierr.ErrInternal)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				apierr.Write(w, apierr.ErrMissingAuthHeader)
				return
			}
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				apierr.Write(w, apierr.ErrInvalidToken)
				return
			}

			user, err := svc.ValidateAccess(r.Context(), tokenStr)
			if err != nil {
				apierr.Write(w, err)
				return
			}
			if user.OrgID != org.ID {
				apierr.Write(w, apierr.ErrOrgMismatch)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers below the minimum role.
func RequireRole(min postgres.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				apierr.Write(w, apierr.ErrMissingAuthHeader)
				return
			}
			if !user.Role.AtLeast(min) {
				apierr.Write(w, apierr.ErrInsufficientPermission)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
