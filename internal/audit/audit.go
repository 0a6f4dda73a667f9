// Package audit provides security event recording for the identity and
// content services.
//
// Purpose:
//   This package defines the audit emitter abstraction and its two
//   implementations: a store-backed emitter that persists events to the
//   append-only audit_log table, and a logger-based emitter for local
//   development where no database is wired.
//
// Dependencies:
//   - github.com/google/uuid: actor and tenant identifiers
//   - github.com/rs/zerolog: structured logging fallback
//
// Key Responsibilities:
//   - Event struct captures who did what, to which resource, with outcome
//   - Emitter interface abstracts the persistence backend
//   - StoreEmitter writes through the Postgres store
//   - LoggerEmitter logs events as structured JSON for development
//
// Thread Safety:
//   - All emitter implementations are safe for concurrent use.
//
// Error Handling:
//   - Emit returns the persistence error; callers decide whether the
//     surrounding operation fails with it. Security-critical events (login
//     failures, token reuse) are written before the HTTP response is sent.
package audit

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/faqforge/faqforge/internal/storage/postgres"
)

// Action values recorded by the platform. Keep these stable: dashboards and
// alerting key off the exact strings.
const (
	ActionOrgRegistered      = "ORG_REGISTERED"
	ActionLoginSuccess       = "LOGIN_SUCCESS"
	ActionLoginFailed        = "LOGIN_FAILED"
	ActionAccountLocked      = "LOGIN_FAILED_ACCOUNT_LOCKED"
	ActionTokenRefreshed     = "TOKEN_REFRESHED"
	ActionTokenReuseDetected = "TOKEN_REUSE_DETECTED"
	ActionLogout             = "LOGOUT"
	ActionUserCreated        = "USER_CREATED"
	ActionUserDeactivated    = "USER_DEACTIVATED"
	ActionRoleChanged        = "ROLE_CHANGED"
	ActionDocumentUploaded   = "DOCUMENT_UPLOADED"
	ActionDocumentDeleted    = "DOCUMENT_DELETED"
)

// Outcome values for the status column.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Event is one security-relevant occurrence.
type Event struct {
	OrgID     uuid.UUID
	UserID    *uuid.UUID
	Action    string
	Resource  string
	Status    string
	Details   map[string]any
	IPAddress string
	UserAgent string
}

// Emitter records audit events.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// FromRequest enriches an event with the caller's network metadata.
func FromRequest(event Event, r *http.Request) Event {
	event.IPAddress = clientIP(r)
	event.UserAgent = r.Header.Get("User-Agent")
	if event.Resource == "" {
		event.Resource = r.Method + " " + r.URL.Path
	}
	return event
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// StoreEmitter persists audit events to the database.
type StoreEmitter struct {
	store  *postgres.Store
	logger zerolog.Logger
}

// NewStoreEmitter creates a database-backed audit emitter.
func NewStoreEmitter(store *postgres.Store, logger zerolog.Logger) *StoreEmitter {
	return &StoreEmitter{
		store:  store,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Emit writes the event to the audit_log table. The write failure is logged
// and returned so security-critical callers can abort.
func (e *StoreEmitter) Emit(ctx context.Context, event Event) error {
	err := e.store.InsertAudit(ctx, postgres.AuditEntry{
		OrgID:     event.OrgID,
		UserID:    event.UserID,
		Action:    event.Action,
		Resource:  event.Resource,
		Status:    event.Status,
		Details:   event.Details,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
	})
	if err != nil {
		e.logger.Error().Err(err).Str("action", event.Action).Msg("audit write failed")
		return err
	}
	return nil
}

// LoggerEmitter logs audit events instead of persisting them. Used in local
// test mode and unit tests.
type LoggerEmitter struct {
	logger zerolog.Logger
}

// NewLoggerEmitter creates a logger-based audit emitter.
func NewLoggerEmitter(logger zerolog.Logger) *LoggerEmitter {
	return &LoggerEmitter{logger: logger.With().Str("component", "audit").Logger()}
}

// Emit logs the event. Never fails.
func (e *LoggerEmitter) Emit(ctx context.Context, event Event) error {
	evt := e.logger.Info().
		Str("org_id", event.OrgID.String()).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("status", event.Status)
	if event.UserID != nil {
		evt = evt.Str("user_id", event.UserID.String())
	}
	evt.Interface("details", event.Details).Msg("audit event")
	return nil
}
