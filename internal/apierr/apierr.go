// Package apierr defines the typed error vocabulary shared by every service
// boundary.
//
// Purpose:
//   Each failure mode the platform can surface to a caller is a stable error
//   code with a fixed HTTP mapping. Handlers and services return *Error values;
//   the single Write function at the edge renders them into the standard error
//   envelope. Anything that is not an *Error is deliberately collapsed into
//   INTERNAL_ERROR so infrastructure detail never leaks.
//
// Key Responsibilities:
//   - Error type with Code, Message, HTTPStatus, Details
//   - Catalogue of code constructors (auth, validation, resource, pipeline, infra)
//   - From: normalize arbitrary errors into *Error
//   - Write: render the error envelope with status, error_code, message, details
//
// Thread Safety:
//   - Error values are immutable after construction.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Error is a typed, caller-visible failure with a stable code.
type Error struct {
	Code       string         `json:"error_code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// WithDetails returns a copy of the error carrying extra context for the caller.
func (e *Error) WithDetails(details map[string]any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// WithMessage returns a copy of the error with a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	clone := *e
	clone.Message = msg
	return &clone
}

func newErr(code string, status int, msg string) *Error {
	return &Error{Code: code, Message: msg, HTTPStatus: status}
}

// Auth errors.
var (
	ErrMissingHMACHeader      = newErr("MISSING_HMAC_HEADER", http.StatusUnauthorized, "missing HMAC authentication headers")
	ErrExpiredRequest         = newErr("EXPIRED_REQUEST", http.StatusUnauthorized, "request timestamp outside the allowed window")
	ErrInvalidClientID        = newErr("INVALID_CLIENT_ID", http.StatusUnauthorized, "unknown or inactive client")
	ErrInvalidSignature       = newErr("INVALID_SIGNATURE", http.StatusUnauthorized, "request signature verification failed")
	ErrMissingAuthHeader      = newErr("MISSING_AUTH_HEADER", http.StatusUnauthorized, "missing Authorization header")
	ErrExpiredToken           = newErr("EXPIRED_TOKEN", http.StatusUnauthorized, "token has expired")
	ErrInvalidToken           = newErr("INVALID_TOKEN", http.StatusUnauthorized, "token is invalid")
	ErrOrgMismatch            = newErr("ORG_MISMATCH", http.StatusForbidden, "token organization does not match request organization")
	ErrInsufficientPermission = newErr("INSUFFICIENT_PERMISSION", http.StatusForbidden, "insufficient permission for this operation")
	ErrAccountLocked          = newErr("ACCOUNT_LOCKED", http.StatusUnauthorized, "account is temporarily locked")
	ErrAccountInactive        = newErr("ACCOUNT_INACTIVE", http.StatusUnauthorized, "account is inactive")
	ErrInvalidCredentials     = newErr("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInvalidRefreshToken    = newErr("INVALID_REFRESH_TOKEN", http.StatusUnauthorized, "refresh token is invalid or has been revoked")
)

// Validation errors.
var (
	ErrValidation            = newErr("VALIDATION_ERROR", http.StatusBadRequest, "request validation failed")
	ErrInvalidPasswordFormat = newErr("INVALID_PASSWORD_FORMAT", http.StatusBadRequest, "password must be at least 12 characters with upper, lower and digit")
	ErrDuplicateEmail        = newErr("DUPLICATE_EMAIL", http.StatusConflict, "a user with this email already exists in the organization")
	ErrDuplicateOrg          = newErr("DUPLICATE_ORG", http.StatusConflict, "an organization with this name already exists")
	ErrInvalidFileType       = newErr("INVALID_FILE_TYPE", http.StatusBadRequest, "unsupported content type")
	ErrFileTooLarge          = newErr("FILE_TOO_LARGE", http.StatusBadRequest, "file exceeds the maximum allowed size")
	ErrQueryTooLong          = newErr("QUERY_TOO_LONG", http.StatusBadRequest, "query exceeds the maximum allowed length")
)

// Resource errors.
var (
	ErrNotFound             = newErr("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrDocumentNotFound     = newErr("DOCUMENT_NOT_FOUND", http.StatusNotFound, "document not found")
	ErrConversationNotFound = newErr("CONVERSATION_NOT_FOUND", http.StatusNotFound, "conversation not found")
)

// Pipeline errors. These carry no HTTP mapping of their own; they surface as
// document failure codes and bus events. StatusInternalServerError is the
// fallback when one escapes to an HTTP boundary.
var (
	ErrPDFEncrypted       = newErr("PDF_ENCRYPTED", http.StatusInternalServerError, "PDF is encrypted and cannot be parsed")
	ErrInsufficientText   = newErr("INSUFFICIENT_TEXT", http.StatusInternalServerError, "document contains too little extractable text")
	ErrParse              = newErr("PARSE_ERROR", http.StatusInternalServerError, "failed to parse document")
	ErrDimensionMismatch  = newErr("DIMENSION_MISMATCH", http.StatusInternalServerError, "embedding dimension does not match configuration")
	ErrStorageUnavailable = newErr("STORAGE_UNAVAILABLE", http.StatusInternalServerError, "object storage is unavailable")
	ErrEmbeddingFailed    = newErr("EMBEDDING_FAILED", http.StatusInternalServerError, "embedding request failed")
	ErrGenerationFailed   = newErr("GENERATION_FAILED", http.StatusBadGateway, "answer generation failed")
	ErrVectorUnreachable  = newErr("VECTOR_UPSERT_UNREACHABLE", http.StatusInternalServerError, "vector index is unreachable")
)

// Infra errors.
var (
	ErrDatabase    = newErr("DATABASE_ERROR", http.StatusInternalServerError, "database operation failed")
	ErrRateLimited = newErr("RATE_LIMITED", http.StatusTooManyRequests, "rate limit exceeded")
	ErrInternal    = newErr("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// From normalizes any error into an *Error. Typed errors pass through
// untouched; everything else becomes INTERNAL_ERROR.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

type errorEnvelope struct {
	Status    string         `json:"status"`
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Write renders err as the standard error envelope. It is the single place
// uncaught errors turn into HTTP responses.
func Write(w http.ResponseWriter, err error) {
	apiErr := From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Status:    "error",
		ErrorCode: apiErr.Code,
		Message:   apiErr.Message,
		Details:   apiErr.Details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
