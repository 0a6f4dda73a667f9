// Package httpx provides the success response envelope and request decoding
// helpers shared by all HTTP handlers.
package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/faqforge/faqforge/internal/apierr"
)

type successEnvelope struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WriteJSON renders data inside the standard success envelope.
func WriteJSON(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(successEnvelope{
		Status:    "success",
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Decode parses a JSON request body into dst, mapping malformed payloads to
// VALIDATION_ERROR.
func Decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return apierr.ErrValidation.WithMessage("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apierr.ErrValidation.WithMessage("invalid request payload")
	}
	return nil
}
