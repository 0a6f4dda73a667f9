package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ClientIDPrefix and ClientSecretPrefix mark the two halves of an
// organization credential pair. The raw values are revealed exactly once at
// registration; only their SHA-256 digests are stored.
const (
	ClientIDPrefix     = "pk_"
	ClientSecretPrefix = "sk_"
)

// CanonicalPayload is the object both sides sign. Field order is fixed by the
// struct definition so encoding/json produces identical bytes on client and
// server. Timestamp is the decimal Unix-millisecond string; Body is the
// request body object, or an empty object when the request has none.
type CanonicalPayload struct {
	Method    string          `json:"method"`
	Path      string          `json:"path"`
	Timestamp string          `json:"timestamp"`
	Body      json.RawMessage `json:"body"`
}

// EncodeCanonical serializes the payload deterministically. Body defaults to
// the empty object.
func EncodeCanonical(method, path, timestamp string, body []byte) ([]byte, error) {
	if len(body) == 0 {
		body = []byte("{}")
	}
	return json.Marshal(CanonicalPayload{
		Method:    method,
		Path:      path,
		Timestamp: timestamp,
		Body:      json.RawMessage(body),
	})
}

// HashIdentifier returns the SHA-256 hex digest of s. Used for client IDs,
// client secrets and refresh token identifiers.
func HashIdentifier(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SignHMAC computes the HMAC-SHA256 hex signature of payload under key.
// The key is the stored hash of the client secret, never the raw secret.
func SignHMAC(secretHash string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secretHash))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC reports whether signature matches payload under key. The
// comparison is constant time and never short-circuits on length mismatch.
func VerifyHMAC(secretHash string, payload []byte, signature string) bool {
	expected := SignHMAC(secretHash, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// GenerateClientCredentials mints a fresh (client_id, client_secret) pair.
// Both carry their well-known prefixes over 32 random bytes.
func GenerateClientCredentials() (clientID, clientSecret string, err error) {
	id, err := randomHex(32)
	if err != nil {
		return "", "", fmt.Errorf("generate client id: %w", err)
	}
	secret, err := randomHex(32)
	if err != nil {
		return "", "", fmt.Errorf("generate client secret: %w", err)
	}
	return ClientIDPrefix + id, ClientSecretPrefix + secret, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
