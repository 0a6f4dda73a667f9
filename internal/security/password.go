// Package security provides the platform's cryptographic primitives:
// password hashing, identifier hashing, request signing, and credential
// generation.
//
// Purpose:
//
//	Every service that touches credentials goes through this package so the
//	hashing and signing conventions exist in exactly one place. Passwords use
//	bcrypt at cost 12; identifiers (client IDs, client secrets, refresh token
//	IDs) are stored as SHA-256 hex digests; request signatures are HMAC-SHA256
//	over a canonical JSON payload keyed by the hash of the client secret.
//
// Dependencies:
//   - golang.org/x/crypto/bcrypt: Adaptive password KDF
//   - crypto/hmac, crypto/sha256: Request signing
//
// Thread Safety:
//   - All functions are stateless and safe for concurrent use.
package security

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 12

// HashPassword derives a bcrypt hash (cost 12) from the plaintext password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored bcrypt hash.
// The comparison is constant time within bcrypt.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePasswordPolicy checks length and complexity: at least 12 characters
// with one uppercase letter, one lowercase letter and one digit.
func ValidatePasswordPolicy(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return fmt.Errorf("password must contain upper, lower and digit characters")
	}
	return nil
}
