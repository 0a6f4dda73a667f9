// Package token encapsulates issuing and verifying the platform's signed
// bearer tokens.
//
// Purpose:
//
//	Access tokens carry {user_id, type:"access", iat, exp}; refresh tokens
//	carry {user_id, type:"refresh", token_id, iat, exp}. Both are HS256 JWTs
//	signed with the process-wide JWT secret. The refresh token_id doubles as
//	the primary key of the rotation record in the credential store.
//
// Dependencies:
//   - github.com/golang-jwt/jwt/v5: JWT signing and parsing
//
// Error Handling:
//   - Verification distinguishes EXPIRED_TOKEN from INVALID_TOKEN so callers
//     can report the right code without inspecting jwt internals.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/faqforge/faqforge/internal/apierr"
)

// Token types carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the claim set shared by access and refresh tokens. TokenID is
// only present on refresh tokens.
type Claims struct {
	UserID    string `json:"user_id"`
	TokenType string `json:"type"`
	TokenID   string `json:"token_id,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies bearer tokens with a single HS256 secret.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewIssuer creates a token issuer. The secret must be non-empty.
func NewIssuer(secret string, accessTTL, refreshTTL time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("token: secret must not be empty")
	}
	return &Issuer{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

// IssueAccess mints an access token for the user.
func (i *Issuer) IssueAccess(userID uuid.UUID, now time.Time) (string, error) {
	claims := Claims{
		UserID:    userID.String(),
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign access: %w", err)
	}
	return signed, nil
}

// IssueRefresh mints a refresh token. The returned tokenID identifies the
// rotation record that must be persisted alongside it.
func (i *Issuer) IssueRefresh(userID uuid.UUID, now time.Time) (signed string, tokenID uuid.UUID, expiresAt time.Time, err error) {
	tokenID = uuid.New()
	expiresAt = now.Add(i.refreshTTL)
	claims := Claims{
		UserID:    userID.String(),
		TokenType: TypeRefresh,
		TokenID:   tokenID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", uuid.Nil, time.Time{}, fmt.Errorf("token: sign refresh: %w", err)
	}
	return signed, tokenID, expiresAt, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// Verify parses and validates a token of the expected type. Expired tokens
// return EXPIRED_TOKEN; every other defect returns INVALID_TOKEN.
func (i *Issuer) Verify(tokenStr, expectedType string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{},
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apierr.ErrExpiredToken
		}
		return nil, apierr.ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, apierr.ErrInvalidToken
	}
	if claims.TokenType != expectedType {
		return nil, apierr.ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, apierr.ErrInvalidToken
	}
	if claims.TokenType == TypeRefresh {
		if _, err := uuid.Parse(claims.TokenID); err != nil {
			return nil, apierr.ErrInvalidToken
		}
	}
	return claims, nil
}
