package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the closed set of roles the backend issues in its tokens.
type Role string

const (
	RoleCEO       Role = "CEO"
	RoleAdmin     Role = "Admin"
	RoleReception Role = "Reception"
)

// ParseRole maps a raw claim value onto the closed role set.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.TrimSpace(raw)) {
	case RoleCEO:
		return RoleCEO, true
	case RoleAdmin:
		return RoleAdmin, true
	case RoleReception:
		return RoleReception, true
	default:
		return "", false
	}
}

// Payload is the identity carried in a bearer token.
type Payload struct {
	UserID string
	Role   Role
	Email  string
}

type tokenClaims struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// DecodePayload splits the credential into its three segments, base64-decodes
// the middle one and parses the identity claims. The signature is NOT
// verified: the decoded payload gates UI state only, the server remains the
// authority on every request. Malformed input, an unknown role and an expired
// exp claim all yield (Payload{}, false); the function never panics and never
// returns an error.
func DecodePayload(token string) (Payload, bool) {
	return decodePayloadAt(token, time.Now())
}

func decodePayloadAt(token string, now time.Time) (Payload, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Payload{}, false
	}
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Payload{}, false
	}
	role, ok := ParseRole(claims.Role)
	if !ok || strings.TrimSpace(claims.ID) == "" {
		return Payload{}, false
	}
	// exp is optional; when present it must still be in the future.
	if claims.ExpiresAt != nil && !claims.ExpiresAt.Time.After(now) {
		return Payload{}, false
	}
	return Payload{UserID: claims.ID, Role: role, Email: claims.Email}, true
}
