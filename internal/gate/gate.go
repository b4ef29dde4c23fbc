// Package gate decides whether a navigation into a view is allowed for the
// current session. Decisions are pure functions of their inputs: nothing is
// cached, so a logout or 401-driven invalidation between two navigations is
// always observed.
package gate

import (
	"hospitalcrm.org/internal/session"
)

// Decision is the outcome of a navigation check.
type Decision int

const (
	// Allow lets the navigation proceed.
	Allow Decision = iota
	// DenyUnauthenticated redirects to the login view.
	DenyUnauthenticated
	// DenyWrongRole redirects to the default authenticated landing view.
	DenyWrongRole
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyUnauthenticated:
		return "deny-unauthenticated"
	case DenyWrongRole:
		return "deny-wrong-role"
	default:
		return "unknown"
	}
}

// CanEnter evaluates a navigation against the session. An empty required set
// means any authenticated user may enter.
func CanEnter(required []session.Role, s session.Session) Decision {
	if !s.IsAuthenticated {
		return DenyUnauthenticated
	}
	if len(required) == 0 {
		return Allow
	}
	for _, role := range required {
		if s.Role == role {
			return Allow
		}
	}
	return DenyWrongRole
}
