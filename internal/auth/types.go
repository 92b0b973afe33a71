package auth

import "errors"

// Scope is a permission carried in a service token.
type Scope string

const (
	// ScopeRead allows listing devices, connection status, and pairing sessions.
	ScopeRead Scope = "devices:read"

	// ScopeWrite allows sending commands. It implies ScopeRead.
	ScopeWrite Scope = "devices:write"
)

// AllScopes returns every scope, in grant order.
func AllScopes() []Scope {
	return []Scope{ScopeRead, ScopeWrite}
}

// ValidScope reports whether s is a known scope.
func ValidScope(s Scope) bool {
	switch s {
	case ScopeRead, ScopeWrite:
		return true
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrNoSecret     = errors.New("no signing secret configured")
)
