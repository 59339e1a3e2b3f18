package ports

import (
	"time"

	"github.com/layer-3/rendezvous/core"
)

// TokenIssuer mints and checks session tokens.
type TokenIssuer interface {
	Issue(subject, principalID string) (token string, expiresAt time.Time, err error)
	Parse(token string) (*core.Claims, error)

	// The helpers below never fail loudly; a bad token reads as false/empty.
	Validate(token string) bool
	SubjectOf(token string) (string, bool)
	PrincipalIDOf(token string) (string, bool)
}
