package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims combines standard claims with the principal id
type SessionClaims struct {
	jwt.RegisteredClaims
	PrincipalID string `json:"uid"`
}
