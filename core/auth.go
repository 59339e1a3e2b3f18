package core

import "time"

// Challenge represents an authentication challenge
type Challenge struct {
	ID        string    // Unique identifier for the challenge
	Username  string    // Username the challenge was issued for
	Nonce     []byte    // Random nonce to be signed
	CreatedAt time.Time // When the challenge was created
	ExpiresAt time.Time // When the challenge stops being redeemable
}

// Expired reports whether the challenge can no longer be redeemed at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// NicknameReservation holds a nickname for a short time so that a client
// can finish registration without racing other clients for the same name.
type NicknameReservation struct {
	Nickname  string
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the reservation has lapsed at now.
func (r *NicknameReservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Principal is a registered user as seen by the rendezvous core.
// It is owned by the persistence layer; the core only reads it and clears
// the push token when delivery proves it invalid.
type Principal struct {
	ID        string
	Username  string
	PublicKey []byte // SPKI/DER encoded Ed25519 key
	PushToken string // empty when the client has not registered one
	CreatedAt time.Time
}

// Claims are the verified contents of a session token.
type Claims struct {
	Subject     string // username
	PrincipalID string
	ExpiresAt   time.Time
}
