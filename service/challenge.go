package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/ports"
)

const (
	// NonceSize is the length of every challenge nonce in bytes.
	NonceSize = 32
	// DefaultChallengeTTL bounds how long a challenge can be redeemed.
	DefaultChallengeTTL = 2 * time.Minute
)

// ChallengeAuthenticator issues single-use nonces and checks signatures over them
type ChallengeAuthenticator struct {
	store    ports.ChallengeStore
	verifier ports.SignatureVerifier
	ttl      time.Duration
	now      func() time.Time
}

// NewChallengeAuthenticator creates an authenticator. A non-positive ttl
// falls back to DefaultChallengeTTL.
func NewChallengeAuthenticator(store ports.ChallengeStore, verifier ports.SignatureVerifier, ttl time.Duration) *ChallengeAuthenticator {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeAuthenticator{
		store:    store,
		verifier: verifier,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock overrides the clock, used in tests.
func (a *ChallengeAuthenticator) WithClock(now func() time.Time) *ChallengeAuthenticator {
	if now != nil {
		a.now = now
	}
	return a
}

// Issue creates and stores a fresh challenge for username. The caller must
// have confirmed the principal exists.
func (a *ChallengeAuthenticator) Issue(ctx context.Context, username string) (*core.Challenge, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := a.now()
	challenge := &core.Challenge{
		ID:        uuid.NewString(),
		Username:  username,
		Nonce:     nonce,
		CreatedAt: now,
		ExpiresAt: now.Add(a.ttl),
	}

	if err := a.store.Put(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return challenge, nil
}

// Verify consumes the challenge and checks signature over its nonce.
// The challenge is gone afterwards whatever the result, so a second call
// with the same id always fails with core.ErrInvalidChallenge.
func (a *ChallengeAuthenticator) Verify(ctx context.Context, challengeID string, signature []byte, publicKey ed25519.PublicKey) (*core.Challenge, error) {
	challenge, err := a.store.Consume(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	if !a.verifier.Verify(publicKey, challenge.Nonce, signature) {
		return challenge, core.ErrInvalidSignature
	}

	return challenge, nil
}
