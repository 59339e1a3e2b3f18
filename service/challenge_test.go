package service

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/rendezvous/adapters/crypto"
	"github.com/layer-3/rendezvous/adapters/store"
	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/ports"
)

func challengeStores(t *testing.T) map[string]ports.ChallengeStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]ports.ChallengeStore{
		"memory": store.NewMemoryChallengeStore(),
		"redis":  store.NewRedisChallengeStore(client, "test:"),
	}
}

func newSigner(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestChallengeAuthenticator_Issue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewChallengeAuthenticator(store.NewMemoryChallengeStore(), crypto.NewEd25519Verifier(), 0).
		WithClock(func() time.Time { return now })

	first, err := a.Issue(ctx, "alice")
	require.NoError(t, err)
	second, err := a.Issue(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, "alice", first.Username)
	assert.Len(t, first.Nonce, NonceSize)
	assert.Equal(t, now.Add(DefaultChallengeTTL), first.ExpiresAt)
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, bytes.Equal(first.Nonce, second.Nonce))
}

func TestChallengeAuthenticator_VerifySucceedsOnce(t *testing.T) {
	for name, challenges := range challengeStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := NewChallengeAuthenticator(challenges, crypto.NewEd25519Verifier(), time.Minute)
			pub, priv := newSigner(t)

			issued, err := a.Issue(ctx, "alice")
			require.NoError(t, err)
			sig := ed25519.Sign(priv, issued.Nonce)

			verified, err := a.Verify(ctx, issued.ID, sig, pub)
			require.NoError(t, err)
			assert.Equal(t, "alice", verified.Username)

			_, err = a.Verify(ctx, issued.ID, sig, pub)
			assert.ErrorIs(t, err, core.ErrInvalidChallenge)
		})
	}
}

func TestChallengeAuthenticator_TamperedSignatureConsumesChallenge(t *testing.T) {
	for name, challenges := range challengeStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := NewChallengeAuthenticator(challenges, crypto.NewEd25519Verifier(), time.Minute)
			pub, priv := newSigner(t)

			issued, err := a.Issue(ctx, "alice")
			require.NoError(t, err)
			sig := ed25519.Sign(priv, issued.Nonce)

			tampered := append([]byte(nil), sig...)
			tampered[0] ^= 0x01

			_, err = a.Verify(ctx, issued.ID, tampered, pub)
			assert.ErrorIs(t, err, core.ErrInvalidSignature)

			// The genuine signature is useless once the challenge is spent.
			_, err = a.Verify(ctx, issued.ID, sig, pub)
			assert.ErrorIs(t, err, core.ErrInvalidChallenge)
		})
	}
}

func TestChallengeAuthenticator_WrongKey(t *testing.T) {
	ctx := context.Background()
	a := NewChallengeAuthenticator(store.NewMemoryChallengeStore(), crypto.NewEd25519Verifier(), time.Minute)
	_, priv := newSigner(t)
	otherPub, _ := newSigner(t)

	issued, err := a.Issue(ctx, "alice")
	require.NoError(t, err)

	_, err = a.Verify(ctx, issued.ID, ed25519.Sign(priv, issued.Nonce), otherPub)
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestChallengeAuthenticator_Expired(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Now()}
	challenges := store.NewMemoryChallengeStore().WithClock(clock.Now)
	a := NewChallengeAuthenticator(challenges, crypto.NewEd25519Verifier(), time.Minute).WithClock(clock.Now)
	pub, priv := newSigner(t)

	issued, err := a.Issue(ctx, "alice")
	require.NoError(t, err)

	clock.Advance(time.Minute + time.Second)

	_, err = a.Verify(ctx, issued.ID, ed25519.Sign(priv, issued.Nonce), pub)
	assert.ErrorIs(t, err, core.ErrInvalidChallenge)
}

func TestChallengeAuthenticator_UnknownChallenge(t *testing.T) {
	a := NewChallengeAuthenticator(store.NewMemoryChallengeStore(), crypto.NewEd25519Verifier(), time.Minute)
	pub, _ := newSigner(t)

	_, err := a.Verify(context.Background(), "missing", make([]byte, ed25519.SignatureSize), pub)
	assert.ErrorIs(t, err, core.ErrInvalidChallenge)
}
