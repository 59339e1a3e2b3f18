package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/rendezvous/core"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisChallengeStore_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	s := NewRedisChallengeStore(client, "test:")

	now := time.Now()
	require.NoError(t, s.Put(ctx, &core.Challenge{
		ID:        "c1",
		Username:  "alice",
		Nonce:     []byte{1, 2, 3, 4},
		CreatedAt: now,
		ExpiresAt: now.Add(2 * time.Minute),
	}))

	got, err := s.Consume(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, []byte{1, 2, 3, 4}, got.Nonce)

	_, err = s.Consume(ctx, "c1")
	assert.ErrorIs(t, err, core.ErrInvalidChallenge)
}

func TestRedisChallengeStore_TTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := NewRedisChallengeStore(client, "")

	now := time.Now()
	require.NoError(t, s.Put(ctx, &core.Challenge{
		ID:        "c1",
		Nonce:     []byte{1},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}))
	assert.True(t, mr.Exists(DefaultPrefix+"challenge:c1"))

	mr.FastForward(time.Minute + time.Second)

	_, err := s.Consume(ctx, "c1")
	assert.ErrorIs(t, err, core.ErrInvalidChallenge)
}

func TestRedisChallengeStore_RejectsExpired(t *testing.T) {
	_, client := newTestRedis(t)
	s := NewRedisChallengeStore(client, "")

	err := s.Put(context.Background(), &core.Challenge{ID: "c1", ExpiresAt: time.Now().Add(-time.Second)})
	assert.Error(t, err)
}

func TestRedisReservationStore_Reserve(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := NewRedisReservationStore(client, "test:")

	now := time.Now()
	require.NoError(t, s.Reserve(ctx, &core.NicknameReservation{Nickname: "alice", Token: "t1", ExpiresAt: now.Add(time.Minute)}))

	err := s.Reserve(ctx, &core.NicknameReservation{Nickname: "alice", Token: "t2", ExpiresAt: now.Add(time.Minute)})
	assert.ErrorIs(t, err, core.ErrNicknameReserved)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Nickname)

	mr.FastForward(time.Minute + time.Second)

	exists, err := s.ExistsByNickname(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.Get(ctx, "t1")
	assert.ErrorIs(t, err, core.ErrReservationNotFound)

	require.NoError(t, s.Reserve(ctx, &core.NicknameReservation{Nickname: "alice", Token: "t3", ExpiresAt: time.Now().Add(time.Minute)}))
}

func TestRedisReservationStore_ReleaseKeepsNewerReservation(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	s := NewRedisReservationStore(client, "test:")

	now := time.Now()
	require.NoError(t, s.Reserve(ctx, &core.NicknameReservation{Nickname: "alice", Token: "t1", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, s.Release(ctx, "t1"))

	exists, err := s.ExistsByNickname(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Reserve(ctx, &core.NicknameReservation{Nickname: "alice", Token: "t2", ExpiresAt: now.Add(time.Minute)}))

	// A late release of the first token must not free the newer hold.
	require.NoError(t, s.Release(ctx, "t1"))
	exists, err = s.ExistsByNickname(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRedisPrincipalRepository(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	r := NewRedisPrincipalRepository(client, "test:")

	created := time.Unix(1700000000, 0).UTC()
	require.NoError(t, r.Create(ctx, &core.Principal{
		ID:        "u1",
		Username:  "alice",
		PublicKey: []byte{0x30, 0x2a, 0x00, 0xff},
		CreatedAt: created,
	}))
	assert.ErrorIs(t, r.Create(ctx, &core.Principal{ID: "u2", Username: "alice", CreatedAt: created}), core.ErrUsernameTaken)

	got, err := r.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, []byte{0x30, 0x2a, 0x00, 0xff}, got.PublicKey)
	assert.True(t, created.Equal(got.CreatedAt))

	_, err = r.GetByUsername(ctx, "bob")
	assert.ErrorIs(t, err, core.ErrPrincipalNotFound)

	exists, err := r.ExistsByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRedisPrincipalRepository_PushToken(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	r := NewRedisPrincipalRepository(client, "test:")

	require.NoError(t, r.Create(ctx, &core.Principal{ID: "u1", Username: "alice", CreatedAt: time.Now()}))
	require.NoError(t, r.Create(ctx, &core.Principal{ID: "u2", Username: "bob", CreatedAt: time.Now()}))

	require.NoError(t, r.UpdatePushToken(ctx, "u1", "device"))
	require.NoError(t, r.UpdatePushToken(ctx, "u2", "device"))

	alice, err := r.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, alice.PushToken)

	bob, err := r.GetByID(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "device", bob.PushToken)

	require.NoError(t, r.ClearPushTokenValue(ctx, "device"))
	bob, err = r.GetByID(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, bob.PushToken)

	// A stale index entry must not wipe a token the principal has since replaced.
	require.NoError(t, r.UpdatePushToken(ctx, "u2", "rotated"))
	require.NoError(t, mr.Set(r.pushKey("old-device"), "u2"))
	require.NoError(t, r.ClearPushTokenValue(ctx, "old-device"))
	bob, err = r.GetByID(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "rotated", bob.PushToken)
	assert.False(t, mr.Exists(r.pushKey("old-device")))
	require.NoError(t, r.ClearPushTokenValue(ctx, "never-registered"))

	require.NoError(t, r.UpdatePushToken(ctx, "u1", "second"))
	require.NoError(t, r.ClearPushToken(ctx, "u1"))
	alice, err = r.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, alice.PushToken)

	assert.ErrorIs(t, r.UpdatePushToken(ctx, "ghost", "x"), core.ErrPrincipalNotFound)
}
