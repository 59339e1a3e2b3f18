package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/rendezvous/core"
)

// DefaultPrefix namespaces every key written by the Redis adapters.
const DefaultPrefix = "rendezvous:"

// releaseScript deletes the nickname key only while it still points at the
// released token, so a newer reservation for the same name survives.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type challengeRecord struct {
	Username  string `json:"username"`
	Nonce     []byte `json:"nonce"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// RedisChallengeStore is a Redis implementation of the ChallengeStore interface
type RedisChallengeStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisChallengeStore creates a new Redis challenge store
func NewRedisChallengeStore(client *redis.Client, prefix string) *RedisChallengeStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisChallengeStore{
		client: client,
		prefix: prefix + "challenge:",
		now:    time.Now,
	}
}

// WithClock overrides the clock used for expiry checks, used in tests.
func (s *RedisChallengeStore) WithClock(now func() time.Time) *RedisChallengeStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Put stores the challenge with a TTL matching its expiry
func (s *RedisChallengeStore) Put(ctx context.Context, challenge *core.Challenge) error {
	ttl := challenge.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("challenge %s already expired", challenge.ID)
	}

	payload, err := json.Marshal(challengeRecord{
		Username:  challenge.Username,
		Nonce:     challenge.Nonce,
		CreatedAt: challenge.CreatedAt.UnixMilli(),
		ExpiresAt: challenge.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+challenge.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}

	return nil
}

// Consume reads and deletes the challenge with a single GETDEL
func (s *RedisChallengeStore) Consume(ctx context.Context, id string) (*core.Challenge, error) {
	payload, err := s.client.GetDel(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrInvalidChallenge
		}
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}

	var record challengeRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}

	challenge := &core.Challenge{
		ID:        id,
		Username:  record.Username,
		Nonce:     record.Nonce,
		CreatedAt: time.UnixMilli(record.CreatedAt),
		ExpiresAt: time.UnixMilli(record.ExpiresAt),
	}
	if challenge.Expired(s.now()) {
		return nil, core.ErrInvalidChallenge
	}

	return challenge, nil
}

type reservationRecord struct {
	Nickname  string `json:"nickname"`
	ExpiresAt int64  `json:"expires_at"`
}

// RedisReservationStore is a Redis implementation of the ReservationStore interface.
// Expired reservations are dropped by Redis key expiry.
type RedisReservationStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisReservationStore creates a new Redis reservation store
func NewRedisReservationStore(client *redis.Client, prefix string) *RedisReservationStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisReservationStore{
		client: client,
		prefix: prefix + "reservation:",
		now:    time.Now,
	}
}

// WithClock overrides the clock used for expiry checks, used in tests.
func (s *RedisReservationStore) WithClock(now func() time.Time) *RedisReservationStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *RedisReservationStore) nicknameKey(nickname string) string {
	return s.prefix + "nickname:" + nickname
}

func (s *RedisReservationStore) tokenKey(token string) string {
	return s.prefix + "token:" + token
}

// Reserve claims the nickname with SET NX so concurrent callers cannot both win
func (s *RedisReservationStore) Reserve(ctx context.Context, reservation *core.NicknameReservation) error {
	ttl := reservation.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("reservation for %q already expired", reservation.Nickname)
	}

	claimed, err := s.client.SetNX(ctx, s.nicknameKey(reservation.Nickname), reservation.Token, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve nickname: %w", err)
	}
	if !claimed {
		return core.ErrNicknameReserved
	}

	payload, err := json.Marshal(reservationRecord{
		Nickname:  reservation.Nickname,
		ExpiresAt: reservation.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		_ = s.client.Del(ctx, s.nicknameKey(reservation.Nickname)).Err()
		return fmt.Errorf("failed to marshal reservation: %w", err)
	}

	if err := s.client.Set(ctx, s.tokenKey(reservation.Token), payload, ttl).Err(); err != nil {
		_ = s.client.Del(ctx, s.nicknameKey(reservation.Nickname)).Err()
		return fmt.Errorf("failed to store reservation: %w", err)
	}

	return nil
}

// Get returns the live reservation for token
func (s *RedisReservationStore) Get(ctx context.Context, token string) (*core.NicknameReservation, error) {
	payload, err := s.client.Get(ctx, s.tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	var record reservationRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to decode reservation: %w", err)
	}

	reservation := &core.NicknameReservation{
		Nickname:  record.Nickname,
		Token:     token,
		ExpiresAt: time.UnixMilli(record.ExpiresAt),
	}
	if reservation.Expired(s.now()) {
		return nil, core.ErrReservationNotFound
	}

	return reservation, nil
}

// ExistsByNickname checks whether the nickname key is still held
func (s *RedisReservationStore) ExistsByNickname(ctx context.Context, nickname string) (bool, error) {
	n, err := s.client.Exists(ctx, s.nicknameKey(nickname)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check reservation: %w", err)
	}
	return n > 0, nil
}

// Release removes the reservation and frees its nickname
func (s *RedisReservationStore) Release(ctx context.Context, token string) error {
	payload, err := s.client.GetDel(ctx, s.tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to release reservation: %w", err)
	}

	var record reservationRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return fmt.Errorf("failed to decode reservation: %w", err)
	}

	if err := releaseScript.Run(ctx, s.client, []string{s.nicknameKey(record.Nickname)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release nickname: %w", err)
	}

	return nil
}

// Sweep is a no-op; Redis expires reservation keys on its own.
func (s *RedisReservationStore) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}
