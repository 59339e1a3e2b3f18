package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/rendezvous/core"
)

// MemoryChallengeStore is an in-memory implementation of the ChallengeStore interface
type MemoryChallengeStore struct {
	challenges map[string]*core.Challenge
	mu         sync.Mutex
	now        func() time.Time
}

// NewMemoryChallengeStore creates a new in-memory challenge store
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		challenges: make(map[string]*core.Challenge),
		now:        time.Now,
	}
}

// WithClock overrides the clock used for expiry checks, used in tests.
func (s *MemoryChallengeStore) WithClock(now func() time.Time) *MemoryChallengeStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Put stores a challenge until it is consumed or expires
func (s *MemoryChallengeStore) Put(ctx context.Context, challenge *core.Challenge) error {
	stored := *challenge
	stored.Nonce = append([]byte(nil), challenge.Nonce...)

	s.mu.Lock()
	s.challenges[challenge.ID] = &stored
	s.mu.Unlock()

	// Reclaim memory for challenges nobody redeems. Expiry itself is
	// enforced by Consume, independent of when this fires.
	ttl := challenge.ExpiresAt.Sub(s.now())
	if ttl < 0 {
		ttl = 0
	}
	time.AfterFunc(ttl, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		// Only delete if the entry hasn't been replaced
		if current, exists := s.challenges[challenge.ID]; exists && current == &stored {
			delete(s.challenges, challenge.ID)
		}
	})

	return nil
}

// Consume removes the challenge and returns it if it was still live
func (s *MemoryChallengeStore) Consume(ctx context.Context, id string) (*core.Challenge, error) {
	s.mu.Lock()
	challenge, exists := s.challenges[id]
	delete(s.challenges, id)
	s.mu.Unlock()

	if !exists || challenge.Expired(s.now()) {
		return nil, core.ErrInvalidChallenge
	}

	return challenge, nil
}

// Len reports how many challenges are held, expired ones included.
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

// MemoryReservationStore is an in-memory implementation of the ReservationStore interface
type MemoryReservationStore struct {
	byToken    map[string]*core.NicknameReservation
	byNickname map[string]string
	mu         sync.RWMutex
	now        func() time.Time
}

// NewMemoryReservationStore creates a new in-memory reservation store
func NewMemoryReservationStore() *MemoryReservationStore {
	return &MemoryReservationStore{
		byToken:    make(map[string]*core.NicknameReservation),
		byNickname: make(map[string]string),
		now:        time.Now,
	}
}

// WithClock overrides the clock used for expiry checks, used in tests.
func (s *MemoryReservationStore) WithClock(now func() time.Time) *MemoryReservationStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Reserve stores the reservation unless the nickname is held by a live one
func (s *MemoryReservationStore) Reserve(ctx context.Context, reservation *core.NicknameReservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if token, exists := s.byNickname[reservation.Nickname]; exists {
		if current := s.byToken[token]; current != nil && !current.Expired(now) {
			return core.ErrNicknameReserved
		}
		delete(s.byToken, token)
	}

	stored := *reservation
	s.byToken[reservation.Token] = &stored
	s.byNickname[reservation.Nickname] = reservation.Token

	return nil
}

// Get returns the reservation for token if it has not expired
func (s *MemoryReservationStore) Get(ctx context.Context, token string) (*core.NicknameReservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservation, exists := s.byToken[token]
	if !exists || reservation.Expired(s.now()) {
		return nil, core.ErrReservationNotFound
	}

	found := *reservation
	return &found, nil
}

// ExistsByNickname reports whether a live reservation holds nickname
func (s *MemoryReservationStore) ExistsByNickname(ctx context.Context, nickname string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, exists := s.byNickname[nickname]
	if !exists {
		return false, nil
	}

	reservation := s.byToken[token]
	return reservation != nil && !reservation.Expired(s.now()), nil
}

// Release removes the reservation identified by token
func (s *MemoryReservationStore) Release(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, exists := s.byToken[token]
	if !exists {
		return nil
	}

	delete(s.byToken, token)
	if s.byNickname[reservation.Nickname] == token {
		delete(s.byNickname, reservation.Nickname)
	}

	return nil
}

// Sweep removes every expired reservation
func (s *MemoryReservationStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, reservation := range s.byToken {
		if !reservation.Expired(now) {
			continue
		}
		delete(s.byToken, token)
		if s.byNickname[reservation.Nickname] == token {
			delete(s.byNickname, reservation.Nickname)
		}
		removed++
	}

	return removed, nil
}

// Len reports how many reservations are held, expired ones included.
func (s *MemoryReservationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byToken)
}
