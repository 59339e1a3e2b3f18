package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/ports"
)

const (
	DefaultReservationTTL           = time.Minute
	DefaultReservationSweepInterval = 5 * time.Minute
)

// NicknameReservationService hands out short-lived reservation tokens so that
// two clients cannot register the same nickname concurrently.
type NicknameReservationService struct {
	reservations  ports.ReservationStore
	principals    ports.PrincipalRepository
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

func NewNicknameReservationService(
	reservations ports.ReservationStore,
	principals ports.PrincipalRepository,
	ttl, sweepInterval time.Duration,
	logger *zap.Logger,
) *NicknameReservationService {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultReservationSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NicknameReservationService{
		reservations:  reservations,
		principals:    principals,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		now:           time.Now,
		logger:        logger.Named("reservations"),
	}
}

// WithClock overrides the clock, used in tests.
func (s *NicknameReservationService) WithClock(now func() time.Time) *NicknameReservationService {
	if now != nil {
		s.now = now
	}
	return s
}

// Reserve holds nickname for the reservation TTL. It fails with
// core.ErrUsernameTaken when a principal already owns the name and with
// core.ErrNicknameReserved when another live reservation holds it.
func (s *NicknameReservationService) Reserve(ctx context.Context, nickname string) (*core.NicknameReservation, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, fmt.Errorf("nickname must not be blank: %w", core.ErrInvalidArgument)
	}

	taken, err := s.principals.ExistsByUsername(ctx, nickname)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if taken {
		return nil, core.ErrUsernameTaken
	}

	reservation := &core.NicknameReservation{
		Nickname:  nickname,
		Token:     uuid.NewString(),
		ExpiresAt: s.now().Add(s.ttl),
	}

	// The store checks and claims the nickname in one step.
	if err := s.reservations.Reserve(ctx, reservation); err != nil {
		return nil, err
	}

	return reservation, nil
}

// Validate returns the live reservation for token
func (s *NicknameReservationService) Validate(ctx context.Context, token string) (*core.NicknameReservation, error) {
	if strings.TrimSpace(token) == "" {
		return nil, core.ErrReservationNotFound
	}
	return s.reservations.Get(ctx, token)
}

// Release frees the nickname held by token; unknown tokens are ignored.
func (s *NicknameReservationService) Release(ctx context.Context, token string) error {
	return s.reservations.Release(ctx, token)
}

// Sweep drops expired reservations.
func (s *NicknameReservationService) Sweep(ctx context.Context) (int, error) {
	removed, err := s.reservations.Sweep(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep reservations: %w", err)
	}
	if removed > 0 {
		s.logger.Debug("expired reservations removed", zap.Int("count", removed))
	}
	return removed, nil
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *NicknameReservationService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("reservation sweep failed", zap.Error(err))
			}
		}
	}
}
