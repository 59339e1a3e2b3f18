package service

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/metrics"
	"github.com/layer-3/rendezvous/ports"
)

// AuthResult is returned by a successful Authenticate.
type AuthResult struct {
	Token       string
	PrincipalID string
	ExpiresAt   time.Time
}

// AuthService handles authentication business logic
type AuthService struct {
	challenges   *ChallengeAuthenticator
	reservations *NicknameReservationService
	principals   ports.PrincipalRepository
	verifier     ports.SignatureVerifier
	tokenizer    ports.TokenIssuer

	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(
	challenges *ChallengeAuthenticator,
	reservations *NicknameReservationService,
	principals ports.PrincipalRepository,
	verifier ports.SignatureVerifier,
	tokenizer ports.TokenIssuer,
	logger *zap.Logger,
	m *metrics.Metrics,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		challenges:   challenges,
		reservations: reservations,
		principals:   principals,
		verifier:     verifier,
		tokenizer:    tokenizer,
		logger:       logger.Named("auth"),
		metrics:      m,
		now:          time.Now,
	}
}

// RequestChallenge issues a challenge for a registered username
func (s *AuthService) RequestChallenge(ctx context.Context, username string) (challenge *core.Challenge, err error) {
	defer func() { s.metrics.Auth("challenge", err) }()

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username must not be blank", core.ErrInvalidArgument)
	}

	exists, err := s.principals.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up principal: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %w", core.ErrNotFound, core.ErrPrincipalNotFound)
	}

	return s.challenges.Issue(ctx, username)
}

// ReserveNickname holds nickname so the caller can register it
func (s *AuthService) ReserveNickname(ctx context.Context, nickname string) (reservation *core.NicknameReservation, err error) {
	defer func() { s.metrics.Auth("reserve", err) }()

	reservation, err = s.reservations.Reserve(ctx, nickname)
	switch {
	case err == nil:
		return reservation, nil
	case errors.Is(err, core.ErrUsernameTaken), errors.Is(err, core.ErrNicknameReserved):
		return nil, fmt.Errorf("%w: %w", core.ErrAlreadyExists, err)
	default:
		return nil, err
	}
}

// Register creates the principal for a reserved nickname
func (s *AuthService) Register(ctx context.Context, reservationToken string, publicKey []byte) (principal *core.Principal, err error) {
	defer func() { s.metrics.Auth("register", err) }()

	reservation, err := s.reservations.Validate(ctx, reservationToken)
	if err != nil {
		if errors.Is(err, core.ErrReservationNotFound) {
			return nil, fmt.Errorf("%w: %w", core.ErrFailedPrecondition, err)
		}
		return nil, fmt.Errorf("failed to validate reservation: %w", err)
	}

	if _, err := s.verifier.ParsePublicKey(publicKey); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidArgument, err)
	}

	principal = &core.Principal{
		ID:        uuid.NewString(),
		Username:  reservation.Nickname,
		PublicKey: append([]byte(nil), publicKey...),
		CreatedAt: s.now().UTC(),
	}

	if err := s.principals.Create(ctx, principal); err != nil {
		if errors.Is(err, core.ErrUsernameTaken) {
			return nil, fmt.Errorf("%w: %w", core.ErrAlreadyExists, err)
		}
		return nil, fmt.Errorf("failed to create principal: %w", err)
	}

	if err := s.reservations.Release(ctx, reservationToken); err != nil {
		s.logger.Warn("failed to release reservation after registration",
			zap.String("nickname", principal.Username),
			zap.Error(err))
	}

	s.logger.Info("principal registered",
		zap.String("username", principal.Username),
		zap.String("principal_id", principal.ID))

	return principal, nil
}

// Authenticate redeems a signed challenge for a session token. Every
// failure is reported as core.ErrUnauthenticated; the cause is only logged.
func (s *AuthService) Authenticate(ctx context.Context, username, challengeID string, signature []byte) (result *AuthResult, err error) {
	defer func() { s.metrics.Auth("authenticate", err) }()

	principal, cause := s.principals.GetByUsername(ctx, username)

	var publicKey ed25519.PublicKey
	if cause == nil {
		publicKey, cause = s.verifier.ParsePublicKey(principal.PublicKey)
	}

	// Always consume the challenge so a failed attempt cannot be retried.
	challenge, verifyErr := s.challenges.Verify(ctx, challengeID, signature, publicKey)
	if cause == nil {
		cause = verifyErr
	}
	if cause == nil && challenge.Username != username {
		cause = fmt.Errorf("%w: issued for another user", core.ErrInvalidChallenge)
	}

	if cause != nil {
		s.logger.Warn("authentication failed",
			zap.String("username", username),
			zap.String("challenge_id", challengeID),
			zap.Error(cause))
		return nil, core.ErrUnauthenticated
	}

	token, expiresAt, err := s.tokenizer.Issue(principal.Username, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &AuthResult{
		Token:       token,
		PrincipalID: principal.ID,
		ExpiresAt:   expiresAt,
	}, nil
}

// ParseToken resolves a bearer token into its claims
func (s *AuthService) ParseToken(token string) (*core.Claims, error) {
	claims, err := s.tokenizer.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrUnauthenticated, err)
	}
	return claims, nil
}

// UpdatePushToken stores the caller's device push token
func (s *AuthService) UpdatePushToken(ctx context.Context, principalID, token string) error {
	if principalID == "" {
		return core.ErrUnauthenticated
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: push token must not be blank", core.ErrInvalidArgument)
	}

	if err := s.principals.UpdatePushToken(ctx, principalID, token); err != nil {
		if errors.Is(err, core.ErrPrincipalNotFound) {
			return fmt.Errorf("%w: %w", core.ErrNotFound, err)
		}
		return fmt.Errorf("failed to update push token: %w", err)
	}

	return nil
}
