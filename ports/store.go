package ports

import (
	"context"

	"github.com/layer-3/rendezvous/core"
)

// ChallengeStore keeps issued challenges until they are redeemed or expire.
type ChallengeStore interface {
	Put(ctx context.Context, challenge *core.Challenge) error
	// Consume removes and returns the challenge in one atomic step.
	// A missing or expired challenge yields core.ErrInvalidChallenge.
	Consume(ctx context.Context, id string) (*core.Challenge, error)
}

// ReservationStore keeps short-lived nickname reservations.
type ReservationStore interface {
	// Reserve stores the reservation unless a live one already exists for
	// the same nickname, in which case core.ErrNicknameReserved is returned.
	Reserve(ctx context.Context, reservation *core.NicknameReservation) error
	// Get returns a live reservation or core.ErrReservationNotFound.
	Get(ctx context.Context, token string) (*core.NicknameReservation, error)
	ExistsByNickname(ctx context.Context, nickname string) (bool, error)
	Release(ctx context.Context, token string) error
	// Sweep drops expired reservations and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// PrincipalRepository is the narrow view of user persistence the core needs.
type PrincipalRepository interface {
	// Create fails with core.ErrUsernameTaken when the username exists.
	Create(ctx context.Context, principal *core.Principal) error
	GetByUsername(ctx context.Context, username string) (*core.Principal, error)
	GetByID(ctx context.Context, id string) (*core.Principal, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	UpdatePushToken(ctx context.Context, id, token string) error
	ClearPushToken(ctx context.Context, id string) error
	// ClearPushTokenValue clears the token from whichever principal holds it.
	ClearPushTokenValue(ctx context.Context, token string) error
}
