package core

import "errors"

// Error kinds. The transport layer maps these onto wire status codes;
// component errors are wrapped with one of them before leaving a service.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrAlreadyExists      = errors.New("already exists")
	ErrFailedPrecondition = errors.New("failed precondition")
)

var (
	ErrInvalidChallenge    = errors.New("invalid challenge")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInvalidKeyFormat    = errors.New("invalid public key format")
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token has expired")
	ErrPrincipalNotFound   = errors.New("principal not found")
	ErrUsernameTaken       = errors.New("username already taken")
	ErrNicknameReserved    = errors.New("nickname already reserved")
	ErrReservationNotFound = errors.New("reservation not found or expired")
	ErrSessionNotFound     = errors.New("session not found")
	ErrChannelClosed       = errors.New("channel closed")
	ErrPushTokenInvalid    = errors.New("push token is permanently invalid")
	ErrPushUnavailable     = errors.New("push delivery failed")
)
