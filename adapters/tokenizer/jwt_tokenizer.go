package tokenizer

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/ports"
)

const (
	// Issuer is stamped on every token and required on parse.
	Issuer = "rendezvous"
	// MinSecretLength is the shortest accepted signing secret in bytes.
	MinSecretLength = 32

	keyInfo = "rendezvous session token v1"
	keySize = 64
)

// ErrWeakSecret is returned when the configured secret is too short.
var ErrWeakSecret = errors.New("jwt secret must be at least 32 bytes")

// JWTTokenizer implements the TokenIssuer interface using HS512 JWTs
type JWTTokenizer struct {
	signKey []byte
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewJWTTokenizer derives the signing key from secret once and returns the issuer
func NewJWTTokenizer(secret []byte, ttl time.Duration, logger *zap.Logger) (*JWTTokenizer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha512.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}

	return &JWTTokenizer{
		signKey: key,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}, nil
}

var _ ports.TokenIssuer = (*JWTTokenizer)(nil)

// WithClock overrides the clock used for issuing and validating, used in tests.
func (j *JWTTokenizer) WithClock(now func() time.Time) *JWTTokenizer {
	if now != nil {
		j.now = now
	}
	return j
}

// Issue signs a token for subject carrying principalID
func (j *JWTTokenizer) Issue(subject, principalID string) (string, time.Time, error) {
	now := j.now()
	expiresAt := now.Add(j.ttl)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		PrincipalID: principalID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, expiresAt, nil
}

// Parse verifies the token and returns its claims
func (j *JWTTokenizer) Parse(tokenStr string) (*core.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, core.ErrInvalidToken
	}
	if claims.Subject == "" || claims.PrincipalID == "" {
		return nil, fmt.Errorf("%w: missing subject or principal", core.ErrInvalidToken)
	}

	return &core.Claims{
		Subject:     claims.Subject,
		PrincipalID: claims.PrincipalID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Validate reports whether the token verifies; failures are logged, not returned.
func (j *JWTTokenizer) Validate(tokenStr string) bool {
	_, ok := j.parseQuiet(tokenStr)
	return ok
}

// SubjectOf returns the subject of a valid token.
func (j *JWTTokenizer) SubjectOf(tokenStr string) (string, bool) {
	claims, ok := j.parseQuiet(tokenStr)
	if !ok {
		return "", false
	}
	return claims.Subject, true
}

// PrincipalIDOf returns the principal id of a valid token.
func (j *JWTTokenizer) PrincipalIDOf(tokenStr string) (string, bool) {
	claims, ok := j.parseQuiet(tokenStr)
	if !ok {
		return "", false
	}
	return claims.PrincipalID, true
}

func (j *JWTTokenizer) parseQuiet(tokenStr string) (*core.Claims, bool) {
	claims, err := j.Parse(tokenStr)
	if err != nil {
		j.logger.Debug("token rejected", zap.Error(err))
		return nil, false
	}
	return claims, true
}
