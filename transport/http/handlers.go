package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/service"
	"github.com/layer-3/rendezvous/session"
)

// Handlers serves the unary part of the API.
type Handlers struct {
	auth          *service.AuthService
	notifications *service.NotificationService
	registry      *session.Registry
	logger        *zap.Logger
}

func NewHandlers(
	auth *service.AuthService,
	notifications *service.NotificationService,
	registry *session.Registry,
	lg *zap.Logger,
) *Handlers {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Handlers{
		auth:          auth,
		notifications: notifications,
		registry:      registry,
		logger:        lg.Named("http"),
	}
}

func (h *Handlers) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: malformed request body: %w", core.ErrInvalidArgument, err))
		return false
	}
	return true
}

// Challenge issues a nonce for a registered username.
func (h *Handlers) Challenge(c *gin.Context) {
	var req challengeRequest
	if !h.bind(c, &req) {
		return
	}

	challenge, err := h.auth.RequestChallenge(c.Request.Context(), req.Username)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, challengeResponse{
		ChallengeID: challenge.ID,
		Challenge:   challenge.Nonce,
	})
}

// Reserve holds a nickname for the registration window.
func (h *Handlers) Reserve(c *gin.Context) {
	var req reserveRequest
	if !h.bind(c, &req) {
		return
	}

	reservation, err := h.auth.ReserveNickname(c.Request.Context(), req.Nickname)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, reserveResponse{
		ReservationToken: reservation.Token,
		ExpiresAt:        reservation.ExpiresAt.Unix(),
	})
}

// Register turns a reservation into a principal bound to a public key.
func (h *Handlers) Register(c *gin.Context) {
	var req registerRequest
	if !h.bind(c, &req) {
		return
	}

	if _, err := h.auth.Register(c.Request.Context(), req.ReservationToken, req.PublicKey); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, registerResponse{Success: true})
}

// Authenticate redeems a signed challenge for a session token.
func (h *Handlers) Authenticate(c *gin.Context) {
	var req authenticateRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.auth.Authenticate(c.Request.Context(), req.Username, req.ChallengeID, req.Signature)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, authenticateResponse{
		Token:     result.Token,
		UserID:    result.PrincipalID,
		ExpiresAt: result.ExpiresAt.Unix(),
	})
}

// SendNotification is the push ingress for other backends.
func (h *Handlers) SendNotification(c *gin.Context) {
	var req sendNotificationRequest
	if !h.bind(c, &req) {
		return
	}

	id, err := h.notifications.SendNotification(c.Request.Context(), service.NotificationRequest{
		Token:     req.FCMToken,
		Topic:     req.Topic,
		EventType: req.EventType,
		Data:      req.Data,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, messageIDResponse{MessageID: id})
}

// UpdatePushToken stores the caller's device token.
func (h *Handlers) UpdatePushToken(c *gin.Context) {
	var req pushTokenRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.auth.UpdatePushToken(c.Request.Context(), PrincipalID(c), req.Token); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, ackResponse{Success: true})
}

// NotifyPeer wakes the receiver's device so it connects back to the caller.
func (h *Handlers) NotifyPeer(c *gin.Context) {
	var req notifyPeerRequest
	if !h.bind(c, &req) {
		return
	}

	id, err := h.notifications.NotifyPeer(c.Request.Context(), Subject(c), req.Receiver)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, messageIDResponse{MessageID: id})
}

// Disconnect ends the caller's own presence session.
func (h *Handlers) Disconnect(c *gin.Context) {
	var req disconnectRequest
	if !h.bind(c, &req) {
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(c, h.logger, fmt.Errorf("%w: name must not be blank", core.ErrInvalidArgument))
		return
	}
	if name != Subject(c) {
		respondError(c, h.logger, fmt.Errorf("%w: cannot disconnect another principal", core.ErrUnauthenticated))
		return
	}

	h.registry.RemoveSession(name)
	c.JSON(http.StatusOK, ackResponse{Success: true})
}
