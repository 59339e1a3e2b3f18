package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/logger"
	"github.com/layer-3/rendezvous/ports"
)

const (
	EventGenericNotification = "generic_notification"
	EventNewMessage          = "new_message"
	ActionInitiateConnection = "initiate_connection"
)

// NotificationRequest targets either a device token or a topic.
type NotificationRequest struct {
	Token     string
	Topic     string
	EventType string
	Data      map[string]string
}

// NotificationService sends push notifications on behalf of clients
type NotificationService struct {
	push       ports.PushGateway
	principals ports.PrincipalRepository
	logger     *zap.Logger
}

func NewNotificationService(push ports.PushGateway, principals ports.PrincipalRepository, lg *zap.Logger) *NotificationService {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &NotificationService{
		push:       push,
		principals: principals,
		logger:     lg.Named("notifications"),
	}
}

// SendNotification pushes a data-only message to a token or topic and
// returns the gateway's message id.
func (s *NotificationService) SendNotification(ctx context.Context, req NotificationRequest) (string, error) {
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		eventType = EventGenericNotification
	}

	token := strings.TrimSpace(req.Token)
	topic := strings.TrimSpace(req.Topic)

	switch {
	case token != "" && topic != "":
		return "", fmt.Errorf("%w: set either token or topic, not both", core.ErrInvalidArgument)
	case token != "":
		id, err := s.push.Send(ctx, token, eventType, req.Data)
		if err != nil {
			s.handleSendError(ctx, token, eventType, err)
			return "", err
		}
		return id, nil
	case topic != "":
		return s.push.SendToTopic(ctx, topic, eventType, req.Data)
	default:
		return "", fmt.Errorf("%w: no token or topic given", core.ErrInvalidArgument)
	}
}

// NotifyPeer asks receiver's device to open a connection back to sender.
func (s *NotificationService) NotifyPeer(ctx context.Context, sender, receiver string) (string, error) {
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return "", fmt.Errorf("%w: receiver must not be blank", core.ErrInvalidArgument)
	}

	principal, err := s.principals.GetByUsername(ctx, receiver)
	if err != nil {
		if errors.Is(err, core.ErrPrincipalNotFound) {
			return "", fmt.Errorf("%w: %w", core.ErrNotFound, err)
		}
		return "", fmt.Errorf("failed to look up receiver: %w", err)
	}
	if principal.PushToken == "" {
		return "", fmt.Errorf("%w: receiver has no push token", core.ErrFailedPrecondition)
	}

	id, err := s.push.Send(ctx, principal.PushToken, EventNewMessage, map[string]string{
		"sender": sender,
		"action": ActionInitiateConnection,
	})
	if err != nil {
		s.handleSendError(ctx, principal.PushToken, EventNewMessage, err)
		return "", err
	}

	return id, nil
}

func (s *NotificationService) handleSendError(ctx context.Context, token, eventType string, err error) {
	if !errors.Is(err, core.ErrPushTokenInvalid) {
		s.logger.Warn("push delivery failed",
			zap.String("event_type", eventType),
			zap.String("token", logger.MaskSecret(token)),
			zap.Error(err))
		return
	}

	s.logger.Info("clearing invalid push token",
		zap.String("event_type", eventType),
		zap.String("token", logger.MaskSecret(token)))
	if clearErr := s.principals.ClearPushTokenValue(ctx, token); clearErr != nil {
		s.logger.Error("failed to clear push token", zap.Error(clearErr))
	}
}
