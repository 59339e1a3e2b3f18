package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/logger"
	"github.com/layer-3/rendezvous/metrics"
	"github.com/layer-3/rendezvous/ports"
)

// EventTypeKey carries the event type inside the data payload.
const EventTypeKey = "eventType"

const providerFCM = "fcm"

// MessageSender is the part of *messaging.Client the gateway uses.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// permanentTokenError reports FCM errors after which the token will never
// be accepted again.
var permanentTokenError = func(err error) bool {
	return messaging.IsUnregistered(err) ||
		messaging.IsInvalidArgument(err) ||
		messaging.IsSenderIDMismatch(err)
}

// FCMGateway sends data-only messages through Firebase Cloud Messaging
type FCMGateway struct {
	sender  MessageSender
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewFCMClient builds a messaging client from a service account file
func NewFCMClient(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}

	return client, nil
}

// NewFCMGateway creates a push gateway on top of sender
func NewFCMGateway(sender MessageSender, logger *zap.Logger, m *metrics.Metrics) *FCMGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FCMGateway{
		sender:  sender,
		logger:  logger.Named("fcm"),
		metrics: m,
	}
}

var _ ports.PushGateway = (*FCMGateway)(nil)

// Send delivers a data-only message to one device token
func (g *FCMGateway) Send(ctx context.Context, token, eventType string, data map[string]string) (string, error) {
	msg := dataMessage(eventType, data)
	msg.Token = token

	id, err := g.sender.Send(ctx, msg)
	if err != nil {
		if permanentTokenError(err) {
			g.metrics.Push(providerFCM, metrics.PushInvalidToken)
			g.logger.Info("push token rejected",
				zap.String("token", logger.MaskSecret(token)),
				zap.String("event_type", eventType),
				zap.Error(err))
			return "", fmt.Errorf("%w: %w", core.ErrPushTokenInvalid, err)
		}
		g.metrics.Push(providerFCM, metrics.PushFailed)
		return "", fmt.Errorf("%w: %w", core.ErrPushUnavailable, err)
	}

	g.metrics.Push(providerFCM, metrics.PushSent)
	g.logger.Debug("push sent",
		zap.String("token", logger.MaskSecret(token)),
		zap.String("event_type", eventType),
		zap.String("message_id", id))

	return id, nil
}

// SendToTopic delivers a data-only message to every subscriber of topic
func (g *FCMGateway) SendToTopic(ctx context.Context, topic, eventType string, data map[string]string) (string, error) {
	msg := dataMessage(eventType, data)
	msg.Topic = topic

	id, err := g.sender.Send(ctx, msg)
	if err != nil {
		g.metrics.Push(providerFCM, metrics.PushFailed)
		return "", fmt.Errorf("%w: %w", core.ErrPushUnavailable, err)
	}

	g.metrics.Push(providerFCM, metrics.PushSent)
	return id, nil
}

// dataMessage builds a high priority message without a notification block so
// the client app handles it in the background.
func dataMessage(eventType string, data map[string]string) *messaging.Message {
	payload := make(map[string]string, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload[EventTypeKey] = eventType

	return &messaging.Message{
		Data: payload,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true},
			},
		},
	}
}
