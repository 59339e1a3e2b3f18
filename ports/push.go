package ports

import "context"

// PushGateway delivers data-only push notifications.
// Errors wrap core.ErrPushTokenInvalid when the token will never work again
// and core.ErrPushUnavailable for anything the client may retry later.
type PushGateway interface {
	Send(ctx context.Context, token, eventType string, data map[string]string) (messageID string, err error)
	SendToTopic(ctx context.Context, topic, eventType string, data map[string]string) (messageID string, err error)
}
