package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/layer-3/rendezvous/adapters/store"
	"github.com/layer-3/rendezvous/core"
)

type pushCall struct {
	Token     string
	Topic     string
	EventType string
	Data      map[string]string
}

type recordingPush struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
}

func (p *recordingPush) Send(ctx context.Context, token, eventType string, data map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{Token: token, EventType: eventType, Data: data})
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("msg-%d", len(p.calls)), nil
}

func (p *recordingPush) SendToTopic(ctx context.Context, topic, eventType string, data map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{Topic: topic, EventType: eventType, Data: data})
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("msg-%d", len(p.calls)), nil
}

func TestNotificationService_SendNotification(t *testing.T) {
	ctx := context.Background()
	push := &recordingPush{}
	svc := NewNotificationService(push, store.NewMemoryPrincipalRepository(), zaptest.NewLogger(t))

	id, err := svc.SendNotification(ctx, NotificationRequest{Token: "device", Data: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, EventGenericNotification, push.calls[0].EventType)

	_, err = svc.SendNotification(ctx, NotificationRequest{Topic: "news", EventType: "digest"})
	require.NoError(t, err)
	assert.Equal(t, "news", push.calls[1].Topic)
	assert.Equal(t, "digest", push.calls[1].EventType)

	_, err = svc.SendNotification(ctx, NotificationRequest{})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = svc.SendNotification(ctx, NotificationRequest{Token: "a", Topic: "b"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestNotificationService_InvalidTokenIsCleared(t *testing.T) {
	ctx := context.Background()
	principals := store.NewMemoryPrincipalRepository()
	require.NoError(t, principals.Create(ctx, &core.Principal{ID: "u1", Username: "bob"}))
	require.NoError(t, principals.UpdatePushToken(ctx, "u1", "stale"))

	push := &recordingPush{err: fmt.Errorf("%w: unregistered", core.ErrPushTokenInvalid)}
	svc := NewNotificationService(push, principals, zaptest.NewLogger(t))

	_, err := svc.SendNotification(ctx, NotificationRequest{Token: "stale"})
	assert.ErrorIs(t, err, core.ErrPushTokenInvalid)

	bob, err := principals.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, bob.PushToken)
}

func TestNotificationService_TransientErrorKeepsToken(t *testing.T) {
	ctx := context.Background()
	principals := store.NewMemoryPrincipalRepository()
	require.NoError(t, principals.Create(ctx, &core.Principal{ID: "u1", Username: "bob"}))
	require.NoError(t, principals.UpdatePushToken(ctx, "u1", "device"))

	push := &recordingPush{err: fmt.Errorf("%w: timeout", core.ErrPushUnavailable)}
	svc := NewNotificationService(push, principals, zaptest.NewLogger(t))

	_, err := svc.NotifyPeer(ctx, "alice", "bob")
	assert.ErrorIs(t, err, core.ErrPushUnavailable)

	bob, err := principals.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "device", bob.PushToken)
}

func TestNotificationService_NotifyPeer(t *testing.T) {
	ctx := context.Background()
	principals := store.NewMemoryPrincipalRepository()
	require.NoError(t, principals.Create(ctx, &core.Principal{ID: "u1", Username: "bob"}))
	require.NoError(t, principals.Create(ctx, &core.Principal{ID: "u2", Username: "carol"}))
	require.NoError(t, principals.UpdatePushToken(ctx, "u1", "device"))

	push := &recordingPush{}
	svc := NewNotificationService(push, principals, zaptest.NewLogger(t))

	_, err := svc.NotifyPeer(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, push.calls, 1)
	assert.Equal(t, "device", push.calls[0].Token)
	assert.Equal(t, EventNewMessage, push.calls[0].EventType)
	assert.Equal(t, map[string]string{"sender": "alice", "action": ActionInitiateConnection}, push.calls[0].Data)

	_, err = svc.NotifyPeer(ctx, "alice", "ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.NotifyPeer(ctx, "alice", "carol")
	assert.ErrorIs(t, err, core.ErrFailedPrecondition)

	_, err = svc.NotifyPeer(ctx, "alice", "")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}
