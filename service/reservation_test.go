package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/layer-3/rendezvous/adapters/store"
	"github.com/layer-3/rendezvous/core"
)

func TestNicknameReservationService_ConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	svc := NewNicknameReservationService(store.NewMemoryReservationStore(), store.NewMemoryPrincipalRepository(), time.Minute, time.Minute, zaptest.NewLogger(t))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Reserve(ctx, "alice"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestNicknameReservationService_ValidateAndRelease(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Now()}
	reservations := store.NewMemoryReservationStore().WithClock(clock.Now)
	svc := NewNicknameReservationService(reservations, store.NewMemoryPrincipalRepository(), time.Minute, time.Minute, nil).WithClock(clock.Now)

	reservation, err := svc.Reserve(ctx, " alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", reservation.Nickname)

	got, err := svc.Validate(ctx, reservation.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Nickname)

	require.NoError(t, svc.Release(ctx, reservation.Token))
	_, err = svc.Validate(ctx, reservation.Token)
	assert.ErrorIs(t, err, core.ErrReservationNotFound)

	_, err = svc.Reserve(ctx, "alice")
	require.NoError(t, err)
}

func TestNicknameReservationService_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Now()}
	reservations := store.NewMemoryReservationStore().WithClock(clock.Now)
	svc := NewNicknameReservationService(reservations, store.NewMemoryPrincipalRepository(), time.Minute, time.Minute, zaptest.NewLogger(t)).WithClock(clock.Now)

	_, err := svc.Reserve(ctx, "alice")
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, "bob")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	removed, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, reservations.Len())
}

func TestNicknameReservationService_RunStopsOnCancel(t *testing.T) {
	clock := &testClock{now: time.Now()}
	reservations := store.NewMemoryReservationStore().WithClock(clock.Now)
	svc := NewNicknameReservationService(reservations, store.NewMemoryPrincipalRepository(), time.Minute, 10*time.Millisecond, zaptest.NewLogger(t)).WithClock(clock.Now)

	_, err := svc.Reserve(context.Background(), "alice")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	assert.Eventually(t, func() bool { return reservations.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
