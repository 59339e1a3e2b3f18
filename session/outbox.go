package session

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/core"
)

// presenceOutbox holds the newest presence list not yet written to one
// session's channel. Posting replaces whatever is pending, so a slow reader
// skips intermediate lists and always ends on the latest one.
type presenceOutbox struct {
	mu      sync.Mutex
	pending *core.PresenceUpdate

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newPresenceOutbox() *presenceOutbox {
	return &presenceOutbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post never blocks.
func (o *presenceOutbox) post(update core.PresenceUpdate) {
	o.mu.Lock()
	o.pending = &update
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *presenceOutbox) take() (core.PresenceUpdate, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pending == nil {
		return core.PresenceUpdate{}, false
	}
	update := *o.pending
	o.pending = nil
	return update, true
}

func (o *presenceOutbox) stop() {
	o.once.Do(func() { close(o.done) })
}

func (o *presenceOutbox) stopped() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// deliverPresence writes s's pending presence lists until the session ends.
// It runs on its own goroutine so a slow peer only delays itself.
func (r *Registry) deliverPresence(s *Session) {
	for {
		select {
		case <-s.outbox.done:
			return
		case <-s.outbox.wake:
		}

		update, ok := s.outbox.take()
		if !ok || s.outbox.stopped() {
			continue
		}

		if err := s.presence.Send(update); err != nil {
			r.metrics.PresenceDeliveryFailed()
			if errors.Is(err, core.ErrChannelClosed) {
				r.logger.Debug("presence channel closed", zap.String("principal", s.principal))
				return
			}
			r.logger.Warn("presence delivery failed", zap.String("principal", s.principal), zap.Error(err))
		}
	}
}
