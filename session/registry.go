package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/metrics"
	"github.com/layer-3/rendezvous/ports"
)

const (
	DefaultTimeout       = 5 * time.Minute
	DefaultSweepInterval = time.Minute

	eventPublishTimeout = 2 * time.Second
)

// Reasons a session ends.
const (
	ReasonDisconnect = "disconnect"
	ReasonReplaced   = "replaced"
	ReasonTimeout    = "timeout"
	ReasonStreamEnd  = "stream_closed"
	ReasonShutdown   = "shutdown"
)

// Session is one authenticated online principal and its open streams.
type Session struct {
	principal  string
	key        string
	presence   PresenceChannel
	sdp        SDPChannel
	ice        ICEChannel
	lastActive time.Time
	outbox     *presenceOutbox
}

func (s *Session) closeChannels() []error {
	var errs []error
	if s.sdp != nil {
		errs = append(errs, s.sdp.Close())
	}
	if s.ice != nil {
		errs = append(errs, s.ice.Close())
	}
	if s.presence != nil {
		errs = append(errs, s.presence.Close())
	}
	return errs
}

// Registry tracks every online session in this process. Sessions live in
// memory only, so each instance sees just the clients connected to it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // by principal
	keys     map[string]string   // session key -> principal

	timeout       time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	logger  *zap.Logger
	metrics *metrics.Metrics
	events  ports.EventPublisher
}

// NewRegistry creates an empty registry. Non-positive durations fall back to
// the defaults; the sweep interval must stay below the timeout.
func NewRegistry(timeout, sweepInterval time.Duration, logger *zap.Logger) (*Registry, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if sweepInterval >= timeout {
		return nil, fmt.Errorf("sweep interval %s must be shorter than session timeout %s", sweepInterval, timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		sessions:      make(map[string]*Session),
		keys:          make(map[string]string),
		timeout:       timeout,
		sweepInterval: sweepInterval,
		now:           time.Now,
		logger:        logger.Named("sessions"),
	}, nil
}

// WithClock overrides the clock, used in tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	if now != nil {
		r.now = now
	}
	return r
}

// WithEvents publishes session lifecycle and presence events to p.
func (r *Registry) WithEvents(p ports.EventPublisher) *Registry {
	r.events = p
	return r
}

func (r *Registry) WithMetrics(m *metrics.Metrics) *Registry {
	r.metrics = m
	return r
}

// CreateSession installs a new session for principal. A previous session
// for the same principal is removed and its channels closed before the new
// one becomes visible.
func (r *Registry) CreateSession(principal, key string, presence PresenceChannel) error {
	if principal == "" || key == "" || presence == nil {
		return fmt.Errorf("%w: principal, key and presence channel are required", core.ErrInvalidArgument)
	}

	for {
		r.mu.Lock()
		if owner, taken := r.keys[key]; taken && owner != principal {
			r.mu.Unlock()
			return fmt.Errorf("%w: session key in use", core.ErrAlreadyExists)
		}

		old := r.sessions[principal]
		if old == nil {
			s := &Session{
				principal:  principal,
				key:        key,
				presence:   presence,
				lastActive: r.now(),
				outbox:     newPresenceOutbox(),
			}
			r.sessions[principal] = s
			r.keys[key] = principal
			go r.deliverPresence(s)
			users := r.broadcastLocked()
			active := len(r.sessions)
			r.mu.Unlock()

			r.metrics.SessionOpened(active)
			r.logger.Info("session opened", zap.String("principal", principal), zap.Int("active", active))
			r.publish(core.SessionEvent{Type: core.EventSessionOpened, Principal: principal})
			r.publish(core.SessionEvent{Type: core.EventPresence, Online: users})
			return nil
		}

		r.detachLocked(old)
		active := len(r.sessions)
		r.mu.Unlock()

		r.finish(old, ReasonReplaced, active)
	}
}

// RemoveSession removes principal's session and closes its channels.
// Unknown principals are ignored.
func (r *Registry) RemoveSession(principal string) {
	r.removeWhere(principal, "", ReasonDisconnect)
}

// EndSession removes principal's session only while key is still its
// session key, so a stream that was superseded cannot end its replacement.
func (r *Registry) EndSession(principal, key string) bool {
	return r.removeWhere(principal, key, ReasonStreamEnd)
}

func (r *Registry) removeWhere(principal, key, reason string) bool {
	r.mu.Lock()
	s := r.sessions[principal]
	if s == nil || (key != "" && s.key != key) {
		r.mu.Unlock()
		return false
	}
	r.detachLocked(s)
	users := r.broadcastLocked()
	active := len(r.sessions)
	r.mu.Unlock()

	r.finish(s, reason, active)
	r.publish(core.SessionEvent{Type: core.EventPresence, Online: users})
	return true
}

func (r *Registry) detachLocked(s *Session) {
	delete(r.sessions, s.principal)
	if r.keys[s.key] == s.principal {
		delete(r.keys, s.key)
	}
}

// finish closes a detached session's channels and reports its end.
func (r *Registry) finish(s *Session, reason string, active int) {
	s.outbox.stop()
	for _, err := range s.closeChannels() {
		if err != nil && !errors.Is(err, core.ErrChannelClosed) {
			r.logger.Debug("channel close failed", zap.String("principal", s.principal), zap.Error(err))
		}
	}

	r.metrics.SessionClosed(reason, active)
	r.logger.Info("session closed",
		zap.String("principal", s.principal),
		zap.String("reason", reason),
		zap.Int("active", active))
	r.publish(core.SessionEvent{Type: core.EventSessionClosed, Principal: s.principal, Reason: reason})
}

// errForeignSessionKey reports a session key presented by someone other
// than its owner.
var errForeignSessionKey = errors.New("session key belongs to another principal")

// AttachSDPChannelByKey attaches ch to the session owning key and returns
// that session's principal. The key lookup and the attach happen under one
// lock, so a session replaced in between can never receive ch. A non-empty
// subject must own the key.
func (r *Registry) AttachSDPChannelByKey(key, subject string, ch SDPChannel) (string, error) {
	return r.attachByKey(key, subject, func(s *Session) func() error {
		prev := s.sdp
		s.sdp = ch
		if prev == nil || prev == ch {
			return nil
		}
		return prev.Close
	})
}

// AttachICEChannelByKey is AttachSDPChannelByKey for ICE channels.
func (r *Registry) AttachICEChannelByKey(key, subject string, ch ICEChannel) (string, error) {
	return r.attachByKey(key, subject, func(s *Session) func() error {
		prev := s.ice
		s.ice = ch
		if prev == nil || prev == ch {
			return nil
		}
		return prev.Close
	})
}

func (r *Registry) attachByKey(key, subject string, swap func(*Session) func() error) (string, error) {
	if key == "" {
		return "", core.ErrSessionNotFound
	}

	r.mu.Lock()
	principal, ok := r.keys[key]
	s := r.sessions[principal]
	if !ok || s == nil || s.key != key {
		r.mu.Unlock()
		return "", core.ErrSessionNotFound
	}
	if subject != "" && principal != subject {
		r.mu.Unlock()
		return principal, errForeignSessionKey
	}
	closePrev := swap(s)
	r.mu.Unlock()

	if closePrev != nil {
		_ = closePrev()
	}
	return principal, nil
}

// DetachSDPChannel clears principal's SDP channel if it is still ch.
func (r *Registry) DetachSDPChannel(principal string, ch SDPChannel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[principal]
	if s == nil || s.sdp != ch {
		return false
	}
	s.sdp = nil
	return true
}

// DetachICEChannel clears principal's ICE channel if it is still ch.
func (r *Registry) DetachICEChannel(principal string, ch ICEChannel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[principal]
	if s == nil || s.ice != ch {
		return false
	}
	s.ice = nil
	return true
}

// SDPChannel returns principal's live SDP channel.
func (r *Registry) SDPChannel(principal string) (SDPChannel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.sessions[principal]
	if s == nil || s.sdp == nil {
		return nil, false
	}
	return s.sdp, true
}

// ICEChannel returns principal's live ICE channel.
func (r *Registry) ICEChannel(principal string) (ICEChannel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.sessions[principal]
	if s == nil || s.ice == nil {
		return nil, false
	}
	return s.ice, true
}

// Heartbeat marks principal as alive. Unknown principals are ignored.
func (r *Registry) Heartbeat(principal string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.sessions[principal]; s != nil {
		s.lastActive = r.now()
	}
}

// ResolveByKey returns the principal owning key.
func (r *Registry) ResolveByKey(key string) (string, bool) {
	if key == "" {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	principal, ok := r.keys[key]
	return principal, ok
}

// AuthorizeKey reports whether key belongs to a live session.
func (r *Registry) AuthorizeKey(key string) bool {
	_, ok := r.ResolveByKey(key)
	return ok
}

// IsOnline reports whether principal has a session.
func (r *Registry) IsOnline(principal string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sessions[principal]
	return ok
}

// Online returns the sorted list of online principals.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.onlineLocked()
}

func (r *Registry) onlineLocked() []string {
	users := make([]string, 0, len(r.sessions))
	for principal := range r.sessions {
		users = append(users, principal)
	}
	sort.Strings(users)
	return users
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep evicts every session idle for longer than the timeout and
// broadcasts presence once if anything was evicted.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.timeout)

	r.mu.Lock()
	var expired []*Session
	for _, s := range r.sessions {
		if s.lastActive.Before(cutoff) {
			expired = append(expired, s)
		}
	}
	if len(expired) == 0 {
		r.mu.Unlock()
		return 0
	}
	for _, s := range expired {
		r.detachLocked(s)
	}
	users := r.broadcastLocked()
	active := len(r.sessions)
	r.mu.Unlock()

	for _, s := range expired {
		r.finish(s, ReasonTimeout, active)
	}
	r.publish(core.SessionEvent{Type: core.EventPresence, Online: users})

	return len(expired)
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("idle sessions evicted", zap.Int("count", n))
			}
		}
	}
}

// Close ends every session. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.keys = make(map[string]string)
	r.mu.Unlock()

	for _, s := range all {
		r.finish(s, ReasonShutdown, 0)
	}
}

// broadcastLocked posts the current online list to every session's outbox
// and returns it. It runs in the same critical section as the change it
// reports, so each outbox sees lists in mutation order. r.mu must be held
// for writing.
func (r *Registry) broadcastLocked() []string {
	users := r.onlineLocked()
	for _, s := range r.sessions {
		s.outbox.post(core.PresenceUpdate{Users: users})
	}
	r.metrics.PresenceBroadcast()
	return users
}

func (r *Registry) publish(event core.SessionEvent) {
	if r.events == nil {
		return
	}
	event.At = r.now().Unix()

	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	defer cancel()

	if err := r.events.PublishSessionEvent(ctx, event); err != nil {
		r.logger.Warn("failed to publish session event", zap.String("type", event.Type), zap.Error(err))
	}
}
