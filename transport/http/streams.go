package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/session"
	"github.com/layer-3/rendezvous/signaling"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 64 << 10
	wsSendQueue      = 32
)

var errSendQueueFull = errors.New("websocket send queue full")

// wsConn queues outbound messages for a single writer goroutine, so callers
// never wait on the network. A peer that lets the queue fill up is
// disconnected.
type wsConn struct {
	conn *websocket.Conn
	out  chan any

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

func newWSConn(conn *websocket.Conn) *wsConn {
	conn.SetReadLimit(wsMaxMessageSize)
	// Liveness comes from heartbeats, not from transport deadlines.
	_ = conn.SetReadDeadline(time.Time{})

	w := &wsConn{conn: conn, out: make(chan any, wsSendQueue)}
	go w.writeLoop()
	return w
}

func (w *wsConn) read() ([]byte, error) {
	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

// writeJSON queues v without blocking.
func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return core.ErrChannelClosed
	}
	select {
	case w.out <- v:
		return nil
	default:
		w.shutdownLocked(websocket.ClosePolicyViolation, "too slow")
		return errSendQueueFull
	}
}

// closeWith queues a close frame behind any pending messages and returns
// immediately. Only the first call has an effect.
func (w *wsConn) closeWith(code int, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return core.ErrChannelClosed
	}
	w.shutdownLocked(code, reason)
	return nil
}

func (w *wsConn) shutdownLocked(code int, reason string) {
	w.closed = true
	w.closeCode = code
	w.closeReason = reason
	close(w.out)
}

func (w *wsConn) writeLoop() {
	defer w.conn.Close()

	for msg := range w.out {
		_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := w.conn.WriteJSON(msg); err != nil {
			w.mu.Lock()
			if !w.closed {
				w.shutdownLocked(websocket.CloseAbnormalClosure, "")
			}
			w.mu.Unlock()
			return
		}
	}

	w.mu.Lock()
	code, reason := w.closeCode, w.closeReason
	w.mu.Unlock()
	if code == websocket.CloseAbnormalClosure {
		return
	}
	_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// wsChannel adapts a websocket to session.Channel, wrapping each message in
// the stream's server envelope.
type wsChannel[T any] struct {
	conn *wsConn
	wrap func(T) any
}

func (c *wsChannel[T]) Send(msg T) error {
	return c.conn.writeJSON(c.wrap(msg))
}

func (c *wsChannel[T]) Close() error {
	return c.conn.closeWith(websocket.CloseNormalClosure, "session ended")
}

// Streams serves the presence, SDP and ICE websockets.
type Streams struct {
	registry          *session.Registry
	gate              *session.Gate
	relay             *signaling.Relay
	keepAliveInterval time.Duration
	upgrader          websocket.Upgrader
	logger            *zap.Logger
}

func NewStreams(
	registry *session.Registry,
	gate *session.Gate,
	relay *signaling.Relay,
	keepAliveInterval time.Duration,
	lg *zap.Logger,
) *Streams {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Streams{
		registry:          registry,
		gate:              gate,
		relay:             relay,
		keepAliveInterval: keepAliveInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: lg.Named("streams"),
	}
}

func (s *Streams) upgrade(c *gin.Context) (*wsConn, bool) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return nil, false
	}
	return newWSConn(conn), true
}

func (s *Streams) logReadError(kind string, subject string, err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, core.ErrChannelClosed) {
		s.logger.Debug("stream closed", zap.String("kind", kind), zap.String("subject", subject))
		return
	}
	s.logger.Debug("stream read ended", zap.String("kind", kind), zap.String("subject", subject), zap.Error(err))
}

// Presence opens the caller's session. The first message must name the
// bearer's own principal.
func (s *Streams) Presence(c *gin.Context) {
	subject := Subject(c)

	ws, ok := s.upgrade(c)
	if !ok {
		return
	}
	defer ws.closeWith(websocket.CloseNormalClosure, "")

	data, err := ws.read()
	if err != nil {
		s.logReadError("presence", subject, err)
		return
	}
	msg, err := parsePresenceMessage(data)
	if err != nil || msg.Initial == nil {
		_ = ws.closeWith(websocket.CloseUnsupportedData, "expected initial message")
		return
	}
	if msg.Initial.Name != subject {
		s.logger.Warn("presence name does not match token subject",
			zap.String("subject", subject),
			zap.String("name", msg.Initial.Name))
		_ = ws.closeWith(websocket.ClosePolicyViolation, "name does not match token")
		return
	}

	key := uuid.NewString()
	ch := &wsChannel[core.PresenceUpdate]{conn: ws, wrap: func(u core.PresenceUpdate) any {
		return presenceServerMessage{UsersList: &u}
	}}

	if err := ws.writeJSON(presenceServerMessage{Initial: &presenceAck{
		KeepAliveInterval: int64(s.keepAliveInterval / time.Second),
		SessionKey:        key,
	}}); err != nil {
		s.logReadError("presence", subject, err)
		return
	}

	if err := s.registry.CreateSession(subject, key, ch); err != nil {
		s.logger.Warn("failed to create session", zap.String("subject", subject), zap.Error(err))
		_ = ws.closeWith(websocket.CloseInternalServerErr, "session rejected")
		return
	}
	defer s.registry.EndSession(subject, key)

	for {
		data, err := ws.read()
		if err != nil {
			s.logReadError("presence", subject, err)
			return
		}

		msg, err := parsePresenceMessage(data)
		if err != nil {
			_ = ws.closeWith(websocket.CloseUnsupportedData, "invalid message")
			return
		}
		if msg.StillAlive != nil {
			s.registry.Heartbeat(subject)
			continue
		}
		s.logger.Debug("repeated initial on presence stream ignored", zap.String("subject", subject))
	}
}

// signalingStream describes one kind of gated relay stream.
type signalingStream[T any] struct {
	kind     core.ChannelKind
	parse    func([]byte) (*streamInitial, *T, error)
	approved func(bool) any
	wrap     func(T) any
	admit    func(key, subject string, ch session.Channel[T]) session.Admission
	detach   func(principal string, ch session.Channel[T]) bool
	relay    func(ctx context.Context, sender string, msg T) (signaling.Outcome, error)
}

// SDP serves the session description stream.
func (s *Streams) SDP(c *gin.Context) {
	serveSignaling(s, c, signalingStream[core.SessionDescription]{
		kind: core.ChannelSDP,
		parse: func(data []byte) (*streamInitial, *core.SessionDescription, error) {
			msg, err := parseSDPMessage(data)
			return msg.Initial, msg.SessionDescription, err
		},
		approved: func(ok bool) any { return sdpServerMessage{Approved: &ok} },
		wrap: func(d core.SessionDescription) any {
			return sdpServerMessage{SessionDescription: &d}
		},
		admit:  s.gate.AdmitSDP,
		detach: s.registry.DetachSDPChannel,
		relay:  s.relay.RelaySDP,
	})
}

// ICE serves the candidate stream.
func (s *Streams) ICE(c *gin.Context) {
	serveSignaling(s, c, signalingStream[core.ICECandidates]{
		kind: core.ChannelICE,
		parse: func(data []byte) (*streamInitial, *core.ICECandidates, error) {
			msg, err := parseICEMessage(data)
			return msg.Initial, msg.ICECandidates, err
		},
		approved: func(ok bool) any { return iceServerMessage{Approved: &ok} },
		wrap: func(b core.ICECandidates) any {
			return iceServerMessage{ICECandidates: &b}
		},
		admit:  s.gate.AdmitICE,
		detach: s.registry.DetachICEChannel,
		relay:  s.relay.RelayICE,
	})
}

func serveSignaling[T any](s *Streams, c *gin.Context, stream signalingStream[T]) {
	subject := Subject(c)
	kind := string(stream.kind)
	ctx := c.Request.Context()

	ws, ok := s.upgrade(c)
	if !ok {
		return
	}
	defer ws.closeWith(websocket.CloseNormalClosure, "")

	ch := &wsChannel[T]{conn: ws, wrap: stream.wrap}

	var admission session.Admission
	defer func() {
		if admission.Approved {
			stream.detach(admission.Principal, ch)
		}
	}()

	for {
		data, err := ws.read()
		if err != nil {
			s.logReadError(kind, subject, err)
			return
		}

		initial, payload, err := stream.parse(data)
		if err != nil {
			if errors.Is(err, core.ErrInvalidArgument) {
				s.logger.Warn("invalid payload dropped",
					zap.String("kind", kind),
					zap.String("subject", subject),
					zap.Error(err))
				continue
			}
			_ = ws.closeWith(websocket.CloseUnsupportedData, "invalid message")
			return
		}

		if initial != nil {
			if admission.Approved {
				s.logger.Debug("repeated initial ignored", zap.String("kind", kind), zap.String("subject", subject))
				continue
			}
			admission = stream.admit(initial.SessionKey, subject, ch)
			if err := ws.writeJSON(stream.approved(admission.Approved)); err != nil {
				s.logReadError(kind, subject, err)
				return
			}
			continue
		}

		if !admission.Approved {
			s.gate.Dropped(stream.kind, subject)
			continue
		}

		outcome, err := stream.relay(ctx, admission.Principal, *payload)
		fields := []zap.Field{
			zap.String("kind", kind),
			zap.String("sender", admission.Principal),
			zap.Stringer("outcome", outcome),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		if outcome == signaling.Undeliverable {
			s.logger.Info("signaling message undeliverable", fields...)
		} else {
			s.logger.Debug("signaling message relayed", fields...)
		}
	}
}
