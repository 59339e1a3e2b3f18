package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/metrics"
	"github.com/layer-3/rendezvous/ports"
	"github.com/layer-3/rendezvous/session"
)

// Push event types and data keys understood by the mobile clients.
const (
	EventSDPPrefix   = "sdp_"
	EventICEExchange = "ice_exchange"

	DataSDP           = "sdp"
	DataType          = "type"
	DataSender        = "sender"
	DataICECandidates = "iceCandidates"
)

// Outcome says how a relayed message left the server.
type Outcome int

const (
	Undeliverable Outcome = iota
	Delivered
	Pushed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return metrics.OutcomeDelivered
	case Pushed:
		return metrics.OutcomePushed
	default:
		return metrics.OutcomeUndeliverable
	}
}

// Relay forwards SDP and ICE messages to the receiver's live stream, or
// through the push gateway when the receiver has none open.
type Relay struct {
	registry   *session.Registry
	principals ports.PrincipalRepository
	push       ports.PushGateway
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewRelay(
	registry *session.Registry,
	principals ports.PrincipalRepository,
	push ports.PushGateway,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		registry:   registry,
		principals: principals,
		push:       push,
		logger:     logger.Named("relay"),
		metrics:    m,
	}
}

// RelaySDP forwards msg from sender. A non-nil error explains an
// Undeliverable outcome or a failed live send that was recovered by push;
// it never means the sender's stream should close.
func (r *Relay) RelaySDP(ctx context.Context, sender string, msg core.SessionDescription) (Outcome, error) {
	msg.Sender = sender

	return relay(ctx, r, core.ChannelSDP, msg.Receiver, msg, r.registry.SDPChannel, func() (string, map[string]string, error) {
		return EventSDPPrefix + strings.ToLower(msg.Type), map[string]string{
			DataSDP:    msg.SDP,
			DataType:   msg.Type,
			DataSender: sender,
		}, nil
	})
}

// RelayICE forwards a batch of candidates from sender.
func (r *Relay) RelayICE(ctx context.Context, sender string, msg core.ICECandidates) (Outcome, error) {
	msg.Sender = sender

	return relay(ctx, r, core.ChannelICE, msg.Receiver, msg, r.registry.ICEChannel, func() (string, map[string]string, error) {
		candidates, err := json.Marshal(msg.Candidates)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode candidates: %w", err)
		}
		return EventICEExchange, map[string]string{
			DataICECandidates: string(candidates),
			DataSender:        sender,
		}, nil
	})
}

func relay[T any](
	ctx context.Context,
	r *Relay,
	kind core.ChannelKind,
	receiver string,
	msg T,
	live func(string) (session.Channel[T], bool),
	pushPayload func() (string, map[string]string, error),
) (outcome Outcome, err error) {
	defer func() { r.metrics.Relay(string(kind), outcome.String()) }()

	if receiver == "" {
		return Undeliverable, fmt.Errorf("%w: receiver must not be blank", core.ErrInvalidArgument)
	}

	var liveErr error
	if ch, ok := live(receiver); ok {
		if liveErr = ch.Send(msg); liveErr == nil {
			return Delivered, nil
		}
		r.logger.Debug("live send failed, trying push",
			zap.String("kind", string(kind)),
			zap.String("receiver", receiver),
			zap.Error(liveErr))
	}

	principal, err := r.principals.GetByUsername(ctx, receiver)
	if err != nil {
		return Undeliverable, errors.Join(liveErr, fmt.Errorf("receiver lookup: %w", err))
	}
	if principal.PushToken == "" {
		return Undeliverable, errors.Join(liveErr, fmt.Errorf("receiver %q is offline with no push token", receiver))
	}

	eventType, data, err := pushPayload()
	if err != nil {
		return Undeliverable, err
	}

	if _, err := r.push.Send(ctx, principal.PushToken, eventType, data); err != nil {
		if errors.Is(err, core.ErrPushTokenInvalid) {
			// Clear by value so a token rotated since the lookup survives.
			if clearErr := r.principals.ClearPushTokenValue(ctx, principal.PushToken); clearErr != nil {
				r.logger.Error("failed to clear invalid push token",
					zap.String("receiver", receiver),
					zap.Error(clearErr))
			} else {
				r.logger.Info("cleared invalid push token", zap.String("receiver", receiver))
			}
		}
		return Undeliverable, errors.Join(liveErr, err)
	}

	return Pushed, liveErr
}
