package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/logger"
	"github.com/layer-3/rendezvous/metrics"
)

// Gate authorizes SDP and ICE streams by the session key of an open
// presence session.
type Gate struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewGate(registry *Registry, lg *zap.Logger, m *metrics.Metrics) *Gate {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Gate{registry: registry, logger: lg.Named("gate"), metrics: m}
}

// Admission is the gate's decision for one stream.
type Admission struct {
	Principal string
	Approved  bool
}

// AdmitSDP checks key and, when approved, registers ch as the principal's
// SDP channel. subject is the bearer token subject; a key owned by anyone
// else is denied.
func (g *Gate) AdmitSDP(key, subject string, ch SDPChannel) Admission {
	return g.admit(core.ChannelSDP, key, subject, func() (string, error) {
		return g.registry.AttachSDPChannelByKey(key, subject, ch)
	})
}

// AdmitICE is AdmitSDP for ICE streams.
func (g *Gate) AdmitICE(key, subject string, ch ICEChannel) Admission {
	return g.admit(core.ChannelICE, key, subject, func() (string, error) {
		return g.registry.AttachICEChannelByKey(key, subject, ch)
	})
}

func (g *Gate) admit(kind core.ChannelKind, key, subject string, attach func() (string, error)) Admission {
	principal, err := attach()
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		g.deny(kind, subject, "unknown session key", zap.String("key", logger.MaskSecret(key)))
		return Admission{}
	case errors.Is(err, errForeignSessionKey):
		g.deny(kind, subject, "session key belongs to another principal", zap.String("owner", principal))
		return Admission{}
	case err != nil:
		g.deny(kind, subject, "channel registration failed", zap.Error(err))
		return Admission{}
	}

	g.metrics.StreamDecision(string(kind), true)
	g.logger.Debug("stream approved", zap.String("kind", string(kind)), zap.String("principal", principal))
	return Admission{Principal: principal, Approved: true}
}

func (g *Gate) deny(kind core.ChannelKind, subject, reason string, fields ...zap.Field) {
	g.metrics.StreamDecision(string(kind), false)
	g.logger.Warn("stream denied", append([]zap.Field{
		zap.String("kind", string(kind)),
		zap.String("subject", subject),
		zap.String("reason", reason),
	}, fields...)...)
}

// Dropped logs a payload that arrived on a stream the gate did not approve.
func (g *Gate) Dropped(kind core.ChannelKind, subject string) {
	g.logger.Warn("payload on unauthorized stream dropped",
		zap.String("kind", string(kind)),
		zap.String("subject", subject))
}
