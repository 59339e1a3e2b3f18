package push

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/logger"
	"github.com/layer-3/rendezvous/metrics"
	"github.com/layer-3/rendezvous/ports"
)

const providerLog = "log"

// LogGateway accepts every push and only logs it. It stands in for FCM when
// no credentials are configured.
type LogGateway struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewLogGateway(lg *zap.Logger, m *metrics.Metrics) *LogGateway {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &LogGateway{logger: lg.Named("push"), metrics: m}
}

var _ ports.PushGateway = (*LogGateway)(nil)

func (g *LogGateway) Send(ctx context.Context, token, eventType string, data map[string]string) (string, error) {
	id := uuid.NewString()
	g.metrics.Push(providerLog, metrics.PushSent)
	g.logger.Info("push to device",
		zap.String("token", logger.MaskSecret(token)),
		zap.String("event_type", eventType),
		zap.Int("fields", len(data)),
		zap.String("message_id", id))
	return id, nil
}

func (g *LogGateway) SendToTopic(ctx context.Context, topic, eventType string, data map[string]string) (string, error) {
	id := uuid.NewString()
	g.metrics.Push(providerLog, metrics.PushSent)
	g.logger.Info("push to topic",
		zap.String("topic", topic),
		zap.String("event_type", eventType),
		zap.Int("fields", len(data)),
		zap.String("message_id", id))
	return id, nil
}
