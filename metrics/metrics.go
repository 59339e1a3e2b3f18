package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rendezvous"

// Relay outcomes.
const (
	OutcomeDelivered     = "delivered"
	OutcomePushed        = "pushed"
	OutcomeUndeliverable = "undeliverable"
)

// Push results.
const (
	PushSent         = "sent"
	PushInvalidToken = "invalid_token"
	PushFailed       = "failed"
)

// Metrics holds every collector the service exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	SessionsActive     prometheus.Gauge
	SessionsOpened     prometheus.Counter
	SessionsClosed     *prometheus.CounterVec
	PresenceBroadcasts prometheus.Counter
	BroadcastFailures  prometheus.Counter
	RelayMessages      *prometheus.CounterVec
	PushResults        *prometheus.CounterVec
	AuthAttempts       *prometheus.CounterVec
	StreamAuth         *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New constructs the collectors and registers them with reg. A nil reg
// means prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of principals with a live presence session.",
		}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "opened_total",
			Help:      "Sessions created, replacements included.",
		}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "closed_total",
			Help:      "Sessions removed partitioned by reason.",
		}, []string{"reason"}),
		PresenceBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "presence_broadcasts_total",
			Help:      "Presence list broadcasts.",
		}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "presence_delivery_failures_total",
			Help:      "Presence deliveries that failed for a single recipient.",
		}),
		RelayMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Signaling messages relayed partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),
		PushResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "results_total",
			Help:      "Push gateway results partitioned by provider and result.",
		}, []string{"provider", "result"}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Authentication operations partitioned by operation and result.",
		}, []string{"operation", "result"}),
		StreamAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "authorizations_total",
			Help:      "Stream gate decisions partitioned by kind and decision.",
		}, []string{"kind", "decision"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests partitioned by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	if err := register(reg, &m.SessionsActive); err != nil {
		return nil, err
	}
	if err := register(reg, &m.SessionsOpened); err != nil {
		return nil, err
	}
	if err := register(reg, &m.SessionsClosed); err != nil {
		return nil, err
	}
	if err := register(reg, &m.PresenceBroadcasts); err != nil {
		return nil, err
	}
	if err := register(reg, &m.BroadcastFailures); err != nil {
		return nil, err
	}
	if err := register(reg, &m.RelayMessages); err != nil {
		return nil, err
	}
	if err := register(reg, &m.PushResults); err != nil {
		return nil, err
	}
	if err := register(reg, &m.AuthAttempts); err != nil {
		return nil, err
	}
	if err := register(reg, &m.StreamAuth); err != nil {
		return nil, err
	}
	if err := register(reg, &m.HTTPRequests); err != nil {
		return nil, err
	}
	if err := register(reg, &m.HTTPDuration); err != nil {
		return nil, err
	}

	return m, nil
}

// register adds c to reg, reusing an identical collector that is already
// registered so tests and restarts within one process share state.
func register[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		*c = existing
	}
	return nil
}

func (m *Metrics) SessionOpened(active int) {
	if m == nil {
		return
	}
	m.SessionsOpened.Inc()
	m.SessionsActive.Set(float64(active))
}

func (m *Metrics) SessionClosed(reason string, active int) {
	if m == nil {
		return
	}
	m.SessionsClosed.WithLabelValues(reason).Inc()
	m.SessionsActive.Set(float64(active))
}

func (m *Metrics) PresenceBroadcast() {
	if m == nil {
		return
	}
	m.PresenceBroadcasts.Inc()
}

func (m *Metrics) PresenceDeliveryFailed() {
	if m == nil {
		return
	}
	m.BroadcastFailures.Inc()
}

func (m *Metrics) Relay(kind, outcome string) {
	if m == nil {
		return
	}
	m.RelayMessages.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Push(provider, result string) {
	if m == nil {
		return
	}
	m.PushResults.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Auth(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AuthAttempts.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) StreamDecision(kind string, approved bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if approved {
		decision = "approved"
	}
	m.StreamAuth.WithLabelValues(kind, decision).Inc()
}

func (m *Metrics) HTTPRequest(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}
