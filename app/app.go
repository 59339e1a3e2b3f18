package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/layer-3/rendezvous/adapters/crypto"
	"github.com/layer-3/rendezvous/adapters/events"
	"github.com/layer-3/rendezvous/adapters/push"
	"github.com/layer-3/rendezvous/adapters/store"
	"github.com/layer-3/rendezvous/adapters/tokenizer"
	"github.com/layer-3/rendezvous/config"
	"github.com/layer-3/rendezvous/metrics"
	"github.com/layer-3/rendezvous/ports"
	"github.com/layer-3/rendezvous/service"
	"github.com/layer-3/rendezvous/session"
	"github.com/layer-3/rendezvous/signaling"
	transport "github.com/layer-3/rendezvous/transport/http"
)

const shutdownTimeout = 10 * time.Second

// Application owns every long-lived component of the server.
type Application struct {
	cfg          *config.Config
	logger       *zap.Logger
	engine       *gin.Engine
	registry     *session.Registry
	reservations *service.NicknameReservationService
	redis        *redis.Client
	publisher    *events.WatermillPublisher
}

// New wires the components selected by cfg.
func New(ctx context.Context, cfg *config.Config, lg *zap.Logger) (*Application, error) {
	a := &Application{cfg: cfg, logger: lg}

	var (
		reg      prometheus.Registerer
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg, gatherer = promReg, promReg
	}
	var m *metrics.Metrics
	if reg != nil {
		var err error
		if m, err = metrics.New(reg); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	if cfg.UsesRedis() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			_ = a.redis.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	var (
		challenges   ports.ChallengeStore
		reservations ports.ReservationStore
		principals   ports.PrincipalRepository
	)
	switch cfg.Store.Backend {
	case config.BackendRedis:
		challenges = store.NewRedisChallengeStore(a.redis, cfg.Redis.Prefix)
		reservations = store.NewRedisReservationStore(a.redis, cfg.Redis.Prefix)
		principals = store.NewRedisPrincipalRepository(a.redis, cfg.Redis.Prefix)
	default:
		challenges = store.NewMemoryChallengeStore()
		reservations = store.NewMemoryReservationStore()
		principals = store.NewMemoryPrincipalRepository()
	}

	gateway, err := newPushGateway(ctx, cfg.Push, lg, m)
	if err != nil {
		a.close()
		return nil, err
	}

	tokens, err := tokenizer.NewJWTTokenizer([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, lg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init tokenizer: %w", err)
	}

	verifier := crypto.NewEd25519Verifier()
	a.reservations = service.NewNicknameReservationService(
		reservations, principals, cfg.Auth.ReservationTTL, cfg.Auth.ReservationSweepInterval, lg)
	auth := service.NewAuthService(
		service.NewChallengeAuthenticator(challenges, verifier, cfg.Auth.ChallengeTTL),
		a.reservations, principals, verifier, tokens, lg, m)

	a.registry, err = session.NewRegistry(cfg.Session.Timeout, cfg.Session.SweepInterval, lg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init session registry: %w", err)
	}
	a.registry.WithMetrics(m)

	if cfg.Events.Enabled {
		pub, err := events.NewRedisStreamPublisher(a.redis, lg)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		a.publisher = events.NewWatermillPublisher(pub, cfg.Events.Topic)
		a.registry.WithEvents(a.publisher)
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	a.engine = transport.SetupRouter(transport.Dependencies{
		Auth:              auth,
		Notifications:     service.NewNotificationService(gateway, principals, lg),
		Registry:          a.registry,
		Gate:              session.NewGate(a.registry, lg, m),
		Relay:             signaling.NewRelay(a.registry, principals, gateway, lg, m),
		KeepAliveInterval: cfg.Session.KeepAliveInterval,
		Gatherer:          gatherer,
		Metrics:           m,
		Health:            a.health,
		Logger:            lg,
	})

	return a, nil
}

func newPushGateway(ctx context.Context, cfg config.PushSettings, lg *zap.Logger, m *metrics.Metrics) (ports.PushGateway, error) {
	switch cfg.Provider {
	case config.PushFCM:
		client, err := push.NewFCMClient(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("init fcm: %w", err)
		}
		return push.NewFCMGateway(client, lg, m), nil
	default:
		return push.NewLogGateway(lg, m), nil
	}
}

func (a *Application) health(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Ping(ctx).Err()
}

// Run serves HTTP and runs the sweepers until ctx is cancelled, then shuts
// everything down.
func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.App.Addr(),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting rendezvous server",
			zap.String("env", a.cfg.App.Env),
			zap.String("address", srv.Addr),
			zap.String("store", a.cfg.Store.Backend),
			zap.String("push", a.cfg.Push.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("run server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.registry.Run(gctx)
	})

	g.Go(func() error {
		return a.reservations.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		// Live streams are hijacked connections that Shutdown does not wait
		// for, so sessions are closed explicitly.
		a.registry.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (a *Application) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close event publisher", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
