package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/metrics"
	"github.com/layer-3/rendezvous/service"
	"github.com/layer-3/rendezvous/session"
	"github.com/layer-3/rendezvous/signaling"
)

// Dependencies are the components the router exposes.
type Dependencies struct {
	Auth          *service.AuthService
	Notifications *service.NotificationService
	Registry      *session.Registry
	Gate          *session.Gate
	Relay         *signaling.Relay

	KeepAliveInterval time.Duration

	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics

	// Health reports whether backing services are reachable.
	Health func(ctx context.Context) error

	Logger *zap.Logger
}

// SetupRouter builds the gin engine with every route.
func SetupRouter(deps Dependencies) *gin.Engine {
	lg := deps.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), Logger(lg), Metrics(deps.Metrics))

	router.GET("/healthz", healthHandler(deps.Health))
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	handlers := NewHandlers(deps.Auth, deps.Notifications, deps.Registry, lg)
	streams := NewStreams(deps.Registry, deps.Gate, deps.Relay, deps.KeepAliveInterval, lg)
	requireAuth := RequireAuth(deps.Auth, lg)

	v1 := router.Group("/v1")

	auth := v1.Group("/auth")
	{
		auth.POST("/challenge", handlers.Challenge)
		auth.POST("/reserve", handlers.Reserve)
		auth.POST("/register", handlers.Register)
		auth.POST("/authenticate", handlers.Authenticate)
	}

	v1.POST("/notifications/send", handlers.SendNotification)

	protected := v1.Group("")
	protected.Use(requireAuth)
	{
		protected.POST("/push-token", handlers.UpdatePushToken)
		protected.POST("/disconnect", handlers.Disconnect)
		protected.POST("/notifications/peer", handlers.NotifyPeer)

		protected.GET("/streams/presence", streams.Presence)
		protected.GET("/streams/sdp", streams.SDP)
		protected.GET("/streams/ice", streams.ICE)
	}

	return router
}

func healthHandler(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
