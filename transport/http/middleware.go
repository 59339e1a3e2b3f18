package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/logger"
	"github.com/layer-3/rendezvous/metrics"
	"github.com/layer-3/rendezvous/service"
)

// Context keys set by RequireAuth.
const (
	SubjectKey     = "subject"
	PrincipalIDKey = "principal_id"
)

// RequireAuth validates the bearer token and stores its subject and
// principal id in the request context.
func RequireAuth(auth *service.AuthService, lg *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			respondError(c, lg, core.ErrUnauthenticated)
			return
		}

		claims, err := auth.ParseToken(token)
		if err != nil {
			respondError(c, lg, err)
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Set(PrincipalIDKey, claims.PrincipalID)

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// Subject returns the authenticated username.
func Subject(c *gin.Context) string {
	return c.GetString(SubjectKey)
}

// PrincipalID returns the authenticated principal id.
func PrincipalID(c *gin.Context) string {
	return c.GetString(PrincipalIDKey)
}

// Logger emits an access log line per request with the client IP masked.
func Logger(lg *zap.Logger) gin.HandlerFunc {
	if lg == nil {
		lg = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", logger.MaskIP(c.ClientIP())),
		}
		if subject := Subject(c); subject != "" {
			fields = append(fields, zap.String("subject", subject))
		}

		if len(c.Errors) > 0 {
			lg.Warn("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}

		lg.Info("request completed", fields...)
	}
}

// Metrics records request counts and latencies by route.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
