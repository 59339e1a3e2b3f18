package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/layer-3/rendezvous/core"
)

// ErrorResponse is the body of every failed unary call.
type ErrorResponse struct {
	Error string `json:"error"`
}

type errorCase struct {
	kind   error
	status int
}

// Order matters: push errors are checked before the generic kinds.
var errorCases = []errorCase{
	{core.ErrPushTokenInvalid, http.StatusPreconditionFailed},
	{core.ErrPushUnavailable, http.StatusServiceUnavailable},
	{core.ErrInvalidArgument, http.StatusBadRequest},
	{core.ErrUnauthenticated, http.StatusUnauthorized},
	{core.ErrNotFound, http.StatusNotFound},
	{core.ErrAlreadyExists, http.StatusConflict},
	{core.ErrFailedPrecondition, http.StatusPreconditionFailed},
}

// statusFor maps an error kind onto an HTTP status and the generic message
// the caller is allowed to see.
func statusFor(err error) (int, string) {
	for _, ec := range errorCases {
		if errors.Is(err, ec.kind) {
			return ec.status, ec.kind.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}

// respondError writes the mapped status. The underlying cause is logged only.
func respondError(c *gin.Context, lg *zap.Logger, err error) {
	status, message := statusFor(err)

	if status >= http.StatusInternalServerError {
		lg.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		lg.Debug("request rejected", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message})
}
