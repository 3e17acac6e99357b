package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"easypay.backend/internal/interfaces/http/response"
	"easypay.backend/pkg/logger"
)

// RecoveryMiddleware converts panics into the standard internal_error
// envelope. The panic value and stack go to the log, never to the client.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				response.Reject(c, http.StatusInternalServerError, "internal", "internal_error",
					fmt.Sprintf("internal server error (request %s)", c.GetString(RequestIDKey)))
			}
		}()
		c.Next()
	}
}
