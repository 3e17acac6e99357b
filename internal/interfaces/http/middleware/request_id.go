package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"easypay.backend/internal/usecases"
)

const (
	RequestIDKey     = "request_id"
	CorrelationIDKey = "correlation_id"
)

// RequestIDMiddleware assigns every request a request id and a correlation
// id. The correlation id is taken from X-Correlation-ID when the caller
// supplied one, so downstream webhooks and audit records can be traced back
// across systems; otherwise it equals the request id.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = requestID
		}

		c.Set(RequestIDKey, requestID)
		c.Set(CorrelationIDKey, correlationID)
		c.Header("X-Request-ID", requestID)

		// String keys for compatibility with logger.WithContext and the
		// audit recorder.
		ctx := context.WithValue(c.Request.Context(), RequestIDKey, requestID)
		ctx = context.WithValue(ctx, CorrelationIDKey, correlationID)
		ctx = context.WithValue(ctx, usecases.CtxIPAddress, c.ClientIP())
		ctx = context.WithValue(ctx, usecases.CtxUserAgent, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
