package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"easypay.backend/internal/interfaces/http/response"
	"easypay.backend/internal/usecases"
	"easypay.backend/pkg/logger"
	"easypay.backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	// lockDuration bounds how long a key stays reserved while the first
	// request is in flight.
	lockDuration = 30 * time.Second
	// retentionDuration is how long a completed response can be replayed.
	retentionDuration = 24 * time.Hour

	processingMarker = "processing"
)

type storedResponse struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

type bodyCapture struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key instead of performing the mutation twice. A concurrent
// request with the same key gets a conflict. Redis unavailability degrades
// to no idempotency protection rather than failing the request.
func IdempotencyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		identity := c.GetString(usecases.CtxAPIKeyID)
		storageKey := "idempotency:" + identity + ":" + key
		ctx := c.Request.Context()

		val, err := redis.Get(ctx, storageKey)
		switch {
		case err == nil && val == processingMarker:
			response.Reject(c, http.StatusConflict, "conflict", "idempotency_conflict", "a request with this idempotency key is in progress")
			return
		case err == nil:
			var stored storedResponse
			if jsonErr := json.Unmarshal([]byte(val), &stored); jsonErr == nil {
				c.Header("Content-Type", "application/json")
				c.Header("X-Idempotency-Replay", "true")
				c.String(stored.Status, stored.Body)
				c.Abort()
				return
			}
			// corrupt entry: fall through and overwrite
		case !redis.IsNil(err):
			logger.Warn(ctx, "idempotency lookup failed, proceeding without protection", zap.Error(err))
			c.Next()
			return
		}

		acquired, err := redis.SetNX(ctx, storageKey, processingMarker, lockDuration)
		if err != nil {
			logger.Warn(ctx, "idempotency lock failed, proceeding without protection", zap.Error(err))
			c.Next()
			return
		}
		if !acquired {
			response.Reject(c, http.StatusConflict, "conflict", "idempotency_conflict", "a request with this idempotency key is in progress")
			return
		}

		w := &bodyCapture{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := c.Writer.Status()
		if status >= 200 && status < 300 {
			raw, _ := json.Marshal(storedResponse{Status: status, Body: w.body.String()})
			if err := redis.Set(ctx, storageKey, string(raw), retentionDuration); err != nil {
				logger.Warn(ctx, "failed to store idempotent response", zap.Error(err))
			}
		} else {
			// release the key so the client can retry
			_ = redis.Del(ctx, storageKey)
		}
	}
}
