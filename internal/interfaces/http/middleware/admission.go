package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	domainerrors "easypay.backend/internal/domain/errors"
	"easypay.backend/internal/infrastructure/queue"
	"easypay.backend/internal/interfaces/http/response"
	"easypay.backend/pkg/metrics"
	"easypay.backend/pkg/ratelimit"
	"easypay.backend/pkg/resilience"
)

// Admission implements the request gate in front of the handler chain:
// shutdown, circuit-breaker and rate-limit rejections first, then
// prioritized queuing with backpressure. Rate-limited clients are turned
// away before they can consume a queue slot or a worker.
type Admission struct {
	queue   *queue.RequestQueue
	breaker *resilience.CircuitBreaker
	limiter *ratelimit.SlidingWindowLimiter
}

// NewAdmission creates the gate. limiter may be nil to disable rate
// limiting.
func NewAdmission(q *queue.RequestQueue, breaker *resilience.CircuitBreaker, limiter *ratelimit.SlidingWindowLimiter) *Admission {
	return &Admission{queue: q, breaker: breaker, limiter: limiter}
}

// bypassed paths skip the queue entirely.
func bypassed(path string) bool {
	return path == "/metrics" || path == "/health" || strings.HasPrefix(path, "/health/")
}

// priorityFor classifies a route: payment-mutating POSTs are critical,
// payment reads high, other API traffic normal, everything else low.
func priorityFor(method, path string) queue.Priority {
	switch {
	case strings.HasPrefix(path, "/api/v1/payments"):
		if method == http.MethodPost || method == http.MethodPut {
			return queue.PriorityCritical
		}
		return queue.PriorityHigh
	case strings.HasPrefix(path, "/api/v1/"):
		return queue.PriorityNormal
	default:
		return queue.PriorityLow
	}
}

// Middleware applies the admission rules and runs the rest of the chain
// through the worker pool. Submit blocks the connection goroutine until a
// worker has run the request, so the gin context is never touched by two
// goroutines at once.
func (a *Admission) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if bypassed(path) {
			c.Next()
			return
		}

		if a.queue.Draining() {
			metrics.QueueRejectionsTotal.WithLabelValues("shutting_down").Inc()
			response.Reject(c, http.StatusServiceUnavailable, "external_service", "shutting_down", "server is shutting down")
			return
		}

		if a.breaker.State() == resilience.StateOpen {
			metrics.QueueRejectionsTotal.WithLabelValues("circuit_open").Inc()
			response.Reject(c, http.StatusServiceUnavailable, "external_service", "service_unavailable", "payment processor temporarily unavailable")
			return
		}

		if a.limiter != nil {
			// admission runs before API-key auth, so identity is the
			// client address
			result := a.limiter.Allow("ip:" + c.ClientIP())
			if !result.Allowed {
				metrics.RateLimitRejectionsTotal.Inc()
				response.Error(c, domainerrors.RateLimit("rate limit exceeded", int(result.RetryAfter.Seconds())))
				return
			}
		}

		priority := priorityFor(c.Request.Method, path)

		// Critical traffic skips the queue under backpressure rather than
		// competing for slots with reads.
		if priority == queue.PriorityCritical && a.queue.Load()*10 >= a.queue.Capacity()*9 {
			a.queue.Serve(func() { c.Next() })
			return
		}

		err := a.queue.Submit(c.Request.Context(), priority, func() { c.Next() })
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrQueueFull):
			metrics.QueueRejectionsTotal.WithLabelValues("queue_full").Inc()
			response.Reject(c, http.StatusServiceUnavailable, "external_service", "queue_full", "server is overloaded, retry later")
		case errors.Is(err, queue.ErrTimeout):
			metrics.QueueRejectionsTotal.WithLabelValues("timeout").Inc()
			response.Reject(c, http.StatusGatewayTimeout, "external_service", "timeout", "request timed out waiting for a worker")
		case errors.Is(err, queue.ErrShuttingDown):
			metrics.QueueRejectionsTotal.WithLabelValues("shutting_down").Inc()
			response.Reject(c, http.StatusServiceUnavailable, "external_service", "shutting_down", "server is shutting down")
		default:
			response.Reject(c, http.StatusInternalServerError, "internal", "internal_error", "admission failed")
		}
	}
}
