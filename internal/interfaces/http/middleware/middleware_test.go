package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easypay.backend/internal/infrastructure/queue"
	"easypay.backend/internal/interfaces/http/middleware"
	"easypay.backend/internal/usecases"
	"easypay.backend/pkg/crypto"
	"easypay.backend/pkg/ratelimit"
	"easypay.backend/pkg/redis"
	"easypay.backend/pkg/resilience"
	"easypay.backend/pkg/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func withMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	redis.SetClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	return mr
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// --- request id ---

func TestRequestIDMiddleware_GeneratesAndEchoes(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestIDMiddleware())
	var captured string
	r.GET("/x", func(c *gin.Context) {
		captured = c.GetString(middleware.RequestIDKey)
		c.Status(http.StatusOK)
	})

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_ReusesInboundHeader(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) {
		assert.Equal(t, "req-supplied", c.GetString(middleware.RequestIDKey))
		assert.Equal(t, "corr-supplied", c.GetString(middleware.CorrelationIDKey))
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-supplied")
	req.Header.Set("X-Correlation-ID", "corr-supplied")
	rec := serve(r, req)
	assert.Equal(t, "req-supplied", rec.Header().Get("X-Request-ID"))
}

// --- auth ---

func TestAPIKeyAuthMiddleware(t *testing.T) {
	hash, err := crypto.HashAPIKey("sk_test_valid")
	require.NoError(t, err)

	r := gin.New()
	r.Use(middleware.APIKeyAuthMiddleware(map[string]string{"key_1": hash}))
	r.GET("/x", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"key_id": c.GetString(usecases.CtxAPIKeyID)})
	})

	// missing key
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// wrong key
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(middleware.APIKeyHeader, "sk_test_wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	// valid key resolves to its identity
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(middleware.APIKeyHeader, "sk_test_valid")
	rec = serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "key_1")
}

func TestAPIKeyAuthMiddleware_NoKeysConfigured(t *testing.T) {
	r := gin.New()
	r.Use(middleware.APIKeyAuthMiddleware(nil))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

// --- admission ---

func admissionRouter(t *testing.T, breaker *resilience.CircuitBreaker, limiter *ratelimit.SlidingWindowLimiter) (*gin.Engine, *queue.RequestQueue) {
	t.Helper()
	q := queue.New(queue.Config{MaxQueueSize: 16, MaxWorkers: 2, RequestTimeout: 2 * time.Second})
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(), nil)
	}
	r := gin.New()
	r.Use(middleware.NewAdmission(q, breaker, limiter).Middleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/payments", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/v1/payments", func(c *gin.Context) { c.Status(http.StatusCreated) })
	return r, q
}

func TestAdmission_ServesThroughQueue(t *testing.T) {
	r, q := admissionRouter(t, nil, nil)
	defer shutdownQueue(t, q)

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)).Code)
	assert.Equal(t, http.StatusCreated, serve(r, httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)).Code)
}

func TestAdmission_BreakerOpenRejectsAPI(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1}, nil)
	breaker.RecordFailure()
	require.Equal(t, resilience.StateOpen, breaker.State())

	r, q := admissionRouter(t, breaker, nil)
	defer shutdownQueue(t, q)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// health bypasses admission entirely
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestAdmission_DrainingReturnsShuttingDown(t *testing.T) {
	r, q := admissionRouter(t, nil, nil)
	shutdownQueue(t, q)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "shutting_down")
}

func TestAdmission_RateLimitRejectsWithRetryAfter(t *testing.T) {
	limiter := ratelimit.NewSlidingWindowLimiter(ratelimit.Config{PerMinute: 2, PerHour: 100}, &utils.FakeClock{Current: time.Now()})
	defer limiter.Shutdown()

	r, q := admissionRouter(t, nil, limiter)
	defer shutdownQueue(t, q)

	req := func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil) }
	assert.Equal(t, http.StatusOK, serve(r, req()).Code)
	assert.Equal(t, http.StatusOK, serve(r, req()).Code)

	rec := serve(r, req())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body struct {
		Error struct {
			Type       string `json:"type"`
			RetryAfter int    `json:"retry_after"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit", body.Error.Type)
	assert.GreaterOrEqual(t, body.Error.RetryAfter, 1)
}

func TestAdmission_RateLimitWinsOverQueueFull(t *testing.T) {
	limiter := ratelimit.NewSlidingWindowLimiter(ratelimit.Config{PerMinute: 1, PerHour: 100}, &utils.FakeClock{Current: time.Now()})
	defer limiter.Shutdown()

	q := queue.New(queue.Config{MaxQueueSize: 1, MaxWorkers: 1, RequestTimeout: 2 * time.Second})
	defer shutdownQueue(t, q)

	// occupy the single worker and the only queue slot
	release := make(chan struct{})
	defer close(release)
	go q.Submit(context.Background(), queue.PriorityNormal, func() { <-release })
	require.Eventually(t, func() bool { return q.Load() >= 1 }, time.Second, 5*time.Millisecond)
	go q.Submit(context.Background(), queue.PriorityNormal, func() {})
	require.Eventually(t, func() bool { return q.Load() >= 2 }, time.Second, 5*time.Millisecond)

	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(), nil)
	r := gin.New()
	r.Use(middleware.NewAdmission(q, breaker, limiter).Middleware())
	r.GET("/api/v1/payments", func(c *gin.Context) { c.Status(http.StatusOK) })

	// spend the client's budget; httptest requests come from 192.0.2.1
	limiter.Allow("ip:192.0.2.1")

	// the limiter answers before the queue: 429, not 503 queue_full
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func shutdownQueue(t *testing.T, q *queue.RequestQueue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = q.Shutdown(ctx)
}

// --- idempotency ---

func idempotentRouter(handlerCalls *int) *gin.Engine {
	r := gin.New()
	r.POST("/pay", middleware.IdempotencyMiddleware(), func(c *gin.Context) {
		*handlerCalls++
		c.JSON(http.StatusCreated, gin.H{"n": *handlerCalls})
	})
	return r
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	withMiniredis(t)
	calls := 0
	r := idempotentRouter(&calls)

	req := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader("{}"))
		req.Header.Set(middleware.IdempotencyHeader, "idem-1")
		return req
	}

	first := serve(r, req())
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, 1, calls)

	second := serve(r, req())
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replay"))
	assert.Equal(t, 1, calls, "handler must not run twice")
}

func TestIdempotency_DistinctKeysAreIndependent(t *testing.T) {
	withMiniredis(t)
	calls := 0
	r := idempotentRouter(&calls)

	for i, key := range []string{"idem-a", "idem-b"} {
		req := httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader("{}"))
		req.Header.Set(middleware.IdempotencyHeader, key)
		serve(r, req)
		assert.Equal(t, i+1, calls)
	}
}

func TestIdempotency_InFlightKeyConflicts(t *testing.T) {
	mr := withMiniredis(t)
	calls := 0
	r := idempotentRouter(&calls)

	// simulate a concurrent request holding the lock
	require.NoError(t, mr.Set("idempotency::idem-busy", "processing"))

	req := httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader("{}"))
	req.Header.Set(middleware.IdempotencyHeader, "idem-busy")
	rec := serve(r, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 0, calls)
}

func TestIdempotency_ErrorResponsesAreNotStored(t *testing.T) {
	withMiniredis(t)
	r := gin.New()
	fail := true
	r.POST("/pay", middleware.IdempotencyMiddleware(), func(c *gin.Context) {
		if fail {
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	req := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader("{}"))
		req.Header.Set(middleware.IdempotencyHeader, "idem-err")
		return req
	}

	assert.Equal(t, http.StatusBadGateway, serve(r, req()).Code)

	// the failed attempt released the key, so a retry executes for real
	fail = false
	rec := serve(r, req())
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Idempotency-Replay"))
}

func TestIdempotency_RedisDownDegrades(t *testing.T) {
	mr := withMiniredis(t)
	mr.Close()

	calls := 0
	r := idempotentRouter(&calls)
	req := httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader("{}"))
	req.Header.Set(middleware.IdempotencyHeader, "idem-x")
	rec := serve(r, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, calls)
}
