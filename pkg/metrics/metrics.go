package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "easypay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "easypay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Payment lifecycle metrics
	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "easypay_payments_total",
			Help: "Payments by terminal operation outcome",
		},
		[]string{"operation", "status"},
	)

	// Upstream processor metrics
	ProcessorCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "easypay_processor_calls_total",
			Help: "Upstream processor calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	ProcessorCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "easypay_processor_call_duration_seconds",
			Help:    "Duration of upstream processor calls in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// Webhook delivery metrics
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "easypay_webhook_deliveries_total",
			Help: "Outbound webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	WebhookDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "easypay_webhook_delivery_duration_seconds",
			Help:    "Duration of outbound webhook delivery attempts in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Admission / queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "easypay_request_queue_depth",
			Help: "Queued requests per priority level",
		},
		[]string{"priority"},
	)

	QueueRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "easypay_request_queue_rejections_total",
			Help: "Requests rejected at admission by reason",
		},
		[]string{"reason"},
	)

	QueueTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "easypay_request_queue_timeouts_total",
			Help: "Queued requests that expired before a worker picked them up",
		},
	)

	RateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "easypay_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	// Circuit breaker state: 0 closed, 1 open, 2 half-open
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "easypay_circuit_breaker_state",
			Help: "Processor circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)
)

// Handler returns the /metrics endpoint handler
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware records request count and duration per route
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
