package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"easypay.backend/internal/interfaces/http/handlers"
	"easypay.backend/internal/interfaces/http/middleware"
	"easypay.backend/pkg/metrics"
)

type routeDeps struct {
	paymentHandler      *handlers.PaymentHandler
	webhookHandler      *handlers.WebhookHandler
	auditHandler        *handlers.AuditHandler
	subscriptionHandler *handlers.SubscriptionHandler
	authMiddleware      gin.HandlerFunc
}

func registerAPIV1Routes(r *gin.Engine, d routeDeps) {
	v1 := r.Group("/api/v1")
	{
		// Processor notifications (signature-authenticated, no API key)
		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/authorize-net", d.webhookHandler.AuthorizeNet)
		}

		// Payment routes (protected)
		payments := v1.Group("/payments")
		payments.Use(d.authMiddleware)
		{
			payments.POST("", middleware.IdempotencyMiddleware(), d.paymentHandler.Create)
			payments.GET("", d.paymentHandler.List)
			payments.GET("/stats", d.paymentHandler.Stats)
			payments.GET("/:id", d.paymentHandler.Get)
			payments.PUT("/:id", d.paymentHandler.Update)
			payments.POST("/:id/capture", middleware.IdempotencyMiddleware(), d.paymentHandler.Capture)
			payments.POST("/:id/authorize", middleware.IdempotencyMiddleware(), d.paymentHandler.Authorize)
			payments.POST("/:id/refund", middleware.IdempotencyMiddleware(), d.paymentHandler.Refund)
			payments.POST("/:id/cancel", middleware.IdempotencyMiddleware(), d.paymentHandler.Cancel)
			payments.GET("/:id/webhooks", d.webhookHandler.ListForPayment)
			payments.GET("/:id/audit", d.auditHandler.ListForPayment)
		}

		// Audit trail (protected)
		auditLogs := v1.Group("/audit-logs")
		auditLogs.Use(d.authMiddleware)
		{
			auditLogs.GET("", d.auditHandler.List)
		}

		// Recurring billing is a reserved surface
		subscriptions := v1.Group("/subscriptions")
		subscriptions.Use(d.authMiddleware)
		{
			subscriptions.POST("", d.subscriptionHandler.NotImplemented)
			subscriptions.GET("", d.subscriptionHandler.NotImplemented)
			subscriptions.GET("/:id", d.subscriptionHandler.NotImplemented)
			subscriptions.PUT("/:id", d.subscriptionHandler.NotImplemented)
			subscriptions.DELETE("/:id", d.subscriptionHandler.NotImplemented)
		}
	}
}

func registerHealthRoutes(r *gin.Engine, h *handlers.HealthHandler) {
	r.GET("/health", h.Health)
	r.GET("/health/ready", h.Ready)
	r.GET("/health/live", h.Live)
	r.GET("/metrics", metrics.Handler())
}

func applyCORSMiddleware(r *gin.Engine, origins []string) {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	r.Use(func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID, X-Correlation-ID, Idempotency-Key")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
}
