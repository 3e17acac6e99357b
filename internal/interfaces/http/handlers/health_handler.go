package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"easypay.backend/internal/interfaces/http/response"
	"easypay.backend/pkg/redis"
)

// HealthHandler reports process and dependency health.
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health reports overall health including dependencies
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := h.pingDB(c); err != nil {
		checks["database"] = "unreachable: " + err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := redis.Ping(c.Request.Context()); err != nil {
		checks["redis"] = "unreachable: " + err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	response.Success(c, status, gin.H{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready reports whether the service can take traffic
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.pingDB(c); err != nil {
		response.Success(c, http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ready"})
}

// Live reports process liveness only
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"status": "alive"})
}

func (h *HealthHandler) pingDB(c *gin.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
