package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"easypay.backend/internal/domain/entities"
	domainerrors "easypay.backend/internal/domain/errors"
	domainRepos "easypay.backend/internal/domain/repositories"
	"easypay.backend/internal/interfaces/http/response"
	"easypay.backend/pkg/utils"
)

// AuditHandler exposes the read-only audit trail.
type AuditHandler struct {
	logs domainRepos.AuditLogRepository
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(logs domainRepos.AuditLogRepository) *AuditHandler {
	return &AuditHandler{logs: logs}
}

// ListForPayment returns the audit trail of one payment
// GET /api/v1/payments/:id/audit
func (h *AuditHandler) ListForPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.Validation("invalid_id", "payment id must be a UUID"))
		return
	}

	h.list(c, entities.ListAuditLogsFilter{PaymentID: &id})
}

// List returns audit entries filtered by action, level or correlation id
// GET /api/v1/audit-logs
func (h *AuditHandler) List(c *gin.Context) {
	filter := entities.ListAuditLogsFilter{
		Action:        entities.AuditAction(c.Query("action")),
		Level:         entities.AuditLevel(c.Query("level")),
		CorrelationID: c.Query("correlation_id"),
		RequestID:     c.Query("request_id"),
	}
	h.list(c, filter)
}

func (h *AuditHandler) list(c *gin.Context, filter entities.ListAuditLogsFilter) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	params := utils.GetPaginationParams(page, perPage)

	logs, total, err := h.logs.List(c.Request.Context(), filter, params.Limit, params.CalculateOffset())
	if err != nil {
		response.Error(c, domainerrors.Database("failed to list audit logs", err))
		return
	}
	if logs == nil {
		logs = []*entities.AuditLog{}
	}
	response.List(c, logs, utils.CalculateMeta(total, params.Page, params.Limit))
}
