package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"easypay.backend/internal/domain/entities"
	domainerrors "easypay.backend/internal/domain/errors"
	domainRepos "easypay.backend/internal/domain/repositories"
	"easypay.backend/internal/interfaces/http/response"
)

// SignatureHeader carries the processor's notification signature.
const SignatureHeader = "X-ANET-Signature"

// maxInboundBody bounds how much of an inbound notification is read.
const maxInboundBody = 1 << 20

// InboundWebhookService verifies and applies processor notifications.
type InboundWebhookService interface {
	Handle(ctx context.Context, body []byte, presented string) error
}

// WebhookHandler handles the inbound processor webhook and outbound
// delivery introspection.
type WebhookHandler struct {
	inbound  InboundWebhookService
	webhooks domainRepos.WebhookRepository
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(inbound InboundWebhookService, webhooks domainRepos.WebhookRepository) *WebhookHandler {
	return &WebhookHandler{inbound: inbound, webhooks: webhooks}
}

// AuthorizeNet receives processor notifications
// POST /api/v1/webhooks/authorize-net
func (h *WebhookHandler) AuthorizeNet(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInboundBody))
	if err != nil {
		response.Error(c, domainerrors.Validation("invalid_body", "failed to read request body"))
		return
	}

	if err := h.inbound.Handle(c.Request.Context(), body, c.GetHeader(SignatureHeader)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "accepted"})
}

// ListForPayment returns the delivery lineage of a payment's events
// GET /api/v1/payments/:id/webhooks
func (h *WebhookHandler) ListForPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.Validation("invalid_id", "payment id must be a UUID"))
		return
	}

	webhooks, err := h.webhooks.ListByPaymentID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, domainerrors.Database("failed to list webhooks", err))
		return
	}
	if webhooks == nil {
		webhooks = []*entities.Webhook{}
	}
	response.Success(c, http.StatusOK, gin.H{"webhooks": webhooks})
}
