package handlers

import (
	"github.com/gin-gonic/gin"

	domainerrors "easypay.backend/internal/domain/errors"
	"easypay.backend/internal/interfaces/http/response"
)

// SubscriptionHandler is the reserved recurring-billing surface. Routes
// exist so clients get a stable 501 rather than a 404.
type SubscriptionHandler struct{}

// NewSubscriptionHandler creates the placeholder handler
func NewSubscriptionHandler() *SubscriptionHandler {
	return &SubscriptionHandler{}
}

// NotImplemented responds 501 for every subscription route
func (h *SubscriptionHandler) NotImplemented(c *gin.Context) {
	response.Error(c, domainerrors.NotImplemented("recurring billing is not implemented"))
}
