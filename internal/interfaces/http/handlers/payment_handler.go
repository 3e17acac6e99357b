package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"easypay.backend/internal/domain/entities"
	domainerrors "easypay.backend/internal/domain/errors"
	"easypay.backend/internal/interfaces/http/response"
	"easypay.backend/internal/usecases"
	"easypay.backend/pkg/utils"
)

// PaymentService is the engine surface the handler consumes.
type PaymentService interface {
	Create(ctx context.Context, input entities.CreatePaymentInput) (*entities.Payment, error)
	Charge(ctx context.Context, idOrExternal string, input usecases.ChargeInput) (*entities.Payment, error)
	Authorize(ctx context.Context, idOrExternal string, input usecases.ChargeInput) (*entities.Payment, error)
	Capture(ctx context.Context, idOrExternal string, input usecases.CaptureInput) (*entities.Payment, error)
	Refund(ctx context.Context, idOrExternal string, input entities.RefundInput) (*entities.Payment, error)
	Cancel(ctx context.Context, idOrExternal string, input entities.CancelInput) (*entities.Payment, error)
	Update(ctx context.Context, idOrExternal string, input entities.UpdatePaymentInput) (*entities.Payment, error)
	Get(ctx context.Context, idOrExternal string) (*entities.Payment, error)
	List(ctx context.Context, filter entities.ListPaymentsFilter, page utils.PaginationParams) ([]*entities.Payment, utils.PaginationMeta, error)
	Stats(ctx context.Context, filter entities.ListPaymentsFilter) (*entities.PaymentStats, error)
}

// PaymentHandler handles payment endpoints
type PaymentHandler struct {
	payments PaymentService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Create creates a new pending payment
// POST /api/v1/payments
func (h *PaymentHandler) Create(c *gin.Context) {
	var input entities.CreatePaymentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, domainerrors.Validation("invalid_body", err.Error()))
		return
	}

	payment, err := h.payments.Create(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, payment)
}

// Get returns a payment by UUID or external id
// GET /api/v1/payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, payment)
}

// Update mutates description and metadata
// PUT /api/v1/payments/:id
func (h *PaymentHandler) Update(c *gin.Context) {
	var input entities.UpdatePaymentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, domainerrors.Validation("invalid_body", err.Error()))
		return
	}

	payment, err := h.payments.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, payment)
}

// Capture finalizes a payment: full charge on pending, prior-auth capture
// on authorized
// POST /api/v1/payments/:id/capture
func (h *PaymentHandler) Capture(c *gin.Context) {
	var input usecases.CaptureInput
	if err := c.ShouldBindJSON(&input); err != nil && err.Error() != "EOF" {
		response.Error(c, domainerrors.Validation("invalid_body", err.Error()))
		return
	}

	payment, err := h.payments.Capture(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, payment)
}

// Authorize places a hold without capturing
// POST /api/v1/payments/:id/authorize
func (h *PaymentHandler) Authorize(c *gin.Context) {
	var input usecases.ChargeInput
	if err := c.ShouldBindJSON(&input); err != nil && err.Error() != "EOF" {
		response.Error(c, domainerrors.Validation("invalid_body", err.Error()))
		return
	}

	payment, err := h.payments.Authorize(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, payment)
}

// Refund returns money against a captured or settled payment
// POST /api/v1/payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	var input entities.RefundInput
	if err := c.ShouldBindJSON(&input); err != nil && err.Error() != "EOF" {
		response.Error(c, domainerrors.Validation("invalid_body", err.Error()))
		return
	}

	payment, err := h.payments.Refund(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, payment)
}

// Cancel voids a payment that has not captured
// POST /api/v1/payments/:id/cancel
func (h *PaymentHandler) Cancel(c *gin.Context) {
	var input entities.CancelInput
	if err := c.ShouldBindJSON(&input); err != nil && err.Error() != "EOF" {
		response.Error(c, domainerrors.Validation("invalid_body", err.Error()))
		return
	}

	payment, err := h.payments.Cancel(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, payment)
}

// List returns a filtered page of payments
// GET /api/v1/payments
func (h *PaymentHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	filter := entities.ListPaymentsFilter{
		CustomerID: c.Query("customer_id"),
		Status:     entities.PaymentStatus(c.Query("status")),
	}
	if v := c.Query("is_test"); v != "" {
		isTest := v == "true"
		filter.IsTest = &isTest
	}

	payments, meta, err := h.payments.List(c.Request.Context(), filter, utils.GetPaginationParams(page, perPage))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, payments, meta)
}

// Stats aggregates payment volumes
// GET /api/v1/payments/stats
func (h *PaymentHandler) Stats(c *gin.Context) {
	filter := entities.ListPaymentsFilter{
		CustomerID: c.Query("customer_id"),
		Status:     entities.PaymentStatus(c.Query("status")),
	}

	stats, err := h.payments.Stats(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}
