package usecases

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"easypay.backend/internal/domain/entities"
	domainerrors "easypay.backend/internal/domain/errors"
	"easypay.backend/pkg/logger"
	"easypay.backend/pkg/signature"
)

// Authorize.net notification event types we act on. Everything else is
// acknowledged and recorded but otherwise ignored.
const (
	anetEventCaptured     = "net.authorize.payment.capture.created"
	anetEventSettled      = "net.authorize.payment.priorAuthCapture.created"
	anetEventFraudApprove = "net.authorize.payment.fraud.approved"
	anetEventFraudDecline = "net.authorize.payment.fraud.declined"
)

// anetNotification is the envelope Authorize.net POSTs to merchants.
type anetNotification struct {
	NotificationID string `json:"notificationId"`
	EventType      string `json:"eventType"`
	EventDate      string `json:"eventDate"`
	Payload        struct {
		ID           string      `json:"id"` // processor transaction id
		ResponseCode int         `json:"responseCode"`
		AuthAmount   json.Number `json:"authAmount"`
		EntityName   string      `json:"entityName"`
	} `json:"payload"`
}

// SettlementMarker marks captured payments settled. Implemented by
// PaymentUseCase.
type SettlementMarker interface {
	Settle(ctx context.Context, processorTxnID string) (*entities.Payment, error)
}

// InboundWebhookUseCase handles processor notifications: signature
// verification over the raw body, then event-specific payment updates.
type InboundWebhookUseCase struct {
	payments SettlementMarker
	audit    *AuditRecorder
	secret   string
}

// NewInboundWebhookUseCase creates the handler.
func NewInboundWebhookUseCase(payments SettlementMarker, audit *AuditRecorder, secret string) *InboundWebhookUseCase {
	return &InboundWebhookUseCase{payments: payments, audit: audit, secret: secret}
}

// Handle verifies and processes one notification. body is the raw request
// body; presented is the X-ANET-Signature header value.
func (u *InboundWebhookUseCase) Handle(ctx context.Context, body []byte, presented string) error {
	if !signature.VerifySHA512(u.secret, body, presented) {
		return domainerrors.Authentication("webhook signature verification failed")
	}

	var n anetNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return domainerrors.Validation("invalid_payload", "notification body is not valid JSON")
	}

	_ = u.audit.Record(ctx, AuditEntry{
		Action:     entities.AuditActionWebhookReceived,
		Message:    "processor notification " + n.EventType,
		EntityType: "webhook",
		EntityID:   n.NotificationID,
		Metadata: map[string]interface{}{
			"event_type":               n.EventType,
			"processor_transaction_id": n.Payload.ID,
		},
	})

	switch n.EventType {
	case anetEventCaptured, anetEventSettled:
		return u.settle(ctx, n)
	case anetEventFraudApprove, anetEventFraudDecline:
		// Fraud scoring is not enforced; the received record above is the
		// full extent of the handling.
		logger.Info(ctx, "processor fraud notification recorded",
			zap.String("event_type", n.EventType),
			zap.String("transaction_id", n.Payload.ID),
		)
		return nil
	default:
		logger.Debug(ctx, "ignoring processor notification",
			zap.String("event_type", n.EventType),
		)
		return nil
	}
}

func (u *InboundWebhookUseCase) settle(ctx context.Context, n anetNotification) error {
	if n.Payload.ID == "" {
		return domainerrors.Validation("invalid_payload", "notification carries no transaction id")
	}

	_, err := u.payments.Settle(ctx, n.Payload.ID)
	if err == nil {
		return nil
	}

	// Unknown transactions and already-settled payments are acknowledged:
	// the processor retries on non-2xx and neither condition will change.
	var ce *domainerrors.CoreError
	if errors.As(err, &ce) && (ce.Kind == domainerrors.KindNotFound || ce.Kind == domainerrors.KindConflict) {
		logger.Warn(ctx, "settlement notification did not apply",
			zap.String("transaction_id", n.Payload.ID),
			zap.String("reason", ce.Message),
		)
		return nil
	}
	return err
}
