package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// AuditAction enumerates recorded lifecycle actions.
type AuditAction string

const (
	AuditActionPaymentCreated        AuditAction = "payment.created"
	AuditActionPaymentAuthorized     AuditAction = "payment.authorized"
	AuditActionPaymentCaptured       AuditAction = "payment.captured"
	AuditActionPaymentSettled        AuditAction = "payment.settled"
	AuditActionPaymentDeclined       AuditAction = "payment.declined"
	AuditActionPaymentFailed         AuditAction = "payment.failed"
	AuditActionPaymentRefunded       AuditAction = "payment.refunded"
	AuditActionPaymentVoided         AuditAction = "payment.voided"
	AuditActionPaymentUpdated        AuditAction = "payment.updated"
	AuditActionPaymentReconciliation AuditAction = "payment.reconciliation_required"
	AuditActionWebhookDelivered      AuditAction = "webhook.delivered"
	AuditActionWebhookFailed         AuditAction = "webhook.failed"
	AuditActionWebhookExpired        AuditAction = "webhook.expired"
	AuditActionWebhookReceived       AuditAction = "webhook.received"
)

// AuditLevel is the severity of an audit record.
type AuditLevel string

const (
	AuditLevelInfo     AuditLevel = "info"
	AuditLevelWarning  AuditLevel = "warning"
	AuditLevelError    AuditLevel = "error"
	AuditLevelCritical AuditLevel = "critical"
)

// AuditLog is an append-only record of one lifecycle transition. Records are
// never updated and never deleted inside the retention window.
type AuditLog struct {
	ID      uuid.UUID   `json:"id"`
	Action  AuditAction `json:"action"`
	Level   AuditLevel  `json:"level"`
	Message string      `json:"message"`

	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	PaymentID  *uuid.UUID  `json:"payment_id,omitempty"`
	UserID     null.String `json:"user_id,omitempty"`
	APIKeyID   null.String `json:"api_key_id,omitempty"`

	IPAddress     null.String `json:"ip_address,omitempty"`
	UserAgent     null.String `json:"user_agent,omitempty"`
	RequestID     null.String `json:"request_id,omitempty"`
	CorrelationID null.String `json:"correlation_id,omitempty"`

	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	OldValues map[string]interface{} `json:"old_values,omitempty"`
	NewValues map[string]interface{} `json:"new_values,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ListAuditLogsFilter narrows audit log listing.
type ListAuditLogsFilter struct {
	PaymentID     *uuid.UUID
	Action        AuditAction
	Level         AuditLevel
	CorrelationID string
	RequestID     string
}
