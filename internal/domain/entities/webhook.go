package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// WebhookStatus represents the delivery state of an outbound webhook.
type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusDelivered WebhookStatus = "delivered"
	WebhookStatusFailed    WebhookStatus = "failed"
	WebhookStatusRetrying  WebhookStatus = "retrying"
	WebhookStatusExpired   WebhookStatus = "expired"
)

// WebhookEventType enumerates the outbound event types.
type WebhookEventType string

const (
	WebhookEventPaymentCreated  WebhookEventType = "payment.created"
	WebhookEventPaymentCaptured WebhookEventType = "payment.captured"
	WebhookEventPaymentFailed   WebhookEventType = "payment.failed"
	WebhookEventPaymentRefunded WebhookEventType = "payment.refunded"
	WebhookEventPaymentVoided   WebhookEventType = "payment.voided"
	WebhookEventPaymentSettled  WebhookEventType = "payment.settled"
)

// Webhook is one outbound delivery lineage: the row doubles as the outbox
// entry (written in the same transaction as the payment mutation) and the
// retry queue entry.
type Webhook struct {
	ID        uuid.UUID        `json:"id"`
	EventID   string           `json:"event_id"`
	EventType WebhookEventType `json:"event_type"`
	PaymentID *uuid.UUID       `json:"payment_id,omitempty"`

	URL       string            `json:"url"`
	Payload   json.RawMessage   `json:"payload"`
	Signature string            `json:"signature"`
	Headers   map[string]string `json:"headers,omitempty"`

	Status      WebhookStatus `json:"status"`
	RetryCount  int           `json:"retry_count"`
	MaxRetries  int           `json:"max_retries"`
	NextRetryAt *time.Time    `json:"next_retry_at,omitempty"`

	ResponseStatus null.Int    `json:"response_status,omitempty"`
	ResponseBody   null.String `json:"response_body,omitempty"`

	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Terminal reports whether the delivery lineage is finished.
func (w *Webhook) Terminal() bool {
	return w.Status == WebhookStatusDelivered ||
		w.Status == WebhookStatusExpired ||
		w.Status == WebhookStatusFailed
}

// WebhookEvent is the wire body posted to the destination.
type WebhookEvent struct {
	EventID   string                 `json:"event_id"`
	EventType WebhookEventType       `json:"event_type"`
	CreatedAt time.Time              `json:"created_at"`
	Data      map[string]interface{} `json:"data"`
}
