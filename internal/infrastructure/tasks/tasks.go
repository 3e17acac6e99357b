package tasks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names. The worker mux routes on these.
const (
	TypeWebhookDeliver  = "webhook:deliver"
	TypeCacheInvalidate = "cache:invalidate"
	TypePaymentRecon    = "payment:reconcile"
	TypeAuditCleanup    = "audit:cleanup"
)

// Queue names by urgency.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// WebhookDeliverPayload asks the worker to run one delivery sweep. When
// WebhookID is set, only that lineage is attempted.
type WebhookDeliverPayload struct {
	WebhookID *uuid.UUID `json:"webhook_id,omitempty"`
}

// CacheInvalidatePayload carries keys or glob patterns to purge.
type CacheInvalidatePayload struct {
	Patterns []string `json:"patterns"`
}

// PaymentReconcilePayload flags a payment whose processor state and local
// state may have diverged after a commit failure.
type PaymentReconcilePayload struct {
	PaymentID              uuid.UUID `json:"payment_id"`
	ProcessorTransactionID string    `json:"processor_transaction_id"`
	Operation              string    `json:"operation"`
}

// AuditCleanupPayload carries the retention horizon.
type AuditCleanupPayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewWebhookDeliverTask builds the delivery sweep task.
func NewWebhookDeliverTask(payload WebhookDeliverPayload) (*asynq.Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeWebhookDeliver, raw,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	), nil
}

// NewCacheInvalidateTask builds a deferred invalidation task.
func NewCacheInvalidateTask(patterns []string) (*asynq.Task, error) {
	raw, err := json.Marshal(CacheInvalidatePayload{Patterns: patterns})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCacheInvalidate, raw,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Second),
	), nil
}

// NewPaymentReconcileTask builds a reconciliation task.
func NewPaymentReconcileTask(payload PaymentReconcilePayload) (*asynq.Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePaymentRecon, raw,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
	), nil
}

// NewAuditCleanupTask builds the retention sweep task.
func NewAuditCleanupTask(retentionDays int) (*asynq.Task, error) {
	raw, err := json.Marshal(AuditCleanupPayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAuditCleanup, raw,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(2),
		asynq.Timeout(5*time.Minute),
	), nil
}
