package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	domainRepos "easypay.backend/internal/domain/repositories"
	"easypay.backend/pkg/logger"
	"easypay.backend/pkg/redis"
)

// WebhookDeliverer is the slice of the dispatcher the worker needs.
type WebhookDeliverer interface {
	DeliverDueNow(ctx context.Context) error
	DeliverOne(ctx context.Context, id uuid.UUID) error
}

// Handlers owns the worker-side task implementations.
type Handlers struct {
	dispatcher WebhookDeliverer
	auditRepo  domainRepos.AuditLogRepository
}

// NewHandlers creates the task handler set.
func NewHandlers(dispatcher WebhookDeliverer, auditRepo domainRepos.AuditLogRepository) *Handlers {
	return &Handlers{dispatcher: dispatcher, auditRepo: auditRepo}
}

// Register wires every handler into the worker mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeWebhookDeliver, h.HandleWebhookDeliver)
	mux.HandleFunc(TypeCacheInvalidate, h.HandleCacheInvalidate)
	mux.HandleFunc(TypePaymentRecon, h.HandlePaymentReconcile)
	mux.HandleFunc(TypeAuditCleanup, h.HandleAuditCleanup)
}

// HandleWebhookDeliver runs one delivery sweep or a single targeted
// delivery.
func (h *Handlers) HandleWebhookDeliver(ctx context.Context, task *asynq.Task) error {
	var payload WebhookDeliverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", TypeWebhookDeliver, err)
	}
	if payload.WebhookID != nil {
		return h.dispatcher.DeliverOne(ctx, *payload.WebhookID)
	}
	return h.dispatcher.DeliverDueNow(ctx)
}

// HandleCacheInvalidate purges the carried keys and patterns. Failing here
// lets asynq retry, which is the whole point of deferring the purge.
func (h *Handlers) HandleCacheInvalidate(ctx context.Context, task *asynq.Task) error {
	var payload CacheInvalidatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", TypeCacheInvalidate, err)
	}

	for _, pattern := range payload.Patterns {
		var err error
		if containsGlob(pattern) {
			_, err = redis.InvalidatePattern(ctx, pattern)
		} else {
			err = redis.Del(ctx, pattern)
		}
		if err != nil {
			return fmt.Errorf("invalidate %q: %w", pattern, err)
		}
	}
	logger.Debug(ctx, "deferred cache invalidation applied", zap.Strings("patterns", payload.Patterns))
	return nil
}

// HandlePaymentReconcile surfaces a payment whose upstream and local state
// may have diverged. The engine already wrote the critical audit record;
// this makes the divergence visible to operators until it is resolved.
func (h *Handlers) HandlePaymentReconcile(ctx context.Context, task *asynq.Task) error {
	var payload PaymentReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", TypePaymentRecon, err)
	}

	logger.Error(ctx, "payment requires reconciliation",
		zap.String("payment_id", payload.PaymentID.String()),
		zap.String("processor_transaction_id", payload.ProcessorTransactionID),
		zap.String("operation", payload.Operation),
	)
	return nil
}

// HandleAuditCleanup deletes audit records past the retention horizon.
func (h *Handlers) HandleAuditCleanup(ctx context.Context, task *asynq.Task) error {
	var payload AuditCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", TypeAuditCleanup, err)
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = 90
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -payload.RetentionDays)
	deleted, err := h.auditRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("audit cleanup: %w", err)
	}
	logger.Info(ctx, "audit retention sweep finished",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff),
	)
	return nil
}

func containsGlob(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
