package tasks

import (
	"context"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"easypay.backend/pkg/logger"
)

// Enqueuer submits background tasks to the worker through Redis.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer creates an Enqueuer for the given Redis address.
func NewEnqueuer(redisAddr, redisPassword string) *Enqueuer {
	return &Enqueuer{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: redisPassword,
		}),
	}
}

// Close releases the underlying Redis connections.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// EnqueueWebhookDeliver schedules a delivery sweep, optionally scoped to a
// single webhook.
func (e *Enqueuer) EnqueueWebhookDeliver(ctx context.Context, webhookID *uuid.UUID) error {
	task, err := NewWebhookDeliverTask(WebhookDeliverPayload{WebhookID: webhookID})
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task)
}

// EnqueueCacheInvalidate schedules a deferred cache purge.
func (e *Enqueuer) EnqueueCacheInvalidate(ctx context.Context, patterns ...string) error {
	task, err := NewCacheInvalidateTask(patterns)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task)
}

// EnqueuePaymentReconcile flags a payment for manual reconciliation.
func (e *Enqueuer) EnqueuePaymentReconcile(ctx context.Context, paymentID uuid.UUID, processorTxnID, operation string) error {
	task, err := NewPaymentReconcileTask(PaymentReconcilePayload{
		PaymentID:              paymentID,
		ProcessorTransactionID: processorTxnID,
		Operation:              operation,
	})
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task)
}

// EnqueueAuditCleanup schedules a retention sweep.
func (e *Enqueuer) EnqueueAuditCleanup(ctx context.Context, retentionDays int) error {
	task, err := NewAuditCleanupTask(retentionDays)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task)
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task) error {
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	logger.Debug(ctx, "task enqueued",
		zap.String("type", task.Type()),
		zap.String("queue", info.Queue),
		zap.String("task_id", info.ID),
	)
	return nil
}
