package usecases

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"easypay.backend/internal/domain/entities"
	domainerrors "easypay.backend/internal/domain/errors"
	domainRepos "easypay.backend/internal/domain/repositories"
	"easypay.backend/pkg/logger"
	"easypay.backend/pkg/metrics"
	"easypay.backend/pkg/resilience"
	"easypay.backend/pkg/signature"
	"easypay.backend/pkg/utils"
)

const (
	// responseBodyLimit bounds how much of the destination's response is
	// persisted per attempt.
	responseBodyLimit = 1024

	defaultWebhookTimeout = 30 * time.Second
	defaultMaxRetries     = 5
	defaultClaimBatch     = 50
)

// DispatcherConfig configures outbound delivery.
type DispatcherConfig struct {
	TargetURL  string
	Secret     string
	MaxRetries int
	Timeout    time.Duration
	ClaimBatch int
}

// WebhookDispatcher owns the Webhook delivery lifecycle: rows are written
// as an outbox inside the caller's transaction, then delivered at-least-once
// with signed payloads and exponential retry.
type WebhookDispatcher struct {
	webhookRepo domainRepos.WebhookRepository
	uow         domainRepos.UnitOfWork
	audit       *AuditRecorder
	httpClient  *http.Client
	backoff     resilience.BackoffStrategy
	clock       utils.Clock
	cfg         DispatcherConfig
}

// NewWebhookDispatcher creates the dispatcher.
func NewWebhookDispatcher(
	webhookRepo domainRepos.WebhookRepository,
	uow domainRepos.UnitOfWork,
	audit *AuditRecorder,
	cfg DispatcherConfig,
) *WebhookDispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = defaultClaimBatch
	}
	return &WebhookDispatcher{
		webhookRepo: webhookRepo,
		uow:         uow,
		audit:       audit,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		backoff:     resilience.WebhookBackoff(),
		clock:       utils.NewClock(),
		cfg:         cfg,
	}
}

// SetClock overrides the clock (used for testing)
func (d *WebhookDispatcher) SetClock(clock utils.Clock) {
	d.clock = clock
}

// Enqueue writes the outbox row for an event. Joins the caller's
// transaction, so the row commits atomically with the payment mutation.
// Delivery happens asynchronously once the row is due (immediately).
func (d *WebhookDispatcher) Enqueue(ctx context.Context, eventType entities.WebhookEventType, paymentID *uuid.UUID, data map[string]interface{}) (*entities.Webhook, error) {
	now := d.clock.Now()
	event := entities.WebhookEvent{
		EventID:   utils.GenerateEventID(),
		EventType: eventType,
		CreatedAt: now,
		Data:      data,
	}

	canonical, err := signature.Canonicalize(event)
	if err != nil {
		return nil, domainerrors.Webhook("sign_failed", "failed to canonicalize webhook payload", err)
	}
	sig := signature.SignBytes(d.cfg.Secret, canonical)

	webhook := &entities.Webhook{
		EventID:     event.EventID,
		EventType:   eventType,
		PaymentID:   paymentID,
		URL:         d.cfg.TargetURL,
		Payload:     canonical,
		Signature:   sig,
		Status:      entities.WebhookStatusPending,
		MaxRetries:  d.cfg.MaxRetries,
		NextRetryAt: &now,
	}
	if err := d.webhookRepo.Create(ctx, webhook); err != nil {
		return nil, domainerrors.Database("failed to enqueue webhook", err)
	}
	return webhook, nil
}

// DeliverDueNow drains due webhooks. Each delivery runs in its own
// transaction with the claimed row locked for the duration of the HTTP
// call, so concurrent dispatchers cannot double-deliver an event.
func (d *WebhookDispatcher) DeliverDueNow(ctx context.Context) error {
	for i := 0; i < d.cfg.ClaimBatch; i++ {
		delivered, err := d.deliverNext(ctx)
		if err != nil {
			return err
		}
		if !delivered {
			return nil
		}
	}
	return nil
}

// DeliverOne attempts a single webhook regardless of its schedule. Used by
// the targeted background task.
func (d *WebhookDispatcher) DeliverOne(ctx context.Context, id uuid.UUID) error {
	return d.uow.Do(ctx, func(txCtx context.Context) error {
		webhook, err := d.webhookRepo.GetByID(d.uow.WithLock(txCtx), id)
		if err != nil {
			return err
		}
		if webhook.Terminal() {
			return nil
		}
		return d.attempt(txCtx, webhook)
	})
}

// deliverNext claims and delivers one due webhook; reports whether a row
// was claimed.
func (d *WebhookDispatcher) deliverNext(ctx context.Context) (bool, error) {
	claimed := false
	err := d.uow.Do(ctx, func(txCtx context.Context) error {
		due, err := d.webhookRepo.ClaimDue(txCtx, d.clock.Now(), 1)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		claimed = true
		return d.attempt(txCtx, due[0])
	})
	return claimed, err
}

// attempt performs one delivery and persists the resulting state.
func (d *WebhookDispatcher) attempt(ctx context.Context, webhook *entities.Webhook) error {
	start := time.Now()
	status, body, err := d.post(ctx, webhook)
	metrics.WebhookDeliveryDuration.Observe(time.Since(start).Seconds())

	now := d.clock.Now()

	switch {
	case err == nil && status >= 200 && status < 300:
		webhook.Status = entities.WebhookStatusDelivered
		webhook.ResponseStatus = null.IntFrom(status)
		webhook.ResponseBody = null.StringFrom(body)
		webhook.DeliveredAt = &now
		webhook.NextRetryAt = nil
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
		d.auditDelivery(ctx, webhook, entities.AuditActionWebhookDelivered, entities.AuditLevelInfo, "webhook delivered")

	case err == nil && permanentRejection(status):
		webhook.Status = entities.WebhookStatusFailed
		webhook.ResponseStatus = null.IntFrom(status)
		webhook.ResponseBody = null.StringFrom(body)
		webhook.FailedAt = &now
		webhook.NextRetryAt = nil
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		d.auditDelivery(ctx, webhook, entities.AuditActionWebhookFailed, entities.AuditLevelWarning, "webhook permanently rejected by destination")

	default:
		// network error, timeout, 5xx, or a retryable 4xx
		if err == nil {
			webhook.ResponseStatus = null.IntFrom(status)
			webhook.ResponseBody = null.StringFrom(body)
		}
		// retry_count never exceeds max_retries: once the budget is spent
		// the event expires instead of recording another retry
		if webhook.RetryCount >= webhook.MaxRetries {
			webhook.Status = entities.WebhookStatusExpired
			webhook.FailedAt = &now
			webhook.NextRetryAt = nil
			metrics.WebhookDeliveriesTotal.WithLabelValues("expired").Inc()
			d.auditDelivery(ctx, webhook, entities.AuditActionWebhookExpired, entities.AuditLevelError, "webhook retries exhausted")
		} else {
			webhook.RetryCount++
			next := now.Add(d.backoff.NextDelay(webhook.RetryCount))
			webhook.Status = entities.WebhookStatusRetrying
			webhook.NextRetryAt = &next
			metrics.WebhookDeliveriesTotal.WithLabelValues("retrying").Inc()
			logger.Warn(ctx, "webhook delivery failed, scheduled retry",
				zap.String("event_id", webhook.EventID),
				zap.Int("retry_count", webhook.RetryCount),
				zap.Time("next_retry_at", next),
				zap.Error(err),
			)
		}
	}

	return d.webhookRepo.Update(ctx, webhook)
}

// post sends the signed payload and returns the response status and a
// truncated body.
func (d *WebhookDispatcher) post(ctx context.Context, webhook *entities.Webhook) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(webhook.Payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", webhook.Signature)
	req.Header.Set("X-Webhook-Event-Id", webhook.EventID)
	for k, v := range webhook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	return resp.StatusCode, string(body), nil
}

// permanentRejection reports whether the status is a 4xx that retrying
// cannot fix. 408, 425 and 429 are transient by definition.
func permanentRejection(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}

func (d *WebhookDispatcher) auditDelivery(ctx context.Context, webhook *entities.Webhook, action entities.AuditAction, level entities.AuditLevel, message string) {
	// Audit failures must not break delivery bookkeeping.
	_ = d.audit.Record(ctx, AuditEntry{
		Action:     action,
		Level:      level,
		Message:    message,
		EntityType: "webhook",
		EntityID:   webhook.EventID,
		PaymentID:  webhook.PaymentID,
		Metadata: map[string]interface{}{
			"event_type":  string(webhook.EventType),
			"retry_count": webhook.RetryCount,
			"url":         webhook.URL,
		},
	})
}
