package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"easypay.backend/internal/domain/entities"
	domainerrors "easypay.backend/internal/domain/errors"
	"easypay.backend/internal/infrastructure/models"
)

// WebhookRepository implements outbound webhook persistence
type WebhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository creates a new webhook repository
func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// Create persists a new webhook row (the outbox entry)
func (r *WebhookRepository) Create(ctx context.Context, webhook *entities.Webhook) error {
	m, err := webhookToModel(webhook)
	if err != nil {
		return err
	}
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrAlreadyExists
		}
		return err
	}
	webhook.ID = m.ID
	webhook.CreatedAt = m.CreatedAt
	webhook.UpdatedAt = m.UpdatedAt
	return nil
}

// GetByID gets a webhook by id
func (r *WebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Webhook, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByEventID gets a webhook by its stable event id
func (r *WebhookRepository) GetByEventID(ctx context.Context, eventID string) (*entities.Webhook, error) {
	return r.getOne(ctx, "event_id = ?", eventID)
}

func (r *WebhookRepository) getOne(ctx context.Context, query string, arg interface{}) (*entities.Webhook, error) {
	var m models.Webhook
	db := applyLock(ctx, GetDB(ctx, r.db))
	if err := db.WithContext(ctx).Where(query, arg).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return webhookToEntity(&m)
}

// Update persists the delivery-state fields
func (r *WebhookRepository) Update(ctx context.Context, webhook *entities.Webhook) error {
	m, err := webhookToModel(webhook)
	if err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()

	db := GetDB(ctx, r.db)
	result := db.WithContext(ctx).Model(&models.Webhook{}).
		Where("id = ?", webhook.ID).
		Updates(map[string]interface{}{
			"status":          m.Status,
			"retry_count":     m.RetryCount,
			"next_retry_at":   m.NextRetryAt,
			"response_status": m.ResponseStatus,
			"response_body":   m.ResponseBody,
			"delivered_at":    m.DeliveredAt,
			"failed_at":       m.FailedAt,
			"updated_at":      m.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	webhook.UpdatedAt = m.UpdatedAt
	return nil
}

// ClaimDue returns webhooks due for delivery, locking the claimed rows so
// concurrent dispatchers skip them (FOR UPDATE SKIP LOCKED on postgres).
// Must be called inside a UnitOfWork transaction.
func (r *WebhookRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*entities.Webhook, error) {
	db := GetDB(ctx, r.db).WithContext(ctx)
	if supportsSkipLocked(db) {
		db = db.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var ms []models.Webhook
	err := db.
		Where("status IN ?", []string{string(entities.WebhookStatusPending), string(entities.WebhookStatusRetrying)}).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}

	webhooks := make([]*entities.Webhook, 0, len(ms))
	for i := range ms {
		w, err := webhookToEntity(&ms[i])
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, nil
}

// ListByPaymentID returns the delivery lineage for a payment
func (r *WebhookRepository) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*entities.Webhook, error) {
	var ms []models.Webhook
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	webhooks := make([]*entities.Webhook, 0, len(ms))
	for i := range ms {
		w, err := webhookToEntity(&ms[i])
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, nil
}

func webhookToModel(w *entities.Webhook) (*models.Webhook, error) {
	headers := "{}"
	if w.Headers != nil {
		raw, err := json.Marshal(w.Headers)
		if err != nil {
			return nil, err
		}
		headers = string(raw)
	}

	payload := "{}"
	if len(w.Payload) > 0 {
		payload = string(w.Payload)
	}

	return &models.Webhook{
		ID:             w.ID,
		EventID:        w.EventID,
		EventType:      string(w.EventType),
		PaymentID:      w.PaymentID,
		URL:            w.URL,
		Payload:        payload,
		Signature:      w.Signature,
		Headers:        headers,
		Status:         string(w.Status),
		RetryCount:     w.RetryCount,
		MaxRetries:     w.MaxRetries,
		NextRetryAt:    w.NextRetryAt,
		ResponseStatus: nullIntPtr(w.ResponseStatus),
		ResponseBody:   nullStringPtr(w.ResponseBody),
		DeliveredAt:    w.DeliveredAt,
		FailedAt:       w.FailedAt,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}, nil
}

func webhookToEntity(m *models.Webhook) (*entities.Webhook, error) {
	var headers map[string]string
	if m.Headers != "" && m.Headers != "{}" {
		if err := json.Unmarshal([]byte(m.Headers), &headers); err != nil {
			return nil, err
		}
	}

	return &entities.Webhook{
		ID:             m.ID,
		EventID:        m.EventID,
		EventType:      entities.WebhookEventType(m.EventType),
		PaymentID:      m.PaymentID,
		URL:            m.URL,
		Payload:        json.RawMessage(m.Payload),
		Signature:      m.Signature,
		Headers:        headers,
		Status:         entities.WebhookStatus(m.Status),
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		NextRetryAt:    m.NextRetryAt,
		ResponseStatus: null.IntFromPtr(intPtrFromInt64(m.ResponseStatus)),
		ResponseBody:   null.StringFromPtr(m.ResponseBody),
		DeliveredAt:    m.DeliveredAt,
		FailedAt:       m.FailedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}
