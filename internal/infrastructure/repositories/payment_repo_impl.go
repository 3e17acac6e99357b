package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"

	"easypay.backend/internal/domain/entities"
	domainerrors "easypay.backend/internal/domain/errors"
	"easypay.backend/internal/infrastructure/models"
)

// PaymentRepository implements payment data operations
type PaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create persists a new payment. A unique violation on external_id is
// mapped to ErrAlreadyExists so the engine can regenerate the id.
func (r *PaymentRepository) Create(ctx context.Context, payment *entities.Payment) error {
	m, err := paymentToModel(payment)
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
	payment.ID = m.ID
	payment.CreatedAt = m.CreatedAt
	payment.UpdatedAt = m.UpdatedAt
	return nil
}

// GetByID gets a payment by internal id
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Payment, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByExternalID gets a payment by merchant-facing id
func (r *PaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*entities.Payment, error) {
	return r.getOne(ctx, "external_id = ?", externalID)
}

// GetByProcessorTransactionID gets a payment by the upstream transaction id
func (r *PaymentRepository) GetByProcessorTransactionID(ctx context.Context, txnID string) (*entities.Payment, error) {
	return r.getOne(ctx, "authorize_net_transaction_id = ?", txnID)
}

func (r *PaymentRepository) getOne(ctx context.Context, query string, arg interface{}) (*entities.Payment, error) {
	var m models.Payment
	db := applyLock(ctx, GetDB(ctx, r.db))
	if err := db.WithContext(ctx).Where(query, arg).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return paymentToEntity(&m)
}

// Update persists all mutable fields of the payment
func (r *PaymentRepository) Update(ctx context.Context, payment *entities.Payment) error {
	m, err := paymentToModel(payment)
	if err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()

	db := GetDB(ctx, r.db)
	result := db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Updates(map[string]interface{}{
			"customer_id":                  m.CustomerID,
			"customer_email":               m.CustomerEmail,
			"customer_name":                m.CustomerName,
			"card_last_four":               m.CardLastFour,
			"card_brand":                   m.CardBrand,
			"card_exp_month":               m.CardExpMonth,
			"card_exp_year":                m.CardExpYear,
			"authorize_net_transaction_id": m.AuthorizeNetTransactionID,
			"processor_response_code":      m.ProcessorResponseCode,
			"processor_response_message":   m.ProcessorResponseMessage,
			"refunded_amount":              m.RefundedAmount,
			"refund_count":                 m.RefundCount,
			"status":                       m.Status,
			"description":                  m.Description,
			"metadata":                     m.Metadata,
			"processed_at":                 m.ProcessedAt,
			"settled_at":                   m.SettledAt,
			"updated_at":                   m.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	payment.UpdatedAt = m.UpdatedAt
	return nil
}

// List returns payments matching the filter with the total count
func (r *PaymentRepository) List(ctx context.Context, filter entities.ListPaymentsFilter, limit, offset int) ([]*entities.Payment, int64, error) {
	db := GetDB(ctx, r.db).WithContext(ctx).Model(&models.Payment{})
	db = applyPaymentFilter(db, filter)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []models.Payment
	if err := db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&ms).Error; err != nil {
		return nil, 0, err
	}

	payments := make([]*entities.Payment, 0, len(ms))
	for i := range ms {
		p, err := paymentToEntity(&ms[i])
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	return payments, total, nil
}

// Stats aggregates counts and volumes for the filter
func (r *PaymentRepository) Stats(ctx context.Context, filter entities.ListPaymentsFilter) (*entities.PaymentStats, error) {
	db := GetDB(ctx, r.db).WithContext(ctx).Model(&models.Payment{})
	db = applyPaymentFilter(db, filter)

	var ms []models.Payment
	if err := db.Find(&ms).Error; err != nil {
		return nil, err
	}

	stats := &entities.PaymentStats{
		TotalVolume:    decimal.Zero,
		CapturedVolume: decimal.Zero,
		RefundedVolume: decimal.Zero,
	}
	for i := range ms {
		amount, err := decimal.NewFromString(ms[i].Amount)
		if err != nil {
			return nil, err
		}
		refunded, err := decimal.NewFromString(ms[i].RefundedAmount)
		if err != nil {
			return nil, err
		}

		stats.TotalCount++
		stats.TotalVolume = stats.TotalVolume.Add(amount)
		stats.RefundedVolume = stats.RefundedVolume.Add(refunded)

		switch entities.PaymentStatus(ms[i].Status) {
		case entities.PaymentStatusCaptured, entities.PaymentStatusSettled,
			entities.PaymentStatusRefunded, entities.PaymentStatusPartiallyRefunded:
			stats.CapturedCount++
			stats.CapturedVolume = stats.CapturedVolume.Add(amount)
		case entities.PaymentStatusDeclined:
			stats.DeclinedCount++
		case entities.PaymentStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func applyPaymentFilter(db *gorm.DB, filter entities.ListPaymentsFilter) *gorm.DB {
	if filter.CustomerID != "" {
		db = db.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.Status != "" {
		db = db.Where("status = ?", string(filter.Status))
	}
	if filter.IsTest != nil {
		db = db.Where("is_test = ?", *filter.IsTest)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}
	return db
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

func paymentToModel(p *entities.Payment) (*models.Payment, error) {
	metadata := "{}"
	if p.Metadata != nil {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, err
		}
		metadata = string(raw)
	}

	return &models.Payment{
		ID:                        p.ID,
		ExternalID:                p.ExternalID,
		Amount:                    p.Amount.StringFixed(2),
		Currency:                  p.Currency,
		PaymentMethod:             string(p.PaymentMethod),
		CustomerID:                nullStringPtr(p.CustomerID),
		CustomerEmail:             nullStringPtr(p.CustomerEmail),
		CustomerName:              nullStringPtr(p.CustomerName),
		CardToken:                 p.CardToken,
		CardLastFour:              nullStringPtr(p.CardLastFour),
		CardBrand:                 nullStringPtr(p.CardBrand),
		CardExpMonth:              nullIntPtr(p.CardExpMonth),
		CardExpYear:               nullIntPtr(p.CardExpYear),
		AuthorizeNetTransactionID: nullStringPtr(p.ProcessorTransactionID),
		ProcessorResponseCode:     nullStringPtr(p.ProcessorResponseCode),
		ProcessorResponseMessage:  nullStringPtr(p.ProcessorResponseMessage),
		RefundedAmount:            p.RefundedAmount.StringFixed(2),
		RefundCount:               p.RefundCount,
		Status:                    string(p.Status),
		Description:               nullStringPtr(p.Description),
		Metadata:                  metadata,
		IsTest:                    p.IsTest,
		IsLive:                    p.IsLive,
		CreatedAt:                 p.CreatedAt,
		UpdatedAt:                 p.UpdatedAt,
		ProcessedAt:               p.ProcessedAt,
		SettledAt:                 p.SettledAt,
	}, nil
}

func paymentToEntity(m *models.Payment) (*entities.Payment, error) {
	amount, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return nil, err
	}
	refunded, err := decimal.NewFromString(m.RefundedAmount)
	if err != nil {
		return nil, err
	}

	var metadata map[string]interface{}
	if m.Metadata != "" && m.Metadata != "{}" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, err
		}
	}

	return &entities.Payment{
		ID:                       m.ID,
		ExternalID:               m.ExternalID,
		Amount:                   amount,
		Currency:                 m.Currency,
		PaymentMethod:            entities.PaymentMethod(m.PaymentMethod),
		CustomerID:               null.StringFromPtr(m.CustomerID),
		CustomerEmail:            null.StringFromPtr(m.CustomerEmail),
		CustomerName:             null.StringFromPtr(m.CustomerName),
		CardToken:                m.CardToken,
		CardLastFour:             null.StringFromPtr(m.CardLastFour),
		CardBrand:                null.StringFromPtr(m.CardBrand),
		CardExpMonth:             null.IntFromPtr(intPtrFromInt64(m.CardExpMonth)),
		CardExpYear:              null.IntFromPtr(intPtrFromInt64(m.CardExpYear)),
		ProcessorTransactionID:   null.StringFromPtr(m.AuthorizeNetTransactionID),
		ProcessorResponseCode:    null.StringFromPtr(m.ProcessorResponseCode),
		ProcessorResponseMessage: null.StringFromPtr(m.ProcessorResponseMessage),
		RefundedAmount:           refunded,
		RefundCount:              m.RefundCount,
		Status:                   entities.PaymentStatus(m.Status),
		Description:              null.StringFromPtr(m.Description),
		Metadata:                 metadata,
		IsTest:                   m.IsTest,
		IsLive:                   m.IsLive,
		CreatedAt:                m.CreatedAt,
		UpdatedAt:                m.UpdatedAt,
		ProcessedAt:              m.ProcessedAt,
		SettledAt:                m.SettledAt,
	}, nil
}

func nullStringPtr(v null.String) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullIntPtr(v null.Int) *int64 {
	if !v.Valid {
		return nil
	}
	n := int64(v.Int)
	return &n
}

func intPtrFromInt64(v *int64) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}
