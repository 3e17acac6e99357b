package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"

	"easypay.backend/internal/domain/entities"
	"easypay.backend/internal/infrastructure/models"
)

// AuditLogRepository implements append-only audit persistence
type AuditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create appends one audit record. Joins an enclosing transaction when one
// is in the context, so records commit atomically with the mutation they
// describe.
func (r *AuditLogRepository) Create(ctx context.Context, log *entities.AuditLog) error {
	m, err := auditLogToModel(log)
	if err != nil {
		return err
	}
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	log.ID = m.ID
	log.CreatedAt = m.CreatedAt
	return nil
}

// List returns audit records matching the filter, newest first
func (r *AuditLogRepository) List(ctx context.Context, filter entities.ListAuditLogsFilter, limit, offset int) ([]*entities.AuditLog, int64, error) {
	db := GetDB(ctx, r.db).WithContext(ctx).Model(&models.AuditLog{})

	if filter.PaymentID != nil {
		db = db.Where("payment_id = ?", *filter.PaymentID)
	}
	if filter.Action != "" {
		db = db.Where("action = ?", string(filter.Action))
	}
	if filter.Level != "" {
		db = db.Where("level = ?", string(filter.Level))
	}
	if filter.CorrelationID != "" {
		db = db.Where("correlation_id = ?", filter.CorrelationID)
	}
	if filter.RequestID != "" {
		db = db.Where("request_id = ?", filter.RequestID)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []models.AuditLog
	if err := db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&ms).Error; err != nil {
		return nil, 0, err
	}

	logs := make([]*entities.AuditLog, 0, len(ms))
	for i := range ms {
		l, err := auditLogToEntity(&ms[i])
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, l)
	}
	return logs, total, nil
}

// DeleteOlderThan removes records past the retention cutoff and returns the
// number deleted. This is the only delete path for audit data.
func (r *AuditLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := GetDB(ctx, r.db).WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func auditLogToModel(l *entities.AuditLog) (*models.AuditLog, error) {
	metadata, err := marshalJSONMap(l.Metadata)
	if err != nil {
		return nil, err
	}
	oldValues, err := marshalJSONMap(l.OldValues)
	if err != nil {
		return nil, err
	}
	newValues, err := marshalJSONMap(l.NewValues)
	if err != nil {
		return nil, err
	}

	return &models.AuditLog{
		ID:            l.ID,
		Action:        string(l.Action),
		Level:         string(l.Level),
		Message:       l.Message,
		EntityType:    l.EntityType,
		EntityID:      l.EntityID,
		PaymentID:     l.PaymentID,
		UserID:        nullStringPtr(l.UserID),
		APIKeyID:      nullStringPtr(l.APIKeyID),
		IPAddress:     nullStringPtr(l.IPAddress),
		UserAgent:     nullStringPtr(l.UserAgent),
		RequestID:     nullStringPtr(l.RequestID),
		CorrelationID: nullStringPtr(l.CorrelationID),
		Metadata:      metadata,
		OldValues:     oldValues,
		NewValues:     newValues,
		CreatedAt:     l.CreatedAt,
	}, nil
}

func auditLogToEntity(m *models.AuditLog) (*entities.AuditLog, error) {
	metadata, err := unmarshalJSONMap(m.Metadata)
	if err != nil {
		return nil, err
	}
	oldValues, err := unmarshalJSONMap(m.OldValues)
	if err != nil {
		return nil, err
	}
	newValues, err := unmarshalJSONMap(m.NewValues)
	if err != nil {
		return nil, err
	}

	return &entities.AuditLog{
		ID:            m.ID,
		Action:        entities.AuditAction(m.Action),
		Level:         entities.AuditLevel(m.Level),
		Message:       m.Message,
		EntityType:    m.EntityType,
		EntityID:      m.EntityID,
		PaymentID:     m.PaymentID,
		UserID:        null.StringFromPtr(m.UserID),
		APIKeyID:      null.StringFromPtr(m.APIKeyID),
		IPAddress:     null.StringFromPtr(m.IPAddress),
		UserAgent:     null.StringFromPtr(m.UserAgent),
		RequestID:     null.StringFromPtr(m.RequestID),
		CorrelationID: null.StringFromPtr(m.CorrelationID),
		Metadata:      metadata,
		OldValues:     oldValues,
		NewValues:     newValues,
		CreatedAt:     m.CreatedAt,
	}, nil
}

func marshalJSONMap(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalJSONMap(s string) (map[string]interface{}, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
