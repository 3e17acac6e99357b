package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog is the persistence model for the audit_logs table. Rows are
// insert-only.
type AuditLog struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Action  string    `gorm:"type:varchar(64);not null;index"`
	Level   string    `gorm:"type:varchar(16);not null;index"`
	Message string    `gorm:"type:text;not null"`

	EntityType string     `gorm:"type:varchar(64);not null"`
	EntityID   string     `gorm:"type:varchar(64);not null"`
	PaymentID  *uuid.UUID `gorm:"type:uuid;index"`
	UserID     *string    `gorm:"type:varchar(64);index"`
	APIKeyID   *string    `gorm:"type:varchar(64)"`

	IPAddress     *string `gorm:"type:varchar(64)"`
	UserAgent     *string `gorm:"type:varchar(255)"`
	RequestID     *string `gorm:"type:varchar(64);index"`
	CorrelationID *string `gorm:"type:varchar(64);index"`

	Metadata  string `gorm:"type:jsonb;default:'{}'"`
	OldValues string `gorm:"type:jsonb;default:'{}'"`
	NewValues string `gorm:"type:jsonb;default:'{}'"`

	CreatedAt time.Time `gorm:"index"`
}

// TableName overrides the table name
func (AuditLog) TableName() string {
	return "audit_logs"
}
