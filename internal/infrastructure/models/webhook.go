package models

import (
	"time"

	"github.com/google/uuid"
)

// Webhook is the persistence model for the webhooks table. payment_id is a
// weak reference: deleting a payment does not cascade here.
type Webhook struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	EventID   string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	EventType string     `gorm:"type:varchar(64);not null"`
	PaymentID *uuid.UUID `gorm:"type:uuid;index"`

	URL       string `gorm:"type:varchar(2048);not null"`
	Payload   string `gorm:"type:jsonb;not null"`
	Signature string `gorm:"type:varchar(128);not null"`
	Headers   string `gorm:"type:jsonb;default:'{}'"`

	Status      string     `gorm:"type:varchar(32);not null;index;index:idx_webhooks_status_retry,priority:1"`
	RetryCount  int        `gorm:"not null;default:0"`
	MaxRetries  int        `gorm:"not null;default:5"`
	NextRetryAt *time.Time `gorm:"index;index:idx_webhooks_status_retry,priority:2"`

	ResponseStatus *int64
	ResponseBody   *string `gorm:"type:text"`

	DeliveredAt *time.Time
	FailedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName overrides the table name
func (Webhook) TableName() string {
	return "webhooks"
}
