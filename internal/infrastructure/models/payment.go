package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment is the persistence model for the payments table. Amounts are
// stored as decimal strings; metadata is serialized JSON.
type Payment struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExternalID string    `gorm:"type:varchar(64);not null;uniqueIndex"`

	Amount        string `gorm:"type:numeric(10,2);not null"`
	Currency      string `gorm:"type:varchar(3);not null"`
	PaymentMethod string `gorm:"type:varchar(32);not null"`

	CustomerID    *string `gorm:"type:varchar(255);index;index:idx_payments_customer_status,priority:1"`
	CustomerEmail *string `gorm:"type:varchar(255)"`
	CustomerName  *string `gorm:"type:varchar(255)"`

	CardToken    string  `gorm:"type:varchar(255)"`
	CardLastFour *string `gorm:"type:varchar(4)"`
	CardBrand    *string `gorm:"type:varchar(32)"`
	CardExpMonth *int64
	CardExpYear  *int64

	AuthorizeNetTransactionID *string `gorm:"type:varchar(64);index"`
	ProcessorResponseCode     *string `gorm:"type:varchar(16)"`
	ProcessorResponseMessage  *string `gorm:"type:varchar(255)"`

	RefundedAmount string `gorm:"type:numeric(10,2);not null;default:'0.00'"`
	RefundCount    int    `gorm:"not null;default:0"`

	Status      string  `gorm:"type:varchar(32);not null;index;index:idx_payments_customer_status,priority:2;index:idx_payments_status_created,priority:1"`
	Description *string `gorm:"type:text"`
	Metadata    string  `gorm:"type:jsonb;default:'{}'"`

	IsTest bool `gorm:"not null;default:false"`
	IsLive bool `gorm:"not null;default:false"`

	CreatedAt   time.Time `gorm:"index;index:idx_payments_status_created,priority:2"`
	UpdatedAt   time.Time
	ProcessedAt *time.Time
	SettledAt   *time.Time
}

// TableName overrides the table name
func (Payment) TableName() string {
	return "payments"
}
