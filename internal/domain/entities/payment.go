package entities

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
)

// PaymentStatus represents payment lifecycle status
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusAuthorized        PaymentStatus = "authorized"
	PaymentStatusCaptured          PaymentStatus = "captured"
	PaymentStatusSettled           PaymentStatus = "settled"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusVoided            PaymentStatus = "voided"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusDeclined          PaymentStatus = "declined"
)

// PaymentMethod enumerates accepted instruments
type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodDebitCard  PaymentMethod = "debit_card"
)

// MaxAmount is the largest accepted charge amount.
var MaxAmount = decimal.RequireFromString("999999.99")

// MaxMetadataBytes bounds the serialized metadata size.
const MaxMetadataBytes = 16 * 1024

var (
	emailRegex      = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	externalIDRegex = regexp.MustCompile(`^pay_[0-9a-f]{12}$`)
)

// paymentTransitions is the legal state graph. A status missing from the map
// is terminal.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {
		PaymentStatusAuthorized,
		PaymentStatusCaptured,
		PaymentStatusVoided,
		PaymentStatusFailed,
		PaymentStatusDeclined,
	},
	PaymentStatusAuthorized: {
		PaymentStatusCaptured,
		PaymentStatusVoided,
		PaymentStatusFailed,
	},
	PaymentStatusCaptured: {
		PaymentStatusSettled,
		PaymentStatusRefunded,
		PaymentStatusPartiallyRefunded,
	},
	PaymentStatusSettled: {
		PaymentStatusRefunded,
		PaymentStatusPartiallyRefunded,
	},
	PaymentStatusPartiallyRefunded: {
		PaymentStatusRefunded,
		PaymentStatusPartiallyRefunded,
	},
}

// Payment represents one attempted money movement.
type Payment struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"external_id"`

	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod PaymentMethod   `json:"payment_method"`

	CustomerID    null.String `json:"customer_id,omitempty"`
	CustomerEmail null.String `json:"customer_email,omitempty"`
	CustomerName  null.String `json:"customer_name,omitempty"`

	CardToken    string      `json:"card_token,omitempty"`
	CardLastFour null.String `json:"card_last_four,omitempty"`
	CardBrand    null.String `json:"card_brand,omitempty"`
	CardExpMonth null.Int    `json:"card_exp_month,omitempty"`
	CardExpYear  null.Int    `json:"card_exp_year,omitempty"`

	ProcessorTransactionID   null.String `json:"processor_transaction_id,omitempty"`
	ProcessorResponseCode    null.String `json:"processor_response_code,omitempty"`
	ProcessorResponseMessage null.String `json:"processor_response_message,omitempty"`

	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	RefundCount    int             `json:"refund_count"`

	Status      PaymentStatus          `json:"status"`
	Description null.String            `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	IsTest bool `json:"is_test"`
	IsLive bool `json:"is_live"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}

// CanTransitionTo reports whether moving to target is legal from the
// current status.
func (p *Payment) CanTransitionTo(target PaymentStatus) bool {
	for _, allowed := range paymentTransitions[p.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (p *Payment) IsTerminal() bool {
	return len(paymentTransitions[p.Status]) == 0
}

// RemainingRefundable returns amount - refunded_amount.
func (p *Payment) RemainingRefundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

// Refundable reports whether the payment is in a refund-eligible state.
func (p *Payment) Refundable() bool {
	switch p.Status {
	case PaymentStatusCaptured, PaymentStatusSettled, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

// Voidable reports whether the payment may still be voided.
func (p *Payment) Voidable() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusAuthorized
}

// ValidExternalID reports whether id matches the server-generated format.
func ValidExternalID(id string) bool {
	return externalIDRegex.MatchString(id)
}

// ValidEmail reports whether the address is plausibly deliverable.
func ValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// ValidAmount enforces the money bounds: positive, two fractional digits,
// at most 999,999.99.
func ValidAmount(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	if amount.GreaterThan(MaxAmount) {
		return false
	}
	return amount.Exponent() >= -2
}

// ValidMetadata enforces the serialized size cap.
func ValidMetadata(metadata map[string]interface{}) bool {
	if metadata == nil {
		return true
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return false
	}
	return len(raw) <= MaxMetadataBytes
}

// CreatePaymentInput is the payload for creating a payment.
type CreatePaymentInput struct {
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency"`
	PaymentMethod PaymentMethod          `json:"payment_method"`
	ExternalID    string                 `json:"external_id,omitempty"`
	CustomerID    string                 `json:"customer_id,omitempty"`
	CustomerEmail string                 `json:"customer_email,omitempty"`
	CustomerName  string                 `json:"customer_name,omitempty"`
	CardToken     string                 `json:"card_token"`
	Description   string                 `json:"description,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	IsTest        bool                   `json:"is_test"`
}

// UpdatePaymentInput mutates only description and metadata.
type UpdatePaymentInput struct {
	Description *string                `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// RefundInput is the payload for a refund.
type RefundInput struct {
	Amount   *decimal.Decimal       `json:"amount,omitempty"` // nil means full remaining
	Reason   string                 `json:"reason,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CancelInput is the payload for a void.
type CancelInput struct {
	Reason   string                 `json:"reason,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ListPaymentsFilter narrows payment listing.
type ListPaymentsFilter struct {
	CustomerID    string
	Status        PaymentStatus
	IsTest        *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Fingerprint returns a stable cache-key fragment for the filter.
func (f ListPaymentsFilter) Fingerprint() string {
	raw, _ := json.Marshal(map[string]interface{}{
		"customer_id":    f.CustomerID,
		"status":         f.Status,
		"is_test":        f.IsTest,
		"created_after":  f.CreatedAfter,
		"created_before": f.CreatedBefore,
	})
	return string(raw)
}

// PaymentStats aggregates volumes by status.
type PaymentStats struct {
	TotalCount     int64           `json:"total_count"`
	TotalVolume    decimal.Decimal `json:"total_volume"`
	CapturedCount  int64           `json:"captured_count"`
	CapturedVolume decimal.Decimal `json:"captured_volume"`
	RefundedVolume decimal.Decimal `json:"refunded_volume"`
	DeclinedCount  int64           `json:"declined_count"`
	FailedCount    int64           `json:"failed_count"`
}
