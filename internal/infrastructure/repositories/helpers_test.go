package repositories

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"easypay.backend/internal/domain/entities"
	"easypay.backend/internal/infrastructure/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=foreign_keys(1)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Payment{}, &models.Webhook{}, &models.AuditLog{}))

	t.Cleanup(func() {
		db.Exec("DELETE FROM payments")
		db.Exec("DELETE FROM webhooks")
		db.Exec("DELETE FROM audit_logs")
	})
	return db
}

func newTestPayment(t *testing.T) *entities.Payment {
	t.Helper()

	id, err := uuid.NewV7()
	require.NoError(t, err)

	return &entities.Payment{
		ID:             id,
		ExternalID:     "pay_" + id.String()[24:],
		Amount:         decimal.RequireFromString("49.99"),
		Currency:       "USD",
		PaymentMethod:  entities.PaymentMethodCreditCard,
		CardToken:      "tok_4242",
		RefundedAmount: decimal.Zero,
		Status:         entities.PaymentStatusPending,
		IsTest:         true,
	}
}

func newTestWebhook(t *testing.T, paymentID uuid.UUID, due time.Time) *entities.Webhook {
	t.Helper()

	id, err := uuid.NewV7()
	require.NoError(t, err)

	return &entities.Webhook{
		ID:          id,
		EventID:     "evt_" + id.String(),
		EventType:   entities.WebhookEventPaymentCaptured,
		PaymentID:   &paymentID,
		URL:         "https://merchant.example.com/hooks",
		Payload:     []byte(`{"event_type":"payment.captured"}`),
		Signature:   "sha256=deadbeef",
		Status:      entities.WebhookStatusPending,
		MaxRetries:  5,
		NextRetryAt: &due,
	}
}
