package repositories

import (
	"context"

	"github.com/google/uuid"
	"easypay.backend/internal/domain/entities"
)

// PaymentRepository defines payment data operations. All mutating calls
// respect a transaction carried in ctx by the UnitOfWork; reads acquire a
// row lock when the ctx was marked by UnitOfWork.WithLock.
type PaymentRepository interface {
	Create(ctx context.Context, payment *entities.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Payment, error)
	GetByExternalID(ctx context.Context, externalID string) (*entities.Payment, error)
	GetByProcessorTransactionID(ctx context.Context, txnID string) (*entities.Payment, error)
	Update(ctx context.Context, payment *entities.Payment) error
	List(ctx context.Context, filter entities.ListPaymentsFilter, limit, offset int) ([]*entities.Payment, int64, error)
	Stats(ctx context.Context, filter entities.ListPaymentsFilter) (*entities.PaymentStats, error)
}
