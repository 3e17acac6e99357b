package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"easypay.backend/internal/domain/entities"
)

// WebhookRepository defines outbound webhook persistence. ClaimDue locks the
// claimed rows (FOR UPDATE SKIP LOCKED) so concurrent dispatchers never pick
// the same event.
type WebhookRepository interface {
	Create(ctx context.Context, webhook *entities.Webhook) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Webhook, error)
	GetByEventID(ctx context.Context, eventID string) (*entities.Webhook, error)
	Update(ctx context.Context, webhook *entities.Webhook) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*entities.Webhook, error)
	ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*entities.Webhook, error)
}
