package repositories

import (
	"context"
	"time"

	"easypay.backend/internal/domain/entities"
)

// AuditLogRepository is append-only: no update surface exists. Deletion is
// only possible in bulk past a retention cutoff.
type AuditLogRepository interface {
	Create(ctx context.Context, log *entities.AuditLog) error
	List(ctx context.Context, filter entities.ListAuditLogsFilter, limit, offset int) ([]*entities.AuditLog, int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
