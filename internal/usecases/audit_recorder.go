package usecases

import (
	"context"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"easypay.backend/internal/domain/entities"
	domainRepos "easypay.backend/internal/domain/repositories"
	"easypay.backend/pkg/logger"
)

// Request metadata context keys set by the HTTP middleware.
const (
	CtxIPAddress = "client_ip"
	CtxUserAgent = "user_agent"
	CtxAPIKeyID  = "api_key_id"
)

// AuditRecorder appends audit records. Called inside the same transaction
// as the mutation it describes so the trail cannot diverge from entity
// state.
type AuditRecorder struct {
	repo domainRepos.AuditLogRepository
}

// NewAuditRecorder creates the recorder.
func NewAuditRecorder(repo domainRepos.AuditLogRepository) *AuditRecorder {
	return &AuditRecorder{repo: repo}
}

// AuditEntry is the caller-supplied portion of a record; request metadata
// is filled in from the context.
type AuditEntry struct {
	Action     entities.AuditAction
	Level      entities.AuditLevel
	Message    string
	EntityType string
	EntityID   string
	PaymentID  *uuid.UUID
	Metadata   map[string]interface{}
	OldValues  map[string]interface{}
	NewValues  map[string]interface{}
}

// Record appends one audit record, enriching it with request id,
// correlation id, client address and API key from the context.
func (r *AuditRecorder) Record(ctx context.Context, entry AuditEntry) error {
	if entry.Level == "" {
		entry.Level = entities.AuditLevelInfo
	}

	log := &entities.AuditLog{
		Action:     entry.Action,
		Level:      entry.Level,
		Message:    entry.Message,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		PaymentID:  entry.PaymentID,
		Metadata:   entry.Metadata,
		OldValues:  entry.OldValues,
		NewValues:  entry.NewValues,
	}

	if v, ok := ctx.Value(string(logger.RequestIDKey)).(string); ok && v != "" {
		log.RequestID = null.StringFrom(v)
	}
	if v, ok := ctx.Value(string(logger.CorrelationIDKey)).(string); ok && v != "" {
		log.CorrelationID = null.StringFrom(v)
	}
	if v, ok := ctx.Value(CtxIPAddress).(string); ok && v != "" {
		log.IPAddress = null.StringFrom(v)
	}
	if v, ok := ctx.Value(CtxUserAgent).(string); ok && v != "" {
		log.UserAgent = null.StringFrom(v)
	}
	if v, ok := ctx.Value(CtxAPIKeyID).(string); ok && v != "" {
		log.APIKeyID = null.StringFrom(v)
	}

	if err := r.repo.Create(ctx, log); err != nil {
		logger.Error(ctx, "failed to append audit record",
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// RecordTransition is the common case: one payment status change.
func (r *AuditRecorder) RecordTransition(ctx context.Context, payment *entities.Payment, action entities.AuditAction, from, to entities.PaymentStatus) error {
	return r.Record(ctx, AuditEntry{
		Action:     action,
		Message:    "payment " + payment.ExternalID + ": " + string(from) + " -> " + string(to),
		EntityType: "payment",
		EntityID:   payment.ExternalID,
		PaymentID:  &payment.ID,
		OldValues:  map[string]interface{}{"status": string(from)},
		NewValues:  map[string]interface{}{"status": string(to)},
	})
}
