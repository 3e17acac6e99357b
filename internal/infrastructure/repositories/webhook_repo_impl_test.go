package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"easypay.backend/internal/domain/entities"
	domainerrors "easypay.backend/internal/domain/errors"
)

func TestWebhookRepository_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db)
	ctx := context.Background()

	p := newTestPayment(t)
	require.NoError(t, NewPaymentRepository(db).Create(ctx, p))

	due := time.Now().UTC()
	w := newTestWebhook(t, p.ID, due)
	w.Headers = map[string]string{"X-Custom": "1"}
	require.NoError(t, repo.Create(ctx, w))

	got, err := repo.GetByEventID(ctx, w.EventID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
	assert.Equal(t, entities.WebhookEventPaymentCaptured, got.EventType)
	assert.JSONEq(t, `{"event_type":"payment.captured"}`, string(got.Payload))
	assert.Equal(t, "1", got.Headers["X-Custom"])
	require.NotNil(t, got.PaymentID)
	assert.Equal(t, p.ID, *got.PaymentID)
}

func TestWebhookRepository_DuplicateEventID(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db)
	ctx := context.Background()

	due := time.Now().UTC()
	p := newTestPayment(t)
	w1 := newTestWebhook(t, p.ID, due)
	require.NoError(t, repo.Create(ctx, w1))

	w2 := newTestWebhook(t, p.ID, due)
	w2.EventID = w1.EventID
	assert.ErrorIs(t, repo.Create(ctx, w2), domainerrors.ErrAlreadyExists)
}

func TestWebhookRepository_Update(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db)
	ctx := context.Background()

	due := time.Now().UTC()
	p := newTestPayment(t)
	w := newTestWebhook(t, p.ID, due)
	require.NoError(t, repo.Create(ctx, w))

	delivered := time.Now().UTC()
	w.Status = entities.WebhookStatusDelivered
	w.ResponseStatus = null.IntFrom(200)
	w.DeliveredAt = &delivered
	w.NextRetryAt = nil
	require.NoError(t, repo.Update(ctx, w))

	got, err := repo.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WebhookStatusDelivered, got.Status)
	assert.EqualValues(t, 200, got.ResponseStatus.Int)
	assert.Nil(t, got.NextRetryAt)
	require.NotNil(t, got.DeliveredAt)
}

func TestWebhookRepository_ClaimDue(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	p := newTestPayment(t)

	overdue := newTestWebhook(t, p.ID, now.Add(-2*time.Minute))
	require.NoError(t, repo.Create(ctx, overdue))

	retrying := newTestWebhook(t, p.ID, now.Add(-time.Minute))
	retrying.Status = entities.WebhookStatusRetrying
	retrying.RetryCount = 2
	require.NoError(t, repo.Create(ctx, retrying))

	future := newTestWebhook(t, p.ID, now.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, future))

	done := newTestWebhook(t, p.ID, now.Add(-time.Hour))
	done.Status = entities.WebhookStatusDelivered
	require.NoError(t, repo.Create(ctx, done))

	claimed, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	// ordered by next_retry_at, oldest first
	assert.Equal(t, overdue.ID, claimed[0].ID)
	assert.Equal(t, retrying.ID, claimed[1].ID)

	claimed, err = repo.ClaimDue(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, overdue.ID, claimed[0].ID)
}

func TestWebhookRepository_ListByPaymentID(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	p := newTestPayment(t)
	other := newTestPayment(t)

	require.NoError(t, repo.Create(ctx, newTestWebhook(t, p.ID, now)))
	require.NoError(t, repo.Create(ctx, newTestWebhook(t, p.ID, now)))
	require.NoError(t, repo.Create(ctx, newTestWebhook(t, other.ID, now)))

	webhooks, err := repo.ListByPaymentID(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, webhooks, 2)
}
