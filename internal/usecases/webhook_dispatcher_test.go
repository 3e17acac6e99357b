package usecases_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easypay.backend/internal/domain/entities"
	"easypay.backend/internal/usecases"
	"easypay.backend/pkg/signature"
	"easypay.backend/pkg/utils"
)

type dispatcherFixture struct {
	dispatcher *usecases.WebhookDispatcher
	webhooks   *memWebhookRepo
	audit      *memAuditRepo
	clock      *utils.FakeClock
}

func newDispatcherFixture(t *testing.T, targetURL string, maxRetries int) *dispatcherFixture {
	t.Helper()

	webhooks := newMemWebhookRepo()
	audit := &memAuditRepo{}
	clock := &utils.FakeClock{Current: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}

	d := usecases.NewWebhookDispatcher(webhooks, &fakeUnitOfWork{}, usecases.NewAuditRecorder(audit), usecases.DispatcherConfig{
		TargetURL:  targetURL,
		Secret:     "whsec_test",
		MaxRetries: maxRetries,
	})
	d.SetClock(clock)

	return &dispatcherFixture{dispatcher: d, webhooks: webhooks, audit: audit, clock: clock}
}

func TestDispatcher_DeliversSignedEvent(t *testing.T) {
	var gotSignature, gotEventID string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotEventID = r.Header.Get("X-Webhook-Event-Id")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newDispatcherFixture(t, server.URL, 5)
	ctx := context.Background()
	paymentID := uuid.New()

	webhook, err := f.dispatcher.Enqueue(ctx, entities.WebhookEventPaymentCaptured, &paymentID, map[string]interface{}{
		"external_id": "pay_0123456789ab",
		"amount":      "49.99",
	})
	require.NoError(t, err)
	assert.Equal(t, entities.WebhookStatusPending, webhook.Status)

	require.NoError(t, f.dispatcher.DeliverDueNow(ctx))

	stored, err := f.webhooks.GetByID(ctx, webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WebhookStatusDelivered, stored.Status)
	assert.Equal(t, 200, stored.ResponseStatus.Int)
	assert.NotNil(t, stored.DeliveredAt)
	assert.Nil(t, stored.NextRetryAt)

	// the receiver can verify the signature over the raw body
	assert.True(t, signature.VerifyBytes("whsec_test", gotBody, gotSignature))
	assert.Equal(t, webhook.EventID, gotEventID)

	var event entities.WebhookEvent
	require.NoError(t, json.Unmarshal(gotBody, &event))
	assert.Equal(t, entities.WebhookEventPaymentCaptured, event.EventType)
	assert.Equal(t, "pay_0123456789ab", event.Data["external_id"])
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newDispatcherFixture(t, server.URL, 5)
	ctx := context.Background()

	webhook, err := f.dispatcher.Enqueue(ctx, entities.WebhookEventPaymentCreated, nil, map[string]interface{}{"n": float64(1)})
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		require.NoError(t, f.dispatcher.DeliverDueNow(ctx))
		stored, err := f.webhooks.GetByID(ctx, webhook.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.WebhookStatusRetrying, stored.Status)
		assert.Equal(t, attempt, stored.RetryCount)
		require.NotNil(t, stored.NextRetryAt)
		assert.True(t, stored.NextRetryAt.After(f.clock.Now()))

		// nothing is due until the clock reaches next_retry_at
		require.NoError(t, f.dispatcher.DeliverDueNow(ctx))
		unchanged, err := f.webhooks.GetByID(ctx, webhook.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, unchanged.RetryCount)

		f.clock.Advance(stored.NextRetryAt.Sub(f.clock.Now()) + time.Second)
	}

	require.NoError(t, f.dispatcher.DeliverDueNow(ctx))
	stored, err := f.webhooks.GetByID(ctx, webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WebhookStatusDelivered, stored.Status)
	assert.Equal(t, int32(4), calls.Load())
}

func TestDispatcher_BackoffDoubles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newDispatcherFixture(t, server.URL, 10)
	ctx := context.Background()

	webhook, err := f.dispatcher.Enqueue(ctx, entities.WebhookEventPaymentCreated, nil, nil)
	require.NoError(t, err)

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		require.NoError(t, f.dispatcher.DeliverDueNow(ctx))
		stored, err := f.webhooks.GetByID(ctx, webhook.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.NextRetryAt)
		delays = append(delays, stored.NextRetryAt.Sub(f.clock.Now()))
		f.clock.Advance(stored.NextRetryAt.Sub(f.clock.Now()) + time.Second)
	}

	// 60s, 120s, 240s with ±10% jitter
	assert.InDelta(t, float64(60*time.Second), float64(delays[0]), float64(6*time.Second))
	assert.InDelta(t, float64(120*time.Second), float64(delays[1]), float64(12*time.Second))
	assert.InDelta(t, float64(240*time.Second), float64(delays[2]), float64(24*time.Second))
}

func TestDispatcher_PermanentRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	f := newDispatcherFixture(t, server.URL, 5)
	ctx := context.Background()

	webhook, err := f.dispatcher.Enqueue(ctx, entities.WebhookEventPaymentFailed, nil, nil)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.DeliverDueNow(ctx))

	stored, err := f.webhooks.GetByID(ctx, webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WebhookStatusFailed, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Nil(t, stored.NextRetryAt)
	require.Len(t, f.audit.byAction(entities.AuditActionWebhookFailed), 1)
}

func TestDispatcher_TooManyRequestsIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	f := newDispatcherFixture(t, server.URL, 5)
	ctx := context.Background()

	webhook, err := f.dispatcher.Enqueue(ctx, entities.WebhookEventPaymentCreated, nil, nil)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.DeliverDueNow(ctx))

	stored, err := f.webhooks.GetByID(ctx, webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WebhookStatusRetrying, stored.Status)
}

func TestDispatcher_ExpiresAfterMaxRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	f := newDispatcherFixture(t, server.URL, 2)
	ctx := context.Background()

	webhook, err := f.dispatcher.Enqueue(ctx, entities.WebhookEventPaymentCreated, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.dispatcher.DeliverDueNow(ctx))
		f.clock.Advance(2 * time.Hour)
	}

	stored, err := f.webhooks.GetByID(ctx, webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WebhookStatusExpired, stored.Status)
	// the exhausted event stays inside its retry budget
	assert.Equal(t, stored.MaxRetries, stored.RetryCount)
	assert.LessOrEqual(t, stored.RetryCount, stored.MaxRetries)
	assert.Nil(t, stored.NextRetryAt)
	require.Len(t, f.audit.byAction(entities.AuditActionWebhookExpired), 1)
}

func TestDispatcher_NetworkErrorSchedulesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused

	f := newDispatcherFixture(t, server.URL, 5)
	ctx := context.Background()

	webhook, err := f.dispatcher.Enqueue(ctx, entities.WebhookEventPaymentCreated, nil, nil)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.DeliverDueNow(ctx))

	stored, err := f.webhooks.GetByID(ctx, webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WebhookStatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
}

func TestDispatcher_DeliverOneSkipsTerminal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newDispatcherFixture(t, server.URL, 5)
	ctx := context.Background()

	webhook, err := f.dispatcher.Enqueue(ctx, entities.WebhookEventPaymentCreated, nil, nil)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.DeliverOne(ctx, webhook.ID))
	require.NoError(t, f.dispatcher.DeliverOne(ctx, webhook.ID))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatcher_SignatureIsTamperEvident(t *testing.T) {
	f := newDispatcherFixture(t, "https://merchant.example.com/hooks", 5)

	webhook, err := f.dispatcher.Enqueue(context.Background(), entities.WebhookEventPaymentCaptured, nil, map[string]interface{}{
		"amount": "10.00",
	})
	require.NoError(t, err)

	require.True(t, signature.VerifyBytes("whsec_test", webhook.Payload, webhook.Signature))

	tampered := make([]byte, len(webhook.Payload))
	copy(tampered, webhook.Payload)
	tampered[len(tampered)-2] ^= 1
	assert.False(t, signature.VerifyBytes("whsec_test", tampered, webhook.Signature))
	assert.False(t, signature.VerifyBytes("wrong-secret", webhook.Payload, webhook.Signature))
}
