package usecases_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"easypay.backend/internal/domain/entities"
	domainerrors "easypay.backend/internal/domain/errors"
	"easypay.backend/internal/usecases"
	"easypay.backend/pkg/signature"
)

const anetSecret = "anet-signature-key"

func newInboundFixture(t *testing.T) (*usecases.InboundWebhookUseCase, *engineFixture) {
	t.Helper()
	f := newEngineFixture(t)
	inbound := usecases.NewInboundWebhookUseCase(f.uc, usecases.NewAuditRecorder(f.audit), anetSecret)
	return inbound, f
}

func settlementBody(txnID string) []byte {
	return []byte(`{
		"notificationId": "ntf-001",
		"eventType": "net.authorize.payment.capture.created",
		"eventDate": "2026-01-15T12:00:00Z",
		"payload": {"id": "` + txnID + `", "responseCode": 1, "entityName": "transaction"}
	}`)
}

func TestInboundWebhook_SettlesCapturedPayment(t *testing.T) {
	inbound, f := newInboundFixture(t)
	ctx := context.Background()

	p := chargedPayment(t, f, "atx-9100")

	body := settlementBody("atx-9100")
	err := inbound.Handle(ctx, body, signature.SignSHA512(anetSecret, body))
	require.NoError(t, err)

	stored, err := f.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusSettled, stored.Status)
	require.Len(t, f.audit.byAction(entities.AuditActionWebhookReceived), 1)
}

func TestInboundWebhook_RejectsBadSignature(t *testing.T) {
	inbound, f := newInboundFixture(t)
	ctx := context.Background()

	body := settlementBody("atx-9200")
	err := inbound.Handle(ctx, body, signature.SignSHA512("wrong-secret", body))
	require.Error(t, err)
	assert.True(t, domainerrors.IsKind(err, domainerrors.KindAuthentication))

	// tampered body fails against a valid signature too
	sig := signature.SignSHA512(anetSecret, body)
	tampered := []byte(strings.Replace(string(body), "atx-9200", "atx-9201", 1))
	err = inbound.Handle(ctx, tampered, sig)
	require.Error(t, err)
	assert.Empty(t, f.audit.byAction(entities.AuditActionWebhookReceived))
}

func TestInboundWebhook_AcceptsUppercaseDigest(t *testing.T) {
	inbound, f := newInboundFixture(t)
	chargedPayment(t, f, "atx-9300")

	body := settlementBody("atx-9300")
	err := inbound.Handle(context.Background(), body, strings.ToUpper(signature.SignSHA512(anetSecret, body)))
	require.NoError(t, err)
}

func TestInboundWebhook_UnknownTransactionAcknowledged(t *testing.T) {
	inbound, _ := newInboundFixture(t)

	body := settlementBody("atx-no-such")
	err := inbound.Handle(context.Background(), body, signature.SignSHA512(anetSecret, body))
	assert.NoError(t, err)
}

func TestInboundWebhook_DuplicateNotificationAcknowledged(t *testing.T) {
	inbound, f := newInboundFixture(t)
	ctx := context.Background()
	chargedPayment(t, f, "atx-9400")

	body := settlementBody("atx-9400")
	sig := signature.SignSHA512(anetSecret, body)
	require.NoError(t, inbound.Handle(ctx, body, sig))
	// redelivery of the same notification: payment already settled
	assert.NoError(t, inbound.Handle(ctx, body, sig))
}

func TestInboundWebhook_IgnoresUnhandledEvents(t *testing.T) {
	inbound, f := newInboundFixture(t)

	body := []byte(`{"notificationId":"ntf-002","eventType":"net.authorize.customer.created","payload":{}}`)
	err := inbound.Handle(context.Background(), body, signature.SignSHA512(anetSecret, body))
	require.NoError(t, err)
	require.Len(t, f.audit.byAction(entities.AuditActionWebhookReceived), 1)
	f.gateway.AssertNotCalled(t, "ChargeCard", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
