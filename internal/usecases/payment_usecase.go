package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"easypay.backend/internal/domain/entities"
	domainerrors "easypay.backend/internal/domain/errors"
	domainRepos "easypay.backend/internal/domain/repositories"
	"easypay.backend/internal/infrastructure/processor"
	"easypay.backend/pkg/logger"
	"easypay.backend/pkg/metrics"
	"easypay.backend/pkg/resilience"
	"easypay.backend/pkg/utils"
)

// ProcessorGateway is the slice of the upstream client the engine uses.
type ProcessorGateway interface {
	ChargeCard(ctx context.Context, amount decimal.Decimal, card entities.Card, billing *entities.BillingAddress, order *processor.OrderInfo, refID string) (*processor.Response, error)
	AuthorizeOnly(ctx context.Context, amount decimal.Decimal, card entities.Card, billing *entities.BillingAddress, order *processor.OrderInfo, refID string) (*processor.Response, error)
	Capture(ctx context.Context, txnID string, amount decimal.Decimal, refID string) (*processor.Response, error)
	Refund(ctx context.Context, txnID string, amount decimal.Decimal, card entities.Card, refID string) (*processor.Response, error)
	Void(ctx context.Context, txnID string, refID string) (*processor.Response, error)
}

// TaskScheduler defers work to the background worker.
type TaskScheduler interface {
	EnqueueWebhookDeliver(ctx context.Context, webhookID *uuid.UUID) error
	EnqueuePaymentReconcile(ctx context.Context, paymentID uuid.UUID, processorTxnID, operation string) error
}

// PaymentConfig holds the validation allow-lists.
type PaymentConfig struct {
	SupportedCurrencies []string
	DefaultCurrency     string
}

// PaymentUseCase is the lifecycle engine: the only component that mutates
// Payment rows. Every mutation runs inside one transaction with a row lock
// held across the processor call, and appends exactly one audit record.
type PaymentUseCase struct {
	payments      domainRepos.PaymentRepository
	uow           domainRepos.UnitOfWork
	audit         *AuditRecorder
	dispatcher    *WebhookDispatcher
	gateway       ProcessorGateway
	breaker       *resilience.CircuitBreaker
	scheduler     TaskScheduler
	commitBackoff resilience.BackoffStrategy
	clock         utils.Clock
	cfg           PaymentConfig
}

// NewPaymentUseCase creates the engine.
func NewPaymentUseCase(
	payments domainRepos.PaymentRepository,
	uow domainRepos.UnitOfWork,
	audit *AuditRecorder,
	dispatcher *WebhookDispatcher,
	gateway ProcessorGateway,
	breaker *resilience.CircuitBreaker,
	scheduler TaskScheduler,
	cfg PaymentConfig,
) *PaymentUseCase {
	if len(cfg.SupportedCurrencies) == 0 {
		cfg.SupportedCurrencies = []string{"USD"}
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = cfg.SupportedCurrencies[0]
	}
	return &PaymentUseCase{
		payments:      payments,
		uow:           uow,
		audit:         audit,
		dispatcher:    dispatcher,
		gateway:       gateway,
		breaker:       breaker,
		scheduler:     scheduler,
		commitBackoff: resilience.CommitRetryBackoff(),
		clock:         utils.NewClock(),
		cfg:           cfg,
	}
}

// SetClock overrides the clock (used for testing)
func (u *PaymentUseCase) SetClock(clock utils.Clock) {
	u.clock = clock
}

// ChargeInput carries optional raw card details for a charge or authorize.
// When absent, the stored card token is resolved (test tokens only).
type ChargeInput struct {
	Card    *entities.Card           `json:"card,omitempty"`
	Billing *entities.BillingAddress `json:"billing_address,omitempty"`
}

// CaptureInput optionally narrows the captured amount.
type CaptureInput struct {
	Amount  *decimal.Decimal         `json:"amount,omitempty"`
	Card    *entities.Card           `json:"card,omitempty"`
	Billing *entities.BillingAddress `json:"billing_address,omitempty"`
}

// Create validates and persists a new pending payment. The processor is
// not called: charging is an explicit follow-up step so Create stays cheap
// and retryable.
func (u *PaymentUseCase) Create(ctx context.Context, input entities.CreatePaymentInput) (*entities.Payment, error) {
	if err := u.validateCreate(&input); err != nil {
		return nil, err
	}

	clientSuppliedID := input.ExternalID != ""
	externalID := input.ExternalID
	if externalID == "" {
		externalID = utils.GenerateExternalID()
	}

	var payment *entities.Payment
	persist := func(extID string) error {
		payment = u.buildPayment(input, extID)
		return u.uow.Do(ctx, func(txCtx context.Context) error {
			if err := u.payments.Create(txCtx, payment); err != nil {
				return err
			}
			if err := u.audit.Record(txCtx, AuditEntry{
				Action:     entities.AuditActionPaymentCreated,
				Message:    "payment created",
				EntityType: "payment",
				EntityID:   payment.ExternalID,
				PaymentID:  &payment.ID,
				NewValues:  map[string]interface{}{"status": string(payment.Status), "amount": payment.Amount.StringFixed(2)},
			}); err != nil {
				return err
			}
			_, err := u.dispatcher.Enqueue(txCtx, entities.WebhookEventPaymentCreated, &payment.ID, paymentSnapshot(payment))
			return err
		})
	}

	err := persist(externalID)
	if errors.Is(err, domainerrors.ErrAlreadyExists) {
		if clientSuppliedID {
			return nil, domainerrors.Conflict("duplicate_external_id", "a payment with this external_id already exists")
		}
		// one automatic regeneration; a second collision is a conflict
		err = persist(utils.GenerateExternalID())
		if errors.Is(err, domainerrors.ErrAlreadyExists) {
			return nil, domainerrors.Conflict("duplicate_external_id", "external_id collision persisted across regeneration")
		}
	}
	if err != nil {
		return nil, domainerrors.Database("failed to create payment", err)
	}

	u.nudgeDelivery(ctx)
	metrics.PaymentsTotal.WithLabelValues("create", string(payment.Status)).Inc()
	return payment, nil
}

// Charge performs authorize+capture on a pending payment.
func (u *PaymentUseCase) Charge(ctx context.Context, idOrExternal string, input ChargeInput) (*entities.Payment, error) {
	return u.chargeOrAuthorize(ctx, idOrExternal, input, false)
}

// Authorize places a hold on a pending payment; capture is deferred.
func (u *PaymentUseCase) Authorize(ctx context.Context, idOrExternal string, input ChargeInput) (*entities.Payment, error) {
	return u.chargeOrAuthorize(ctx, idOrExternal, input, true)
}

func (u *PaymentUseCase) chargeOrAuthorize(ctx context.Context, idOrExternal string, input ChargeInput, authorizeOnly bool) (*entities.Payment, error) {
	operation := "charge"
	targetStatus := entities.PaymentStatusCaptured
	eventType := entities.WebhookEventPaymentCaptured
	action := entities.AuditActionPaymentCaptured
	if authorizeOnly {
		operation = "authorize"
		targetStatus = entities.PaymentStatusAuthorized
		eventType = entities.WebhookEventPaymentCreated
		action = entities.AuditActionPaymentAuthorized
	}

	var (
		payment *entities.Payment
		resp    *processor.Response
		opErr   error
		card    *entities.Card
	)

	txErr := u.uow.Do(ctx, func(txCtx context.Context) error {
		locked := u.uow.WithLock(txCtx)
		p, err := u.getOne(locked, idOrExternal)
		if err != nil {
			opErr = err
			return nil
		}
		payment = p

		if p.Status != entities.PaymentStatusPending {
			opErr = domainerrors.Conflict("invalid_state", fmt.Sprintf("payment is %s, expected pending", p.Status))
			return nil
		}

		resolvedCard, billing, err := u.resolveCard(p, input.Card, input.Billing)
		if err != nil {
			opErr = err
			return nil
		}
		card = resolvedCard

		if err := u.breaker.Allow(); err != nil {
			opErr = domainerrors.External("processor temporarily unavailable", err)
			return nil
		}

		if authorizeOnly {
			resp, err = u.gateway.AuthorizeOnly(txCtx, p.Amount, *card, billing, u.orderInfo(p), p.ExternalID)
		} else {
			resp, err = u.gateway.ChargeCard(txCtx, p.Amount, *card, billing, u.orderInfo(p), p.ExternalID)
		}
		u.recordBreakerOutcome(err)

		if err != nil {
			opErr = u.handleProcessorError(txCtx, p, err, operation)
			return nil
		}

		from := p.Status
		now := u.clock.Now()
		p.CardLastFour = null.StringFrom(card.LastFour())
		p.CardBrand = null.StringFrom(card.Brand())
		if month, year, ok := card.Expiration(); ok {
			p.CardExpMonth = null.IntFrom(month)
			p.CardExpYear = null.IntFrom(year)
		}
		p.ProcessorTransactionID = null.StringFrom(resp.TransactionID)
		p.ProcessorResponseCode = null.StringFrom(resp.ResponseCode)
		p.ProcessorResponseMessage = null.StringFrom(resp.ResponseText)
		p.ProcessedAt = &now

		if resp.Status == processor.StatusDeclined {
			p.Status = entities.PaymentStatusDeclined
			if err := u.payments.Update(txCtx, p); err != nil {
				return err
			}
			if err := u.audit.RecordTransition(txCtx, p, entities.AuditActionPaymentDeclined, from, p.Status); err != nil {
				return err
			}
			_, err := u.dispatcher.Enqueue(txCtx, entities.WebhookEventPaymentFailed, &p.ID, paymentSnapshot(p))
			return err
		}

		p.Status = targetStatus
		if err := u.payments.Update(txCtx, p); err != nil {
			return err
		}
		if err := u.audit.RecordTransition(txCtx, p, action, from, p.Status); err != nil {
			return err
		}
		_, err = u.dispatcher.Enqueue(txCtx, eventType, &p.ID, paymentSnapshot(p))
		return err
	})

	return u.finishMutation(ctx, payment, resp, opErr, txErr, operation, func(txCtx context.Context, p *entities.Payment) error {
		if p.Status != entities.PaymentStatusPending {
			return domainerrors.Conflict("invalid_state", "payment state changed during commit retry")
		}
		from := p.Status
		now := u.clock.Now()
		// reapply the full processor outcome, card metadata included
		p.CardLastFour = null.StringFrom(card.LastFour())
		p.CardBrand = null.StringFrom(card.Brand())
		if month, year, ok := card.Expiration(); ok {
			p.CardExpMonth = null.IntFrom(month)
			p.CardExpYear = null.IntFrom(year)
		}
		p.ProcessorTransactionID = null.StringFrom(resp.TransactionID)
		p.ProcessorResponseCode = null.StringFrom(resp.ResponseCode)
		p.ProcessorResponseMessage = null.StringFrom(resp.ResponseText)
		p.ProcessedAt = &now
		retryAction, retryEvent := action, eventType
		if resp.Status == processor.StatusDeclined {
			p.Status = entities.PaymentStatusDeclined
			retryAction, retryEvent = entities.AuditActionPaymentDeclined, entities.WebhookEventPaymentFailed
		} else {
			p.Status = targetStatus
		}
		payment = p
		return u.persistTransition(p, from, retryAction, retryEvent)(txCtx)
	})
}

// Capture finalizes a payment. On a pending payment it performs the
// combined charge; on an authorized payment it captures the prior hold.
func (u *PaymentUseCase) Capture(ctx context.Context, idOrExternal string, input CaptureInput) (*entities.Payment, error) {
	probe, err := u.Get(ctx, idOrExternal)
	if err != nil {
		return nil, err
	}

	switch probe.Status {
	case entities.PaymentStatusPending:
		return u.Charge(ctx, idOrExternal, ChargeInput{Card: input.Card, Billing: input.Billing})
	case entities.PaymentStatusAuthorized:
		return u.capturePrior(ctx, idOrExternal, input)
	default:
		return nil, domainerrors.Conflict("invalid_state", fmt.Sprintf("payment is %s, expected pending or authorized", probe.Status))
	}
}

func (u *PaymentUseCase) capturePrior(ctx context.Context, idOrExternal string, input CaptureInput) (*entities.Payment, error) {
	var (
		payment *entities.Payment
		resp    *processor.Response
		opErr   error
	)

	txErr := u.uow.Do(ctx, func(txCtx context.Context) error {
		locked := u.uow.WithLock(txCtx)
		p, err := u.getOne(locked, idOrExternal)
		if err != nil {
			opErr = err
			return nil
		}
		payment = p

		if p.Status != entities.PaymentStatusAuthorized {
			opErr = domainerrors.Conflict("invalid_state", fmt.Sprintf("payment is %s, expected authorized", p.Status))
			return nil
		}

		amount := decimal.Zero // zero captures the full authorized amount
		if input.Amount != nil {
			amount = *input.Amount
			if !amount.IsPositive() || amount.GreaterThan(p.Amount) {
				opErr = domainerrors.Validation("invalid_amount", "capture amount must be positive and at most the authorized amount")
				return nil
			}
		}

		if err := u.breaker.Allow(); err != nil {
			opErr = domainerrors.External("processor temporarily unavailable", err)
			return nil
		}

		resp, err = u.gateway.Capture(txCtx, p.ProcessorTransactionID.String, amount, p.ExternalID)
		u.recordBreakerOutcome(err)
		if err != nil {
			opErr = u.handleProcessorError(txCtx, p, err, "capture")
			return nil
		}

		from := p.Status
		now := u.clock.Now()
		p.Status = entities.PaymentStatusCaptured
		p.ProcessorResponseCode = null.StringFrom(resp.ResponseCode)
		p.ProcessorResponseMessage = null.StringFrom(resp.ResponseText)
		p.ProcessedAt = &now
		return u.persistTransition(p, from, entities.AuditActionPaymentCaptured, entities.WebhookEventPaymentCaptured)(txCtx)
	})

	return u.finishMutation(ctx, payment, resp, opErr, txErr, "capture", func(txCtx context.Context, p *entities.Payment) error {
		if p.Status != entities.PaymentStatusAuthorized {
			return domainerrors.Conflict("invalid_state", "payment state changed during commit retry")
		}
		from := p.Status
		now := u.clock.Now()
		p.Status = entities.PaymentStatusCaptured
		p.ProcessedAt = &now
		payment = p
		return u.persistTransition(p, from, entities.AuditActionPaymentCaptured, entities.WebhookEventPaymentCaptured)(txCtx)
	})
}

// Refund returns money against a captured or settled payment. The row lock
// held across the processor call serializes concurrent refunds, so the
// remaining-amount check cannot be raced.
func (u *PaymentUseCase) Refund(ctx context.Context, idOrExternal string, input entities.RefundInput) (*entities.Payment, error) {
	var (
		payment *entities.Payment
		resp    *processor.Response
		opErr   error
		amount  decimal.Decimal
	)

	txErr := u.uow.Do(ctx, func(txCtx context.Context) error {
		locked := u.uow.WithLock(txCtx)
		p, err := u.getOne(locked, idOrExternal)
		if err != nil {
			opErr = err
			return nil
		}
		payment = p

		if !p.Refundable() {
			opErr = domainerrors.Conflict("invalid_state", fmt.Sprintf("payment is %s and cannot be refunded", p.Status))
			return nil
		}

		remaining := p.RemainingRefundable()
		amount = remaining
		if input.Amount != nil {
			amount = *input.Amount
		}
		if !amount.IsPositive() || amount.Exponent() < -2 {
			opErr = domainerrors.Validation("invalid_amount", "refund amount must be positive with at most two decimal places")
			return nil
		}
		if amount.GreaterThan(remaining) {
			opErr = domainerrors.New(domainerrors.KindPayment, "refund_exceeds_remaining",
				fmt.Sprintf("refund amount %s exceeds remaining refundable %s", amount.StringFixed(2), remaining.StringFixed(2)),
				domainerrors.ErrRefundExceedsAmount)
			return nil
		}

		if err := u.breaker.Allow(); err != nil {
			opErr = domainerrors.External("processor temporarily unavailable", err)
			return nil
		}

		refID := fmt.Sprintf("%s:refund:%d", p.ExternalID, p.RefundCount+1)
		resp, err = u.gateway.Refund(txCtx, p.ProcessorTransactionID.String, amount, u.refundCard(p), refID)
		u.recordBreakerOutcome(err)
		if err != nil {
			opErr = u.handleProcessorError(txCtx, p, err, "refund")
			return nil
		}

		return u.applyRefund(txCtx, p, amount, input.Reason)
	})

	return u.finishMutation(ctx, payment, resp, opErr, txErr, "refund", func(txCtx context.Context, p *entities.Payment) error {
		if !p.Refundable() {
			return domainerrors.Conflict("invalid_state", "payment state changed during commit retry")
		}
		payment = p
		return u.applyRefund(txCtx, p, amount, input.Reason)
	})
}

func (u *PaymentUseCase) applyRefund(ctx context.Context, p *entities.Payment, amount decimal.Decimal, reason string) error {
	from := p.Status
	p.RefundedAmount = p.RefundedAmount.Add(amount)
	p.RefundCount++
	if p.RefundedAmount.Equal(p.Amount) {
		p.Status = entities.PaymentStatusRefunded
	} else {
		p.Status = entities.PaymentStatusPartiallyRefunded
	}

	if err := u.payments.Update(ctx, p); err != nil {
		return err
	}
	if err := u.audit.Record(ctx, AuditEntry{
		Action:     entities.AuditActionPaymentRefunded,
		Message:    "refund of " + amount.StringFixed(2) + " applied",
		EntityType: "payment",
		EntityID:   p.ExternalID,
		PaymentID:  &p.ID,
		Metadata:   map[string]interface{}{"refund_amount": amount.StringFixed(2), "reason": reason},
		OldValues:  map[string]interface{}{"status": string(from)},
		NewValues:  map[string]interface{}{"status": string(p.Status), "refunded_amount": p.RefundedAmount.StringFixed(2)},
	}); err != nil {
		return err
	}
	_, err := u.dispatcher.Enqueue(ctx, entities.WebhookEventPaymentRefunded, &p.ID, paymentSnapshot(p))
	return err
}

// Cancel voids a payment that has not captured. A pending payment with no
// processor transaction is voided locally without an upstream call.
func (u *PaymentUseCase) Cancel(ctx context.Context, idOrExternal string, input entities.CancelInput) (*entities.Payment, error) {
	var (
		payment *entities.Payment
		resp    *processor.Response
		opErr   error
	)

	txErr := u.uow.Do(ctx, func(txCtx context.Context) error {
		locked := u.uow.WithLock(txCtx)
		p, err := u.getOne(locked, idOrExternal)
		if err != nil {
			opErr = err
			return nil
		}
		payment = p

		if !p.Voidable() {
			opErr = domainerrors.Conflict("invalid_state", fmt.Sprintf("payment is %s and cannot be cancelled", p.Status))
			return nil
		}

		if p.ProcessorTransactionID.Valid {
			if err := u.breaker.Allow(); err != nil {
				opErr = domainerrors.External("processor temporarily unavailable", err)
				return nil
			}
			resp, err = u.gateway.Void(txCtx, p.ProcessorTransactionID.String, p.ExternalID)
			u.recordBreakerOutcome(err)
			if err != nil {
				opErr = u.handleProcessorError(txCtx, p, err, "void")
				return nil
			}
		}

		from := p.Status
		p.Status = entities.PaymentStatusVoided
		return u.persistTransition(p, from, entities.AuditActionPaymentVoided, entities.WebhookEventPaymentVoided)(txCtx)
	})

	return u.finishMutation(ctx, payment, resp, opErr, txErr, "void", func(txCtx context.Context, p *entities.Payment) error {
		if !p.Voidable() {
			return domainerrors.Conflict("invalid_state", "payment state changed during commit retry")
		}
		from := p.Status
		p.Status = entities.PaymentStatusVoided
		payment = p
		return u.persistTransition(p, from, entities.AuditActionPaymentVoided, entities.WebhookEventPaymentVoided)(txCtx)
	})
}

// Settle marks a captured payment as settled. Driven by the inbound
// processor webhook, not by merchant requests.
func (u *PaymentUseCase) Settle(ctx context.Context, processorTxnID string) (*entities.Payment, error) {
	var payment *entities.Payment
	var opErr error

	txErr := u.uow.Do(ctx, func(txCtx context.Context) error {
		locked := u.uow.WithLock(txCtx)
		p, err := u.payments.GetByProcessorTransactionID(locked, processorTxnID)
		if err != nil {
			if errors.Is(err, domainerrors.ErrNotFound) {
				opErr = domainerrors.NotFound("no payment for processor transaction " + processorTxnID)
				return nil
			}
			return err
		}
		payment = p

		if p.Status != entities.PaymentStatusCaptured {
			opErr = domainerrors.Conflict("invalid_state", fmt.Sprintf("payment is %s, expected captured", p.Status))
			return nil
		}

		from := p.Status
		now := u.clock.Now()
		p.Status = entities.PaymentStatusSettled
		p.SettledAt = &now
		return u.persistTransition(p, from, entities.AuditActionPaymentSettled, entities.WebhookEventPaymentSettled)(txCtx)
	})

	if opErr != nil {
		return nil, opErr
	}
	if txErr != nil {
		return nil, domainerrors.Database("failed to settle payment", txErr)
	}
	u.nudgeDelivery(ctx)
	metrics.PaymentsTotal.WithLabelValues("settle", string(payment.Status)).Inc()
	return payment, nil
}

// Update mutates description and metadata only.
func (u *PaymentUseCase) Update(ctx context.Context, idOrExternal string, input entities.UpdatePaymentInput) (*entities.Payment, error) {
	if input.Metadata != nil && !entities.ValidMetadata(input.Metadata) {
		return nil, domainerrors.Validation("metadata_too_large", "metadata exceeds the serialized size cap")
	}

	var payment *entities.Payment
	var opErr error

	txErr := u.uow.Do(ctx, func(txCtx context.Context) error {
		locked := u.uow.WithLock(txCtx)
		p, err := u.getOne(locked, idOrExternal)
		if err != nil {
			opErr = err
			return nil
		}

		old := map[string]interface{}{"description": p.Description.String}
		if input.Description != nil {
			p.Description = null.StringFrom(*input.Description)
		}
		if input.Metadata != nil {
			p.Metadata = input.Metadata
		}
		payment = p

		if err := u.payments.Update(txCtx, p); err != nil {
			return err
		}
		return u.audit.Record(txCtx, AuditEntry{
			Action:     entities.AuditActionPaymentUpdated,
			Message:    "payment description/metadata updated",
			EntityType: "payment",
			EntityID:   p.ExternalID,
			PaymentID:  &p.ID,
			OldValues:  old,
			NewValues:  map[string]interface{}{"description": p.Description.String},
		})
	})

	if opErr != nil {
		return nil, opErr
	}
	if txErr != nil {
		return nil, domainerrors.Database("failed to update payment", txErr)
	}
	return payment, nil
}

// Get resolves a payment by internal UUID or merchant-facing external id.
func (u *PaymentUseCase) Get(ctx context.Context, idOrExternal string) (*entities.Payment, error) {
	p, err := u.getOne(ctx, idOrExternal)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns a filtered page of payments.
func (u *PaymentUseCase) List(ctx context.Context, filter entities.ListPaymentsFilter, page utils.PaginationParams) ([]*entities.Payment, utils.PaginationMeta, error) {
	payments, total, err := u.payments.List(ctx, filter, page.Limit, page.CalculateOffset())
	if err != nil {
		return nil, utils.PaginationMeta{}, domainerrors.Database("failed to list payments", err)
	}
	return payments, utils.CalculateMeta(total, page.Page, page.Limit), nil
}

// Stats aggregates volumes for the filter.
func (u *PaymentUseCase) Stats(ctx context.Context, filter entities.ListPaymentsFilter) (*entities.PaymentStats, error) {
	stats, err := u.payments.Stats(ctx, filter)
	if err != nil {
		return nil, domainerrors.Database("failed to aggregate payment stats", err)
	}
	return stats, nil
}

// --- internals ---

func (u *PaymentUseCase) getOne(ctx context.Context, idOrExternal string) (*entities.Payment, error) {
	var (
		p   *entities.Payment
		err error
	)
	if id, parseErr := uuid.Parse(idOrExternal); parseErr == nil {
		p, err = u.payments.GetByID(ctx, id)
	} else if entities.ValidExternalID(idOrExternal) {
		p, err = u.payments.GetByExternalID(ctx, idOrExternal)
	} else {
		return nil, domainerrors.NotFound("payment not found")
	}

	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.NotFound("payment not found")
		}
		return nil, domainerrors.Database("failed to load payment", err)
	}
	return p, nil
}

func (u *PaymentUseCase) validateCreate(input *entities.CreatePaymentInput) error {
	if !entities.ValidAmount(input.Amount) {
		return domainerrors.Validation("invalid_amount", "amount must be positive, have at most two decimal places and not exceed 999999.99")
	}

	if input.Currency == "" {
		input.Currency = u.cfg.DefaultCurrency
	}
	input.Currency = strings.ToUpper(input.Currency)
	if !u.currencySupported(input.Currency) {
		return domainerrors.Validation("unsupported_currency", "currency "+input.Currency+" is not supported")
	}

	switch input.PaymentMethod {
	case entities.PaymentMethodCreditCard, entities.PaymentMethodDebitCard:
	default:
		return domainerrors.Validation("invalid_payment_method", "payment_method must be credit_card or debit_card")
	}

	if input.CardToken == "" {
		return domainerrors.Validation("missing_card_token", "card_token is required")
	}
	if input.CustomerEmail != "" && !entities.ValidEmail(input.CustomerEmail) {
		return domainerrors.Validation("invalid_email", "customer_email is not a valid address")
	}
	if input.ExternalID != "" && !entities.ValidExternalID(input.ExternalID) {
		return domainerrors.Validation("invalid_external_id", "external_id must match pay_ followed by 12 hex characters")
	}
	if !entities.ValidMetadata(input.Metadata) {
		return domainerrors.Validation("metadata_too_large", "metadata exceeds the serialized size cap")
	}
	return nil
}

func (u *PaymentUseCase) currencySupported(currency string) bool {
	for _, c := range u.cfg.SupportedCurrencies {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

func (u *PaymentUseCase) buildPayment(input entities.CreatePaymentInput, externalID string) *entities.Payment {
	p := &entities.Payment{
		ExternalID:     externalID,
		Amount:         input.Amount,
		Currency:       input.Currency,
		PaymentMethod:  input.PaymentMethod,
		CardToken:      input.CardToken,
		RefundedAmount: decimal.Zero,
		Status:         entities.PaymentStatusPending,
		Metadata:       input.Metadata,
		IsTest:         input.IsTest,
		IsLive:         !input.IsTest,
	}
	if input.CustomerID != "" {
		p.CustomerID = null.StringFrom(input.CustomerID)
	}
	if input.CustomerEmail != "" {
		p.CustomerEmail = null.StringFrom(input.CustomerEmail)
	}
	if input.CustomerName != "" {
		p.CustomerName = null.StringFrom(input.CustomerName)
	}
	if input.Description != "" {
		p.Description = null.StringFrom(input.Description)
	}
	return p
}

// resolveCard returns the card to present to the processor: explicit card
// details win; otherwise well-known test tokens are expanded for test
// payments.
func (u *PaymentUseCase) resolveCard(p *entities.Payment, card *entities.Card, billing *entities.BillingAddress) (*entities.Card, *entities.BillingAddress, error) {
	if card != nil {
		return card, billing, nil
	}
	if p.IsTest {
		if resolved, ok := testCardForToken(p.CardToken); ok {
			return resolved, billing, nil
		}
	}
	return nil, nil, domainerrors.Validation("card_required", "card details are required: the stored token cannot be resolved")
}

// refundCard reconstructs the masked card the gateway requires on refunds.
func (u *PaymentUseCase) refundCard(p *entities.Payment) entities.Card {
	exp := ""
	if p.CardExpMonth.Valid && p.CardExpYear.Valid {
		exp = fmt.Sprintf("%02d%02d", p.CardExpMonth.Int, p.CardExpYear.Int%100)
	}
	return entities.Card{
		Number:         p.CardLastFour.String,
		ExpirationDate: exp,
	}
}

func (u *PaymentUseCase) orderInfo(p *entities.Payment) *processor.OrderInfo {
	if !p.Description.Valid {
		return nil
	}
	return &processor.OrderInfo{InvoiceNumber: p.ExternalID, Description: p.Description.String}
}

// recordBreakerOutcome feeds the circuit breaker. Declines and transaction
// errors are successful round-trips from the breaker's point of view.
func (u *PaymentUseCase) recordBreakerOutcome(err error) {
	var netErr *processor.NetworkError
	var authErr *processor.AuthError
	switch {
	case err == nil:
		u.breaker.RecordSuccess()
	case errors.As(err, &netErr), errors.As(err, &authErr):
		u.breaker.RecordFailure()
	default:
		u.breaker.RecordSuccess()
	}
	metrics.CircuitBreakerState.Set(float64(u.breaker.State()))
}

// handleProcessorError maps a failed processor call to the resulting
// payment state and API error. Runs inside the mutation transaction.
func (u *PaymentUseCase) handleProcessorError(ctx context.Context, p *entities.Payment, err error, operation string) error {
	var txnErr *processor.TransactionError
	var valErr *processor.ValidationError

	switch {
	case errors.As(err, &valErr):
		return domainerrors.Validation("invalid_card", valErr.Error())

	case errors.As(err, &txnErr):
		// hard processor rejection: the payment is failed
		from := p.Status
		p.Status = entities.PaymentStatusFailed
		p.ProcessorResponseCode = null.StringFrom(txnErr.ResponseCode)
		p.ProcessorResponseMessage = null.StringFrom(txnErr.Message)
		if updateErr := u.payments.Update(ctx, p); updateErr != nil {
			logger.Error(ctx, "failed to persist failed status", zap.Error(updateErr))
		}
		if auditErr := u.audit.RecordTransition(ctx, p, entities.AuditActionPaymentFailed, from, p.Status); auditErr != nil {
			logger.Error(ctx, "failed to audit failed transition", zap.Error(auditErr))
		}
		if _, whErr := u.dispatcher.Enqueue(ctx, entities.WebhookEventPaymentFailed, &p.ID, paymentSnapshot(p)); whErr != nil {
			logger.Error(ctx, "failed to enqueue failure webhook", zap.Error(whErr))
		}
		metrics.PaymentsTotal.WithLabelValues(operation, string(p.Status)).Inc()
		return domainerrors.Payment("processor_rejected", txnErr.Message)

	default:
		// network or auth failure: no state change, caller may retry
		if auditErr := u.audit.Record(ctx, AuditEntry{
			Action:     entities.AuditActionPaymentFailed,
			Level:      entities.AuditLevelWarning,
			Message:    operation + " could not reach the processor; payment left unchanged",
			EntityType: "payment",
			EntityID:   p.ExternalID,
			PaymentID:  &p.ID,
			Metadata:   map[string]interface{}{"error": err.Error()},
		}); auditErr != nil {
			logger.Error(ctx, "failed to audit processor failure", zap.Error(auditErr))
		}
		return domainerrors.External("processor call failed", err)
	}
}

// persistTransition saves the payment, appends the transition audit record
// and enqueues the webhook, all in the supplied transaction context.
func (u *PaymentUseCase) persistTransition(p *entities.Payment, from entities.PaymentStatus, action entities.AuditAction, eventType entities.WebhookEventType) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := u.payments.Update(ctx, p); err != nil {
			return err
		}
		if err := u.audit.RecordTransition(ctx, p, action, from, p.Status); err != nil {
			return err
		}
		_, err := u.dispatcher.Enqueue(ctx, eventType, &p.ID, paymentSnapshot(p))
		return err
	}
}

// finishMutation implements the commit-retry contract: when the processor
// accepted the transaction but the local commit failed, the persistence
// phase alone is retried with backoff; exhausted retries surface a
// reconciliation task so the money movement is never silently lost.
func (u *PaymentUseCase) finishMutation(
	ctx context.Context,
	payment *entities.Payment,
	resp *processor.Response,
	opErr, txErr error,
	operation string,
	reapply func(txCtx context.Context, p *entities.Payment) error,
) (*entities.Payment, error) {
	if opErr != nil {
		return nil, opErr
	}
	if txErr == nil {
		u.nudgeDelivery(ctx)
		if payment != nil {
			metrics.PaymentsTotal.WithLabelValues(operation, string(payment.Status)).Inc()
		}
		return payment, nil
	}

	// commit failed without a successful processor call: plain database error
	if resp == nil {
		return nil, domainerrors.Database("failed to commit payment mutation", txErr)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		time.Sleep(u.commitBackoff.NextDelay(attempt))

		retryErr := u.uow.Do(ctx, func(txCtx context.Context) error {
			locked := u.uow.WithLock(txCtx)
			p, err := u.getOne(locked, payment.ExternalID)
			if err != nil {
				return err
			}
			return reapply(txCtx, p)
		})
		if retryErr == nil {
			logger.Warn(ctx, "payment commit succeeded after retry",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
			)
			u.nudgeDelivery(ctx)
			metrics.PaymentsTotal.WithLabelValues(operation, string(payment.Status)).Inc()
			return payment, nil
		}
		var ce *domainerrors.CoreError
		if errors.As(retryErr, &ce) && ce.Kind == domainerrors.KindConflict {
			return nil, retryErr
		}
		txErr = retryErr
	}

	// retries exhausted: preserve the processor transaction id for manual
	// reconciliation
	_ = u.audit.Record(ctx, AuditEntry{
		Action:     entities.AuditActionPaymentReconciliation,
		Level:      entities.AuditLevelCritical,
		Message:    "processor accepted " + operation + " but local commit failed; reconciliation required",
		EntityType: "payment",
		EntityID:   payment.ExternalID,
		PaymentID:  &payment.ID,
		Metadata: map[string]interface{}{
			"processor_transaction_id": resp.TransactionID,
			"operation":                operation,
		},
	})
	if u.scheduler != nil {
		if err := u.scheduler.EnqueuePaymentReconcile(ctx, payment.ID, resp.TransactionID, operation); err != nil {
			logger.Error(ctx, "failed to enqueue reconciliation task", zap.Error(err))
		}
	}
	return nil, domainerrors.Database("commit failed after processor success; reconciliation scheduled", txErr)
}

// nudgeDelivery asks the worker to sweep the outbox promptly instead of
// waiting for the next scheduled tick. Best effort.
func (u *PaymentUseCase) nudgeDelivery(ctx context.Context) {
	if u.scheduler == nil {
		return
	}
	if err := u.scheduler.EnqueueWebhookDeliver(ctx, nil); err != nil {
		logger.Warn(ctx, "failed to schedule webhook delivery sweep", zap.Error(err))
	}
}

// paymentSnapshot renders the entity as the webhook event data block.
func paymentSnapshot(p *entities.Payment) map[string]interface{} {
	snapshot := map[string]interface{}{
		"id":              p.ID.String(),
		"external_id":     p.ExternalID,
		"amount":          p.Amount.StringFixed(2),
		"currency":        p.Currency,
		"payment_method":  string(p.PaymentMethod),
		"status":          string(p.Status),
		"refunded_amount": p.RefundedAmount.StringFixed(2),
		"is_test":         p.IsTest,
		"created_at":      p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.CustomerID.Valid {
		snapshot["customer_id"] = p.CustomerID.String
	}
	if p.ProcessorTransactionID.Valid {
		snapshot["processor_transaction_id"] = p.ProcessorTransactionID.String
	}
	if p.CardLastFour.Valid {
		snapshot["card_last_four"] = p.CardLastFour.String
	}
	return snapshot
}

// testCardForToken expands the well-known sandbox tokens into full test
// cards. Production tokens require a vault, which is out of scope for test
// traffic.
func testCardForToken(token string) (*entities.Card, bool) {
	cards := map[string]string{
		"tok_visa_4242":       "4242424242424242",
		"tok_visa_1111":       "4111111111111111",
		"tok_mastercard_4444": "5555555555554444",
		"tok_amex_0005":       "378282246310005",
		"tok_discover_1117":   "6011000990139424",
	}
	number, ok := cards[token]
	if !ok {
		return nil, false
	}
	return &entities.Card{
		Number:         number,
		ExpirationDate: "1230",
		CVV:            "123",
	}, true
}
