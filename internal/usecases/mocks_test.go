package usecases_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"easypay.backend/internal/domain/entities"
	domainerrors "easypay.backend/internal/domain/errors"
	"easypay.backend/internal/infrastructure/processor"
)

// fakeUnitOfWork runs the function inline. failCommits > 0 makes the next N
// commits fail after the function ran, simulating a commit-time failure;
// snapshot (when set) provides rollback so the stores behave transactionally.
// Transactions are serialized against each other, the way row locks
// serialize them in the real store.
type fakeUnitOfWork struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	failCommits int
	commitErr   error
	snapshot    func() (restore func())
}

func (u *fakeUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	u.txMu.Lock()
	defer u.txMu.Unlock()

	var restore func()
	if u.snapshot != nil {
		restore = u.snapshot()
	}
	if err := fn(ctx); err != nil {
		if restore != nil {
			restore()
		}
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failCommits > 0 {
		u.failCommits--
		if restore != nil {
			restore()
		}
		return u.commitErr
	}
	return nil
}

func (u *fakeUnitOfWork) WithLock(ctx context.Context) context.Context { return ctx }

// memPaymentRepo is an in-memory PaymentRepository. Entities are stored by
// value so mutations only persist through Update, like a real store.
type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]entities.Payment
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{payments: make(map[uuid.UUID]entities.Payment)}
}

func (r *memPaymentRepo) Create(ctx context.Context, p *entities.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.ExternalID == p.ExternalID {
			return domainerrors.ErrAlreadyExists
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	r.payments[p.ID] = *p
	return nil
}

func (r *memPaymentRepo) snapshot() func() {
	r.mu.Lock()
	copied := make(map[uuid.UUID]entities.Payment, len(r.payments))
	for k, v := range r.payments {
		copied[k] = v
	}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.payments = copied
		r.mu.Unlock()
	}
}

func (r *memPaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	return &p, nil
}

func (r *memPaymentRepo) GetByExternalID(ctx context.Context, externalID string) (*entities.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ExternalID == externalID {
			p := p
			return &p, nil
		}
	}
	return nil, domainerrors.ErrNotFound
}

func (r *memPaymentRepo) GetByProcessorTransactionID(ctx context.Context, txnID string) (*entities.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ProcessorTransactionID.Valid && p.ProcessorTransactionID.String == txnID {
			p := p
			return &p, nil
		}
	}
	return nil, domainerrors.ErrNotFound
}

func (r *memPaymentRepo) Update(ctx context.Context, p *entities.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; !ok {
		return domainerrors.ErrNotFound
	}
	r.payments[p.ID] = *p
	return nil
}

func (r *memPaymentRepo) List(ctx context.Context, filter entities.ListPaymentsFilter, limit, offset int) ([]*entities.Payment, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Payment
	for _, p := range r.payments {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.CustomerID != "" && p.CustomerID.String != filter.CustomerID {
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	total := int64(len(out))
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *memPaymentRepo) Stats(ctx context.Context, filter entities.ListPaymentsFilter) (*entities.PaymentStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &entities.PaymentStats{
		TotalVolume:    decimal.Zero,
		CapturedVolume: decimal.Zero,
		RefundedVolume: decimal.Zero,
	}
	for _, p := range r.payments {
		stats.TotalCount++
		stats.TotalVolume = stats.TotalVolume.Add(p.Amount)
	}
	return stats, nil
}

// memWebhookRepo is an in-memory WebhookRepository.
type memWebhookRepo struct {
	mu       sync.Mutex
	webhooks map[uuid.UUID]entities.Webhook
}

func newMemWebhookRepo() *memWebhookRepo {
	return &memWebhookRepo{webhooks: make(map[uuid.UUID]entities.Webhook)}
}

func (r *memWebhookRepo) Create(ctx context.Context, w *entities.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.webhooks {
		if existing.EventID == w.EventID {
			return domainerrors.ErrAlreadyExists
		}
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.CreatedAt = time.Now().UTC()
	r.webhooks[w.ID] = *w
	return nil
}

func (r *memWebhookRepo) snapshot() func() {
	r.mu.Lock()
	copied := make(map[uuid.UUID]entities.Webhook, len(r.webhooks))
	for k, v := range r.webhooks {
		copied[k] = v
	}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.webhooks = copied
		r.mu.Unlock()
	}
}

func (r *memWebhookRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.webhooks[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	return &w, nil
}

func (r *memWebhookRepo) GetByEventID(ctx context.Context, eventID string) (*entities.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.webhooks {
		if w.EventID == eventID {
			w := w
			return &w, nil
		}
	}
	return nil, domainerrors.ErrNotFound
}

func (r *memWebhookRepo) Update(ctx context.Context, w *entities.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.webhooks[w.ID]; !ok {
		return domainerrors.ErrNotFound
	}
	r.webhooks[w.ID] = *w
	return nil
}

func (r *memWebhookRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*entities.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*entities.Webhook
	for _, w := range r.webhooks {
		if w.Status != entities.WebhookStatusPending && w.Status != entities.WebhookStatusRetrying {
			continue
		}
		if w.NextRetryAt == nil || w.NextRetryAt.After(now) {
			continue
		}
		w := w
		due = append(due, &w)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if limit > 0 && limit < len(due) {
		due = due[:limit]
	}
	return due, nil
}

func (r *memWebhookRepo) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*entities.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Webhook
	for _, w := range r.webhooks {
		if w.PaymentID != nil && *w.PaymentID == paymentID {
			w := w
			out = append(out, &w)
		}
	}
	return out, nil
}

func (r *memWebhookRepo) byEventType(eventType entities.WebhookEventType) []*entities.Webhook {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Webhook
	for _, w := range r.webhooks {
		if w.EventType == eventType {
			w := w
			out = append(out, &w)
		}
	}
	return out
}

// memAuditRepo records audit entries in memory.
type memAuditRepo struct {
	mu   sync.Mutex
	logs []entities.AuditLog
}

func (r *memAuditRepo) Create(ctx context.Context, log *entities.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.CreatedAt = time.Now().UTC()
	r.logs = append(r.logs, *log)
	return nil
}

func (r *memAuditRepo) List(ctx context.Context, filter entities.ListAuditLogsFilter, limit, offset int) ([]*entities.AuditLog, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.AuditLog
	for i := range r.logs {
		out = append(out, &r.logs[i])
	}
	return out, int64(len(out)), nil
}

func (r *memAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *memAuditRepo) byAction(action entities.AuditAction) []entities.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.AuditLog
	for _, l := range r.logs {
		if l.Action == action {
			out = append(out, l)
		}
	}
	return out
}

// MockGateway is a testify mock of the processor gateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) ChargeCard(ctx context.Context, amount decimal.Decimal, card entities.Card, billing *entities.BillingAddress, order *processor.OrderInfo, refID string) (*processor.Response, error) {
	args := m.Called(ctx, amount, card, billing, order, refID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Response), args.Error(1)
}

func (m *MockGateway) AuthorizeOnly(ctx context.Context, amount decimal.Decimal, card entities.Card, billing *entities.BillingAddress, order *processor.OrderInfo, refID string) (*processor.Response, error) {
	args := m.Called(ctx, amount, card, billing, order, refID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Response), args.Error(1)
}

func (m *MockGateway) Capture(ctx context.Context, txnID string, amount decimal.Decimal, refID string) (*processor.Response, error) {
	args := m.Called(ctx, txnID, amount, refID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Response), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, txnID string, amount decimal.Decimal, card entities.Card, refID string) (*processor.Response, error) {
	args := m.Called(ctx, txnID, amount, card, refID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Response), args.Error(1)
}

func (m *MockGateway) Void(ctx context.Context, txnID string, refID string) (*processor.Response, error) {
	args := m.Called(ctx, txnID, refID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Response), args.Error(1)
}

// fakeScheduler records enqueued background work.
type fakeScheduler struct {
	mu         sync.Mutex
	sweeps     int
	reconciles []string
}

func (s *fakeScheduler) EnqueueWebhookDeliver(ctx context.Context, webhookID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps++
	return nil
}

func (s *fakeScheduler) EnqueuePaymentReconcile(ctx context.Context, paymentID uuid.UUID, processorTxnID, operation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciles = append(s.reconciles, processorTxnID+"/"+operation)
	return nil
}
