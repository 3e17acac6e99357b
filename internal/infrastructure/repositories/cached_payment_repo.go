package repositories

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"easypay.backend/internal/domain/entities"
	domainRepos "easypay.backend/internal/domain/repositories"
	"easypay.backend/pkg/logger"
	"easypay.backend/pkg/redis"
)

const (
	paymentCacheTTL = 5 * time.Minute
	listCacheTTL    = 5 * time.Minute
	statsCacheTTL   = 10 * time.Minute

	paymentListPrefix  = "payment_list:"
	paymentStatsPrefix = "payment_stats:"
)

// TaskEnqueuer defers work that must eventually happen even when it fails
// inline, such as a cache invalidation after Redis was briefly unreachable.
type TaskEnqueuer interface {
	EnqueueCacheInvalidate(ctx context.Context, patterns ...string) error
}

// CachedPaymentRepository decorates a PaymentRepository with a Redis
// read-through cache. Reads inside a transaction bypass the cache so locked
// rows always reflect database state. Cache errors never fail the request:
// they are logged and the invalidation is retried through the task queue.
type CachedPaymentRepository struct {
	inner    domainRepos.PaymentRepository
	enqueuer TaskEnqueuer
}

// NewCachedPaymentRepository creates a caching decorator around inner.
// enqueuer may be nil, in which case failed invalidations are only logged.
func NewCachedPaymentRepository(inner domainRepos.PaymentRepository, enqueuer TaskEnqueuer) *CachedPaymentRepository {
	return &CachedPaymentRepository{inner: inner, enqueuer: enqueuer}
}

func inTransaction(ctx context.Context) bool {
	return ctx.Value(txKey) != nil
}

// Create writes through to the database and invalidates list caches
func (r *CachedPaymentRepository) Create(ctx context.Context, payment *entities.Payment) error {
	if err := r.inner.Create(ctx, payment); err != nil {
		return err
	}
	r.invalidate(ctx, payment)
	return nil
}

// GetByID serves from cache outside transactions
func (r *CachedPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Payment, error) {
	return r.cachedGet(ctx, paymentKey(id), func() (*entities.Payment, error) {
		return r.inner.GetByID(ctx, id)
	})
}

// GetByExternalID serves from cache outside transactions
func (r *CachedPaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*entities.Payment, error) {
	return r.cachedGet(ctx, paymentExternalKey(externalID), func() (*entities.Payment, error) {
		return r.inner.GetByExternalID(ctx, externalID)
	})
}

// GetByProcessorTransactionID serves from cache outside transactions
func (r *CachedPaymentRepository) GetByProcessorTransactionID(ctx context.Context, txnID string) (*entities.Payment, error) {
	return r.cachedGet(ctx, paymentProcessorKey(txnID), func() (*entities.Payment, error) {
		return r.inner.GetByProcessorTransactionID(ctx, txnID)
	})
}

func (r *CachedPaymentRepository) cachedGet(ctx context.Context, key string, load func() (*entities.Payment, error)) (*entities.Payment, error) {
	if inTransaction(ctx) {
		return load()
	}

	if raw, err := redis.Get(ctx, key); err == nil {
		var p entities.Payment
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return &p, nil
		}
		logger.Warn(ctx, "corrupt cache entry, evicting", zap.String("key", key))
		_ = redis.Del(ctx, key)
	} else if !redis.IsNil(err) {
		logger.Warn(ctx, "cache read failed, falling back to database", zap.String("key", key), zap.Error(err))
	}

	p, err := load()
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(p); err == nil {
		if err := redis.Set(ctx, key, string(raw), paymentCacheTTL); err != nil {
			logger.Warn(ctx, "cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return p, nil
}

// Update writes through and drops every cached view of the payment
func (r *CachedPaymentRepository) Update(ctx context.Context, payment *entities.Payment) error {
	if err := r.inner.Update(ctx, payment); err != nil {
		return err
	}
	r.invalidate(ctx, payment)
	return nil
}

// List caches the filtered page under a fingerprint of the filter
func (r *CachedPaymentRepository) List(ctx context.Context, filter entities.ListPaymentsFilter, limit, offset int) ([]*entities.Payment, int64, error) {
	if inTransaction(ctx) {
		return r.inner.List(ctx, filter, limit, offset)
	}

	key := paymentListPrefix + fingerprintKey(fmt.Sprintf("%s|%d|%d", filter.Fingerprint(), limit, offset))

	type cachedPage struct {
		Payments []*entities.Payment `json:"payments"`
		Total    int64               `json:"total"`
	}

	if raw, err := redis.Get(ctx, key); err == nil {
		var page cachedPage
		if err := json.Unmarshal([]byte(raw), &page); err == nil {
			return page.Payments, page.Total, nil
		}
		_ = redis.Del(ctx, key)
	} else if !redis.IsNil(err) {
		logger.Warn(ctx, "cache read failed, falling back to database", zap.String("key", key), zap.Error(err))
	}

	payments, total, err := r.inner.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	if raw, err := json.Marshal(cachedPage{Payments: payments, Total: total}); err == nil {
		if err := redis.Set(ctx, key, string(raw), listCacheTTL); err != nil {
			logger.Warn(ctx, "cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return payments, total, nil
}

// Stats caches the aggregate under a fingerprint of the filter
func (r *CachedPaymentRepository) Stats(ctx context.Context, filter entities.ListPaymentsFilter) (*entities.PaymentStats, error) {
	if inTransaction(ctx) {
		return r.inner.Stats(ctx, filter)
	}

	key := paymentStatsPrefix + fingerprintKey(filter.Fingerprint())

	if raw, err := redis.Get(ctx, key); err == nil {
		var stats entities.PaymentStats
		if err := json.Unmarshal([]byte(raw), &stats); err == nil {
			return &stats, nil
		}
		_ = redis.Del(ctx, key)
	} else if !redis.IsNil(err) {
		logger.Warn(ctx, "cache read failed, falling back to database", zap.String("key", key), zap.Error(err))
	}

	stats, err := r.inner.Stats(ctx, filter)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(stats); err == nil {
		if err := redis.Set(ctx, key, string(raw), statsCacheTTL); err != nil {
			logger.Warn(ctx, "cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return stats, nil
}

// invalidate reconciles the cache with a write: the payment's primary key
// is rewritten with the new row, derived keys and all list/stats pages are
// dropped. Inside a transaction the work waits for the commit, so a
// concurrent miss can never repopulate the cache with the pre-commit row.
func (r *CachedPaymentRepository) invalidate(ctx context.Context, payment *entities.Payment) {
	if inTransaction(ctx) {
		committed := *payment
		AfterCommit(ctx, func(ctx context.Context) {
			r.invalidateCommitted(ctx, &committed)
		})
		return
	}
	r.invalidateCommitted(ctx, payment)
}

// invalidateCommitted applies the cache effects of a committed write. A
// failed invalidation is deferred to the task queue so stale entries cannot
// outlive their TTL unnoticed.
func (r *CachedPaymentRepository) invalidateCommitted(ctx context.Context, payment *entities.Payment) {
	var failed []string

	// write the committed row through to its primary key; on failure fall
	// back to dropping it
	primary := paymentKey(payment.ID)
	if raw, err := json.Marshal(payment); err == nil {
		if err := redis.Set(ctx, primary, string(raw), paymentCacheTTL); err != nil {
			logger.Warn(ctx, "cache write-through failed", zap.String("key", primary), zap.Error(err))
			failed = append(failed, primary)
		}
	}

	keys := []string{paymentExternalKey(payment.ExternalID)}
	if payment.ProcessorTransactionID.Valid {
		keys = append(keys, paymentProcessorKey(payment.ProcessorTransactionID.String))
	}
	if err := redis.Del(ctx, keys...); err != nil {
		logger.Warn(ctx, "cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
		failed = append(failed, keys...)
	}
	for _, pattern := range []string{paymentListPrefix + "*", paymentStatsPrefix + "*"} {
		if _, err := redis.InvalidatePattern(ctx, pattern); err != nil {
			logger.Warn(ctx, "cache pattern invalidation failed", zap.String("pattern", pattern), zap.Error(err))
			failed = append(failed, pattern)
		}
	}

	if len(failed) > 0 && r.enqueuer != nil {
		if err := r.enqueuer.EnqueueCacheInvalidate(ctx, failed...); err != nil {
			logger.Error(ctx, "failed to defer cache invalidation", zap.Strings("patterns", failed), zap.Error(err))
		}
	}
}

func paymentKey(id uuid.UUID) string {
	return "payment:" + id.String()
}

func paymentExternalKey(externalID string) string {
	return "payment:external:" + externalID
}

func paymentProcessorKey(txnID string) string {
	return "payment:authnet:" + txnID
}

func fingerprintKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
