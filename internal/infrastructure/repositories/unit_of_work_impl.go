package repositories

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domainRepos "easypay.backend/internal/domain/repositories"
)

type contextKey string

const (
	txKey    contextKey = "tx_db"
	lockKey  contextKey = "row_lock"
	hooksKey contextKey = "tx_hooks"
)

// txHooks collects callbacks to run once the enclosing transaction has
// committed. A rolled-back transaction drops them.
type txHooks struct {
	mu    sync.Mutex
	funcs []func(ctx context.Context)
}

func (h *txHooks) add(fn func(ctx context.Context)) {
	h.mu.Lock()
	h.funcs = append(h.funcs, fn)
	h.mu.Unlock()
}

func (h *txHooks) run(ctx context.Context) {
	h.mu.Lock()
	funcs := h.funcs
	h.funcs = nil
	h.mu.Unlock()
	for _, fn := range funcs {
		fn(ctx)
	}
}

// AfterCommit schedules fn to run once the transaction in ctx commits; it
// runs with the non-transactional context. Outside a transaction fn runs
// immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if hooks, ok := ctx.Value(hooksKey).(*txHooks); ok {
		hooks.add(fn)
		return
	}
	fn(ctx)
}

// UnitOfWorkImpl implements UnitOfWork using GORM
type UnitOfWorkImpl struct {
	db *gorm.DB
}

// NewUnitOfWork creates a new UnitOfWork
func NewUnitOfWork(db *gorm.DB) domainRepos.UnitOfWork {
	return &UnitOfWorkImpl{db: db}
}

// Do executes the given function within a transaction scope. The tx handle
// travels in the context so repositories transparently join it.
func (u *UnitOfWorkImpl) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	// Reuse an enclosing transaction for nested Do calls.
	if _, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return fn(ctx)
	}

	tx := u.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	hooks := &txHooks{}
	txCtx := context.WithValue(context.WithValue(ctx, txKey, tx), hooksKey, hooks)

	if err := fn(txCtx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	hooks.run(ctx)
	return nil
}

// WithLock marks the context so the next repository read in this
// transaction takes a row-level exclusive lock.
func (u *UnitOfWorkImpl) WithLock(ctx context.Context) context.Context {
	return context.WithValue(ctx, lockKey, true)
}

// GetDB extracts the transaction DB from context if present, otherwise
// returns the fallback handle. Shared by all repositories in this package.
func GetDB(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx
	}
	return fallback
}

// applyLock adds FOR UPDATE when the context was marked by WithLock.
// SQLite (tests) serializes writers on its own and rejects the clause, so
// it is skipped there.
func applyLock(ctx context.Context, db *gorm.DB) *gorm.DB {
	if locked, ok := ctx.Value(lockKey).(bool); ok && locked && db.Dialector.Name() != "sqlite" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

// supportsSkipLocked reports whether the dialect understands
// FOR UPDATE SKIP LOCKED.
func supportsSkipLocked(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}
