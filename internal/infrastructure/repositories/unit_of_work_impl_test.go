package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "easypay.backend/internal/domain/errors"
)

func TestUnitOfWork_CommitAndRollback(t *testing.T) {
	db := newTestDB(t)
	uow := NewUnitOfWork(db)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	committed := newTestPayment(t)
	err := uow.Do(ctx, func(txCtx context.Context) error {
		return repo.Create(txCtx, committed)
	})
	require.NoError(t, err)

	_, err = repo.GetByID(ctx, committed.ID)
	require.NoError(t, err)

	rolledBack := newTestPayment(t)
	boom := errors.New("boom")
	err = uow.Do(ctx, func(txCtx context.Context) error {
		if err := repo.Create(txCtx, rolledBack); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.GetByID(ctx, rolledBack.ID)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestUnitOfWork_NestedDoJoinsTransaction(t *testing.T) {
	db := newTestDB(t)
	uow := NewUnitOfWork(db)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	p := newTestPayment(t)
	boom := errors.New("boom")

	err := uow.Do(ctx, func(outer context.Context) error {
		return uow.Do(outer, func(inner context.Context) error {
			if err := repo.Create(inner, p); err != nil {
				return err
			}
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	// the inner Do joined the outer transaction, so the create rolled back
	_, err = repo.GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestUnitOfWork_AfterCommitRunsOnCommitOnly(t *testing.T) {
	db := newTestDB(t)
	uow := NewUnitOfWork(db)
	ctx := context.Background()

	ran := 0
	require.NoError(t, uow.Do(ctx, func(txCtx context.Context) error {
		AfterCommit(txCtx, func(ctx context.Context) {
			// hooks run outside the transaction
			assert.Nil(t, ctx.Value(txKey))
			ran++
		})
		assert.Equal(t, 0, ran, "hook must not run before commit")
		return nil
	}))
	assert.Equal(t, 1, ran)

	boom := errors.New("boom")
	err := uow.Do(ctx, func(txCtx context.Context) error {
		AfterCommit(txCtx, func(ctx context.Context) { ran++ })
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ran, "rolled-back transactions drop their hooks")

	// outside a transaction the callback runs inline
	AfterCommit(ctx, func(ctx context.Context) { ran++ })
	assert.Equal(t, 2, ran)
}

func TestUnitOfWork_WithLockReadInsideTx(t *testing.T) {
	db := newTestDB(t)
	uow := NewUnitOfWork(db)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	p := newTestPayment(t)
	require.NoError(t, repo.Create(ctx, p))

	err := uow.Do(ctx, func(txCtx context.Context) error {
		got, err := repo.GetByID(uow.WithLock(txCtx), p.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, p.ID, got.ID)
		return nil
	})
	require.NoError(t, err)
}
