package resilience_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easypay.backend/pkg/resilience"
	"easypay.backend/pkg/utils"
)

func newBreaker(t *testing.T) (*resilience.CircuitBreaker, *utils.FakeClock) {
	t.Helper()
	clock := &utils.FakeClock{Current: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}, clock)
	return cb, clock
}

func TestCircuitBreaker_OpensAtFailureThreshold(t *testing.T) {
	cb, _ := newBreaker(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
		assert.Equal(t, resilience.StateClosed, cb.State(), "failure %d must not open", i+1)
	}

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, resilience.StateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), resilience.ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newBreaker(t)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.Failures())

	// four more failures still isn't five consecutive
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, resilience.StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cb, clock := newBreaker(t)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, resilience.StateOpen, cb.State())

	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, cb.Allow(), resilience.ErrCircuitOpen)

	clock.Advance(time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, resilience.StateHalfOpen, cb.State())
}

func TestCircuitBreaker_SingleProbeInHalfOpen(t *testing.T) {
	cb, clock := newBreaker(t)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clock.Advance(60 * time.Second)

	require.NoError(t, cb.Allow())
	assert.ErrorIs(t, cb.Allow(), resilience.ErrProbeInFlight)

	cb.RecordSuccess()
	require.NoError(t, cb.Allow())
}

func TestCircuitBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	cb, clock := newBreaker(t)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clock.Advance(60 * time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordSuccess()
	}
	assert.Equal(t, resilience.StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newBreaker(t)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clock.Advance(60 * time.Second)

	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	require.NoError(t, cb.Allow())
	cb.RecordFailure()

	assert.Equal(t, resilience.StateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), resilience.ErrCircuitOpen)

	// the recovery timer restarts from the reopen
	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, cb.Allow(), resilience.ErrCircuitOpen)
	clock.Advance(time.Second)
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newBreaker(t)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, resilience.StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, resilience.StateClosed, cb.State())
	assert.NoError(t, cb.Allow())
}
