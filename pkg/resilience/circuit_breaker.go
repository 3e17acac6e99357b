package resilience

import (
	"errors"
	"sync"
	"time"

	"easypay.backend/pkg/utils"
)

// CircuitState represents the current state of the circuit breaker
type CircuitState int

const (
	// StateClosed - Circuit is closed, requests flow normally
	StateClosed CircuitState = iota
	// StateOpen - Circuit is open, requests fail immediately
	StateOpen
	// StateHalfOpen - Circuit is testing if the upstream recovered
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned when the circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrProbeInFlight is returned when a half-open probe is already running
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// RecoveryTimeout is how long to wait before transitioning open -> half-open
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again
	SuccessThreshold int
}

// DefaultCircuitBreakerConfig returns sensible defaults
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

// CircuitBreaker implements the circuit breaker pattern over upstream
// processor calls. Only failures the caller records count toward the
// threshold; declines and user errors should never be recorded.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         CircuitState
	failures      int
	successes     int
	probeInFlight bool
	openedAt      time.Time
	config        CircuitBreakerConfig
	clock         utils.Clock
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig, clock utils.Clock) *CircuitBreaker {
	if clock == nil {
		clock = utils.NewClock()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		state:  StateClosed,
		config: config,
		clock:  clock,
	}
}

// Allow reports whether a call may proceed. In half-open state only one
// probe may be in flight at a time; callers that received a nil error MUST
// follow up with RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) >= cb.config.RecoveryTimeout {
			cb.setState(StateHalfOpen)
			cb.probeInFlight = true
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if cb.probeInFlight {
			return ErrProbeInFlight
		}
		cb.probeInFlight = true
		return nil

	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful upstream call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0

	case StateHalfOpen:
		cb.probeInFlight = false
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

// RecordFailure records a failed upstream call
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}

	case StateHalfOpen:
		cb.probeInFlight = false
		cb.setState(StateOpen)
	}
}

// setState transitions to a new state. Caller must hold the lock.
func (cb *CircuitBreaker) setState(newState CircuitState) {
	if cb.state == newState {
		return
	}

	cb.state = newState

	switch newState {
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
		cb.probeInFlight = false

	case StateOpen:
		cb.openedAt = cb.clock.Now()
		cb.successes = 0
		cb.probeInFlight = false

	case StateHalfOpen:
		cb.failures = 0
		cb.successes = 0
	}
}

// State returns the current circuit state (thread-safe)
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count (thread-safe)
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset resets the circuit breaker to closed state (useful for testing)
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.probeInFlight = false
}
