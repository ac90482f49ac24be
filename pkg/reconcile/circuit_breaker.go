package reconcile

import (
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// CircuitBreaker admits or refuses calls to the account directory.
// Every call admitted by Allow must be reported exactly once through Record.
type CircuitBreaker interface {
	Allow() error
	Record(healthy bool)
	State() CircuitBreakerState
}

// DefaultCircuitBreaker opens after a run of consecutive unhealthy calls.
// Once the cooldown has passed it admits a single trial call; the trial's
// result decides whether the breaker closes or starts a new cooldown.
type DefaultCircuitBreaker struct {
	mu sync.Mutex

	state     CircuitBreakerState
	threshold int
	cooldown  time.Duration
	failures  int
	openedAt  time.Time
	trialOut  bool
	now       func() time.Time

	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a closed circuit breaker. Non-positive
// arguments fall back to 5 failures and a 30 second cooldown.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &DefaultCircuitBreaker{
		state:         StateClosed,
		threshold:     failureThreshold,
		cooldown:      resetTimeout,
		now:           time.Now,
		onStateChange: onStateChange,
	}
}

// State reports the breaker state. An open breaker whose cooldown has
// elapsed reports half-open even before the trial call arrives.
func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cooledDown() {
		return StateHalfOpen
	}
	return cb.state
}

// Allow returns ErrCircuitOpen while cooling down and while a trial call is
// outstanding.
func (cb *DefaultCircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if !cb.cooledDown() {
			return ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.trialOut {
		return ErrCircuitOpen
	}
	cb.trialOut = true
	return nil
}

// Record reports the result of a call admitted by Allow.
func (cb *DefaultCircuitBreaker) Record(healthy bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.trialOut = false
		if healthy {
			cb.failures = 0
			cb.moveTo(StateClosed)
			return
		}
		cb.trip()
	case StateClosed:
		if healthy {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.trip()
		}
	}
	// Results of calls admitted before the breaker opened are dropped.
}

func (cb *DefaultCircuitBreaker) cooledDown() bool {
	return cb.now().Sub(cb.openedAt) >= cb.cooldown
}

func (cb *DefaultCircuitBreaker) trip() {
	cb.failures = 0
	cb.openedAt = cb.now()
	cb.moveTo(StateOpen)
}

func (cb *DefaultCircuitBreaker) moveTo(state CircuitBreakerState) {
	if cb.state == state {
		return
	}
	cb.state = state
	if cb.onStateChange != nil {
		cb.onStateChange(state)
	}
}
