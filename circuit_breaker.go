package tangguh

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the lowercase state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker configuration. The zero value gets
// sensible defaults.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default 5.
	FailureThreshold int
	// ResetTimeout is the cooldown after opening before probes are admitted.
	// Default 30s.
	ResetTimeout time.Duration
	// HalfOpenRequests bounds concurrent half-open probes so a thundering
	// herd cannot re-open the circuit right after cooldown. Default 1.
	HalfOpenRequests int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenRequests <= 0 {
		c.HalfOpenRequests = 1
	}
	return c
}

// BreakerStateChange observes breaker transitions, keyed by endpoint.
type BreakerStateChange func(endpoint string, from, to BreakerState)

// CircuitBreaker is a per-endpoint failure gate. All state is guarded by a
// mutex; transitions are atomic with the decision that caused them.
type CircuitBreaker struct {
	endpoint string
	config   BreakerConfig

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int

	onStateChange BreakerStateChange
	now           func() time.Time
}

func newCircuitBreaker(endpoint string, config BreakerConfig, onChange BreakerStateChange, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		endpoint:      endpoint,
		config:        config.withDefaults(),
		state:         BreakerClosed,
		onStateChange: onChange,
		now:           now,
	}
}

// Allow decides whether a call may proceed. When it returns false the second
// value is the remaining cooldown; the caller must not invoke the unit of
// work and must not record an outcome. When it returns true the caller must
// follow up with exactly one RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() (bool, time.Duration) {
	cb.mu.Lock()
	var change func()

	allowed := false
	var remaining time.Duration
	switch cb.state {
	case BreakerClosed:
		allowed = true
	case BreakerOpen:
		elapsed := cb.now().Sub(cb.openedAt)
		if elapsed >= cb.config.ResetTimeout {
			change = cb.transition(BreakerHalfOpen)
			cb.halfOpenInFlight = 1
			allowed = true
		} else {
			remaining = cb.config.ResetTimeout - elapsed
		}
	case BreakerHalfOpen:
		if cb.halfOpenInFlight < cb.config.HalfOpenRequests {
			cb.halfOpenInFlight++
			allowed = true
		}
	}

	cb.mu.Unlock()
	if change != nil {
		change()
	}
	return allowed, remaining
}

// RecordSuccess reports that an admitted call succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var change func()

	switch cb.state {
	case BreakerClosed:
		cb.consecutiveFailures = 0
	case BreakerHalfOpen:
		// One healthy probe is enough evidence to close.
		change = cb.transition(BreakerClosed)
		cb.consecutiveFailures = 0
		cb.halfOpenInFlight = 0
	case BreakerOpen:
		// A stale probe settled after another probe re-opened the circuit.
	}

	cb.mu.Unlock()
	if change != nil {
		change()
	}
}

// RecordFailure reports that an admitted call failed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var change func()

	switch cb.state {
	case BreakerClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			change = cb.transition(BreakerOpen)
			cb.openedAt = cb.now()
		}
	case BreakerHalfOpen:
		change = cb.transition(BreakerOpen)
		cb.openedAt = cb.now()
		cb.halfOpenInFlight = 0
	case BreakerOpen:
		// Stale probe; the circuit is already open.
	}

	cb.mu.Unlock()
	if change != nil {
		change()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition switches state and returns the callback to fire once the lock
// is released, so observers can safely call back into the breaker.
func (cb *CircuitBreaker) transition(to BreakerState) func() {
	from := cb.state
	cb.state = to
	if cb.onStateChange == nil || from == to {
		return nil
	}
	endpoint := cb.endpoint
	cb2 := cb.onStateChange
	return func() { cb2(endpoint, from, to) }
}
