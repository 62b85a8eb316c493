package tangguh

import (
	"sync"
	"time"
)

// BreakerRegistry owns one CircuitBreaker per endpoint, created lazily on
// first use. It is an explicit dependency of the client rather than package
// state so tests can construct isolated registries.
type BreakerRegistry struct {
	config        BreakerConfig
	onStateChange BreakerStateChange
	now           func() time.Time

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates a registry applying config to every breaker it
// hands out.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		config:   config.withDefaults(),
		now:      time.Now,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// OnStateChange registers a transition observer applied to breakers created
// afterwards. Call before the registry is in use.
func (r *BreakerRegistry) OnStateChange(fn BreakerStateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStateChange = fn
}

// setClock injects a clock into breakers created afterwards. Test hook.
func (r *BreakerRegistry) setClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Get returns the breaker for endpoint, creating it on first call.
func (r *BreakerRegistry) Get(endpoint string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[endpoint]
	if !ok {
		cb = newCircuitBreaker(endpoint, r.config, r.onStateChange, r.now)
		r.breakers[endpoint] = cb
	}
	return cb
}

// States snapshots the current state of every known breaker.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make(map[string]BreakerState, len(r.breakers))
	for endpoint, cb := range r.breakers {
		states[endpoint] = cb.State()
	}
	return states
}
