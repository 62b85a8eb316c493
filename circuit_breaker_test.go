package tangguh

import (
	"sync"
	"testing"
	"time"
)

// testClock is a manually advanced clock for breaker cooldown tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(config BreakerConfig, onChange BreakerStateChange) (*CircuitBreaker, *testClock) {
	clock := newTestClock()
	return newCircuitBreaker("orders", config, onChange, clock.Now), clock
}

func TestBreakerDefaults(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{}, nil)

	if cb.config.FailureThreshold != 5 {
		t.Errorf("expected default FailureThreshold=5, got %d", cb.config.FailureThreshold)
	}
	if cb.config.ResetTimeout != 30*time.Second {
		t.Errorf("expected default ResetTimeout=30s, got %v", cb.config.ResetTimeout)
	}
	if cb.config.HalfOpenRequests != 1 {
		t.Errorf("expected default HalfOpenRequests=1, got %d", cb.config.HalfOpenRequests)
	}
	if cb.State() != BreakerClosed {
		t.Errorf("expected initial state closed, got %v", cb.State())
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if cb.State() != BreakerClosed {
			t.Fatalf("expected closed after %d failures, got %v", i+1, cb.State())
		}
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open after 3 failures, got %v", cb.State())
	}

	allowed, remaining := cb.Allow()
	if allowed {
		t.Error("expected open breaker to reject calls")
	}
	if remaining <= 0 || remaining > time.Minute {
		t.Errorf("expected remaining cooldown in (0, 1m], got %v", remaining)
	}
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3}, nil)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != BreakerClosed {
		t.Errorf("expected closed: success should reset the failure streak, got %v", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("expected open after a fresh streak of 3, got %v", cb.State())
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second}, nil)

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}

	clock.Advance(9 * time.Second)
	if allowed, _ := cb.Allow(); allowed {
		t.Fatal("expected rejection before cooldown elapsed")
	}

	clock.Advance(time.Second + time.Millisecond)
	allowed, _ := cb.Allow()
	if !allowed {
		t.Fatal("expected a half-open probe after cooldown")
	}
	if cb.State() != BreakerHalfOpen {
		t.Errorf("expected half-open, got %v", cb.State())
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second}, nil)

	cb.RecordFailure()
	clock.Advance(2 * time.Second)
	if allowed, _ := cb.Allow(); !allowed {
		t.Fatal("expected probe admitted")
	}

	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Errorf("expected closed after probe success, got %v", cb.State())
	}
	if allowed, _ := cb.Allow(); !allowed {
		t.Error("expected calls admitted after recovery")
	}
}

func TestBreakerProbeFailureReopensAndResetsCooldown(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second}, nil)

	cb.RecordFailure()
	clock.Advance(11 * time.Second)
	if allowed, _ := cb.Allow(); !allowed {
		t.Fatal("expected probe admitted")
	}

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("expected reopened, got %v", cb.State())
	}

	// Cooldown restarts from the probe failure, not the original opening.
	clock.Advance(9 * time.Second)
	if allowed, _ := cb.Allow(); allowed {
		t.Error("expected rejection: cooldown restarted on probe failure")
	}
	clock.Advance(2 * time.Second)
	if allowed, _ := cb.Allow(); !allowed {
		t.Error("expected probe after the restarted cooldown")
	}
}

func TestBreakerHalfOpenProbeConcurrencyBounded(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second, HalfOpenRequests: 2}, nil)

	cb.RecordFailure()
	clock.Advance(2 * time.Second)

	// First Allow transitions to half-open and takes one probe slot.
	if allowed, _ := cb.Allow(); !allowed {
		t.Fatal("expected first probe admitted")
	}
	if allowed, _ := cb.Allow(); !allowed {
		t.Fatal("expected second probe admitted")
	}
	if allowed, _ := cb.Allow(); allowed {
		t.Error("expected third concurrent probe rejected")
	}

	// One probe settles successfully: circuit closes for everyone.
	cb.RecordSuccess()
	if allowed, _ := cb.Allow(); !allowed {
		t.Error("expected call admitted after close")
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	type change struct{ from, to BreakerState }
	var changes []change
	cb, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second},
		func(endpoint string, from, to BreakerState) {
			if endpoint != "orders" {
				t.Errorf("expected endpoint orders, got %s", endpoint)
			}
			changes = append(changes, change{from, to})
		})

	cb.RecordFailure()
	clock.Advance(2 * time.Second)
	cb.Allow()
	cb.RecordSuccess()

	want := []change{
		{BreakerClosed, BreakerOpen},
		{BreakerOpen, BreakerHalfOpen},
		{BreakerHalfOpen, BreakerClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %+v", len(want), len(changes), changes)
	}
	for i, w := range want {
		if changes[i] != w {
			t.Errorf("transition %d: expected %v->%v, got %v->%v", i, w.from, w.to, changes[i].from, changes[i].to)
		}
	}
}

func TestBreakerStateString(t *testing.T) {
	tests := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}
