package tangguh

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adiwignya/tangguh/internal/backoff"
)

// RetryPolicy configures the retry executor.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt, so a
	// call makes at most MaxRetries+1 attempts.
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Jitter spreads delays over [0.75, 1.25] of the computed backoff.
	Jitter bool

	// RetryableStatuses marks additional HTTP statuses as retryable on top
	// of the transient error codes.
	RetryableStatuses []int

	// Condition, when set, can veto a retry the base classification would
	// allow. It never makes a terminal error retryable.
	Condition func(err *CallError) bool

	// OnRetry is invoked before each sleep with the zero-based attempt that
	// just failed, the error, and the delay about to be applied.
	OnRetry func(attempt int, err *CallError, delay time.Duration)
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// retryable reports whether err should be retried under this policy.
// Terminal codes always win; the custom condition can only narrow further.
func (p RetryPolicy) retryable(err *CallError) bool {
	if err == nil || err.Terminal() {
		return false
	}
	allowed := err.Retryable()
	if !allowed && err.Status > 0 {
		for _, s := range p.RetryableStatuses {
			if err.Status == s {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		return false
	}
	if p.Condition != nil && !p.Condition(err) {
		return false
	}
	return true
}

// AttemptFunc is one unit of work executed under retry. attempt is zero-based.
type AttemptFunc func(ctx context.Context, attempt int) (*Response, *CallError)

// Retryer executes a unit of work with bounded, sequential retries.
type Retryer struct {
	policy RetryPolicy
	calc   *backoff.Calculator
	// sleep is swapped out in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryer builds a Retryer. rng may be nil; tests inject a seeded source
// so delay sequences are deterministic.
func NewRetryer(policy RetryPolicy, rng backoff.Rand) *Retryer {
	var strategy backoff.Strategy = backoff.Exponential{}
	if policy.Jitter {
		strategy = backoff.ExponentialJitter{}
	}
	return &Retryer{
		policy: policy,
		calc:   backoff.NewCalculator(strategy, rng),
		sleep:  sleepContext,
	}
}

// Execute runs fn until it succeeds, turns out non-retryable, or the attempt
// budget is exhausted. The last error is propagated unchanged.
func (r *Retryer) Execute(ctx context.Context, fn AttemptFunc) (*Response, *CallError) {
	var last *CallError
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		resp, err := fn(ctx, attempt)
		if err == nil {
			return resp, nil
		}
		last = err
		if attempt == r.policy.MaxRetries || !r.policy.retryable(err) {
			return nil, err
		}

		delay := r.Delay(attempt)
		// A server-provided Retry-After hint overrides the computed backoff.
		if err.RetryAfter > 0 {
			delay = err.RetryAfter
		}
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, delay)
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return nil, &CallError{
				Code:     CodeTimeout,
				Message:  "call aborted while waiting to retry",
				Endpoint: err.Endpoint,
				Method:   err.Method,
				Attempt:  attempt,
				Cause:    serr,
			}
		}
	}
	return nil, last
}

// Delay returns the backoff delay for the given zero-based attempt.
func (r *Retryer) Delay(attempt int) time.Duration {
	return r.calc.Calculate(attempt, r.policy.InitialBackoff, r.policy.MaxBackoff, r.policy.BackoffMultiplier)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseRetryAfter parses a Retry-After header in either delay-seconds or
// HTTP-date form. Hints above one hour are capped.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds <= 0 {
			return 0
		}
		delay := time.Duration(seconds) * time.Second
		if delay > time.Hour {
			delay = time.Hour
		}
		return delay
	}
	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}
	return 0
}
