package backoff

import "time"

// Rand is the subset of math/rand.Rand the jitter strategies consume. Tests
// inject a fixed source to assert exact delay sequences.
type Rand interface {
	Float64() float64
}

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	Calculate(attempt int, initial, max time.Duration, multiplier float64, rng Rand) time.Duration
}

// Exponential grows the delay geometrically without jitter:
// min(initial * multiplier^attempt, max).
type Exponential struct{}

// Calculate implements Strategy.
func (Exponential) Calculate(attempt int, initial, max time.Duration, multiplier float64, _ Rand) time.Duration {
	return exponential(attempt, initial, max, multiplier)
}

// ExponentialJitter grows the delay geometrically, then multiplies by a
// uniform factor in [0.75, 1.25] so a fleet of clients does not retry in
// lockstep. The result is floored to a whole millisecond.
type ExponentialJitter struct{}

// Calculate implements Strategy.
func (ExponentialJitter) Calculate(attempt int, initial, max time.Duration, multiplier float64, rng Rand) time.Duration {
	base := exponential(attempt, initial, max, multiplier)
	factor := 0.75
	if rng != nil {
		factor += rng.Float64() * 0.5
	}
	jittered := float64(base) * factor
	ms := int64(jittered) / int64(time.Millisecond)
	return time.Duration(ms) * time.Millisecond
}

func exponential(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Limit the exponent so the float math cannot overflow.
	if attempt > 30 {
		attempt = 30
	}
	d := time.Duration(float64(initial) * Pow(multiplier, attempt))
	if d < 0 || d > max {
		d = max
	}
	return d
}

// Pow computes base^exponent for small integer exponents.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
