package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Calculator pairs a Strategy with a random source. It centralizes the
// backoff math shared by the retry executor and the offline queue.
type Calculator struct {
	strategy Strategy

	// math/rand sources are not safe for concurrent use, and one Calculator
	// serves every in-flight call of a client.
	mu  sync.Mutex
	rng Rand
}

// NewCalculator creates a Calculator. A nil rng falls back to a time-seeded
// math/rand source; tests pass a seeded one for determinism.
func NewCalculator(strategy Strategy, rng Rand) *Calculator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Calculator{strategy: strategy, rng: rng}
}

// Calculate computes the delay for the given attempt and parameters.
func (c *Calculator) Calculate(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy.Calculate(attempt, initial, max, multiplier, c.rng)
}
