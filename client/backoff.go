package client

import (
	"math/rand"
	"time"
)

// retryScheduler implements the exact connect-retry delay formula from
// spec.md §4.5: the first attempt is undelayed; every subsequent attempt
// waits min(retryDelay, max) × (1 + randomness × rand01), after which
// retryDelay is multiplied by multiplier for the next round. This differs
// from a textbook exponential-backoff curve (delay = initial ×
// multiplier^attempt) in that the multiplier compounds the *state*, not a
// recomputed exponent, and the jitter is multiplicative rather than
// additive — both load-bearing details of the spec, not a style choice.
type retryScheduler struct {
	retryDelay time.Duration
	max        time.Duration
	multiplier float64
	randomness float64
	rng        *rand.Rand
	firstCall  bool
}

// newRetryScheduler builds a scheduler seeded with initial as the first
// non-zero delay.
func newRetryScheduler(initial, max time.Duration, multiplier, randomness float64) *retryScheduler {
	return &retryScheduler{
		retryDelay: initial,
		max:        max,
		multiplier: multiplier,
		randomness: randomness,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		firstCall:  true,
	}
}

// Next returns the delay to wait before the next connect attempt and
// advances internal state. Call once per attempt, including the first
// (which always returns 0).
func (r *retryScheduler) Next() time.Duration {
	if r.firstCall {
		r.firstCall = false
		return 0
	}

	d := r.retryDelay
	if d > r.max {
		d = r.max
	}
	jittered := time.Duration(float64(d) * (1 + r.randomness*r.rng.Float64()))

	r.retryDelay = time.Duration(float64(r.retryDelay) * r.multiplier)
	return jittered
}

// Reset restores the scheduler to its initial state, e.g. before a fresh
// connect() call.
func (r *retryScheduler) Reset(initial time.Duration) {
	r.retryDelay = initial
	r.firstCall = true
}
