package client

import (
	"math/rand"
	"time"
)

// BackoffConfig holds reconnection backoff tunables.
type BackoffConfig struct {
	// Base is the first delay after a failure.
	Base time.Duration
	// Factor multiplies the delay on each consecutive failure.
	Factor float64
	// Max caps the delay.
	Max time.Duration
	// Jitter is the randomization fraction applied to each delay, in
	// [0, 1). Zero disables jitter.
	Jitter float64
}

// DefaultBackoffConfig returns default backoff configuration.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:   500 * time.Millisecond,
		Factor: 2,
		Max:    30 * time.Second,
		Jitter: 0.2,
	}
}

// Backoff produces a jittered exponential delay sequence. The pre-jitter
// sequence is non-decreasing and bounded by Max; Reset returns it to Base.
// Not safe for concurrent use; it belongs to a single control loop.
type Backoff struct {
	cfg     BackoffConfig
	attempt int
	rng     *rand.Rand
}

// NewBackoff creates a Backoff.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay to wait before the next attempt and advances the
// sequence.
func (b *Backoff) Next() time.Duration {
	delay := float64(b.cfg.Base)
	for i := 0; i < b.attempt; i++ {
		delay *= b.cfg.Factor
		if delay >= float64(b.cfg.Max) {
			delay = float64(b.cfg.Max)
			break
		}
	}
	b.attempt++

	if b.cfg.Jitter > 0 {
		// Spread delays across [delay*(1-j), delay*(1+j)] to avoid
		// thundering-herd reconnection storms.
		delay *= 1 + b.cfg.Jitter*(2*b.rng.Float64()-1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Reset returns the sequence to the base delay. Called on every successful
// connect.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of consecutive failures recorded so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}
