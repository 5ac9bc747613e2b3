package client

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// BreakerState is the circuit breaker position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker tunables.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the
	// breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before permitting a
	// half-open trial.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// Breaker is a circuit breaker guarding one logical channel. Each channel
// (push transport, polling) carries its own breaker so failure counters
// never cross-contaminate. Not safe for concurrent use.
type Breaker struct {
	cfg   BreakerConfig
	clock clockwork.Clock

	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker creates a Breaker. The clock is injectable for tests.
func NewBreaker(cfg BreakerConfig, clock clockwork.Clock) *Breaker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Breaker{cfg: cfg, clock: clock}
}

// Allow reports whether an attempt may proceed. While open, it permits a
// single half-open trial once the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default:
		return false
	}
}

// Success closes the breaker and resets the failure counter.
func (b *Breaker) Success() {
	b.state = BreakerClosed
	b.failures = 0
}

// Failure records a consecutive failure. A failed half-open trial reopens
// the breaker with a fresh cooldown; reaching the threshold opens it.
func (b *Breaker) Failure() {
	b.failures++

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = b.clock.Now()
		return
	}
	if b.state == BreakerClosed && b.failures >= b.cfg.Threshold {
		b.state = BreakerOpen
		b.openedAt = b.clock.Now()
	}
}

// State returns the breaker position.
func (b *Breaker) State() BreakerState {
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	return b.failures
}

// RemainingCooldown returns how long until a half-open trial is permitted.
func (b *Breaker) RemainingCooldown() time.Duration {
	if b.state != BreakerOpen {
		return 0
	}
	remaining := b.cfg.Cooldown - b.clock.Now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset force-closes the breaker, e.g. for a manual reconnect request.
func (b *Breaker) Reset() {
	b.state = BreakerClosed
	b.failures = 0
}
