package client

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/selectcast/selectcast/go/internal/gateway"
)

// PollerConfig holds polling fallback tunables.
type PollerConfig struct {
	// Interval is the normal fetch cadence.
	Interval time.Duration
	// Timeout bounds each fetch.
	Timeout time.Duration
	// MaxRetries is how many backoff retries a failing fetch gets before
	// the poller returns to the normal cadence.
	MaxRetries int
	// Backoff shapes the retry delays.
	Backoff BackoffConfig
}

// DefaultPollerConfig returns default polling configuration.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:   5 * time.Second,
		Timeout:    3 * time.Second,
		MaxRetries: 5,
		Backoff: BackoffConfig{
			Base:   time.Second,
			Factor: 2,
			Max:    30 * time.Second,
			Jitter: 0,
		},
	}
}

// Poller is the scheduled puller used when no push-capable transport is
// available. It fetches at a fixed interval, surfaces a per-second
// countdown, retries failures with backoff up to a cap, and then falls back
// to the normal cadence rather than failing permanently.
type Poller struct {
	cfg   PollerConfig
	clock clockwork.Clock

	fetch       func(ctx context.Context) (gateway.StateResponse, error)
	onState     func(gateway.StateResponse)
	onCountdown func(secondsRemaining int)

	pauseCh chan bool
}

// NewPoller creates a Poller. fetch must honor its context deadline;
// onState and onCountdown are invoked from the poller goroutine.
func NewPoller(
	cfg PollerConfig,
	clock clockwork.Clock,
	fetch func(ctx context.Context) (gateway.StateResponse, error),
	onState func(gateway.StateResponse),
	onCountdown func(secondsRemaining int),
) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{
		cfg:         cfg,
		clock:       clock,
		fetch:       fetch,
		onState:     onState,
		onCountdown: onCountdown,
		pauseCh:     make(chan bool, 4),
	}
}

// SetPaused pauses or resumes the countdown, following the same visibility
// and network-availability rules as the connection manager.
func (p *Poller) SetPaused(paused bool) {
	select {
	case p.pauseCh <- paused:
	default:
	}
}

// Run fetches until ctx is cancelled. It fetches once immediately so a
// fresh fallback never waits a full interval for its first state.
func (p *Poller) Run(ctx context.Context) {
	log.Info().
		Dur("interval", p.cfg.Interval).
		Msg("polling fallback started")

	p.fetchOnce(ctx)

	remaining := p.intervalSeconds()
	retries := 0
	backoff := NewBackoff(p.cfg.Backoff)
	paused := false

	ticker := p.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("polling fallback stopped")
			return

		case paused = <-p.pauseCh:
			if paused {
				continue
			}
			// Resume with a fresh countdown.
			remaining = p.intervalSeconds()

		case <-ticker.Chan():
			if paused {
				continue
			}

			remaining--
			if p.onCountdown != nil {
				p.onCountdown(remaining)
			}
			if remaining > 0 {
				continue
			}

			if p.fetchOnce(ctx) {
				retries = 0
				backoff.Reset()
				remaining = p.intervalSeconds()
				continue
			}

			retries++
			if retries <= p.cfg.MaxRetries {
				remaining = ceilSeconds(backoff.Next())
				log.Warn().
					Int("retry", retries).
					Int("next_fetch_sec", remaining).
					Msg("poll fetch failed, retrying with backoff")
			} else {
				// Retries exhausted: return to the normal cadence.
				retries = 0
				backoff.Reset()
				remaining = p.intervalSeconds()
				log.Warn().
					Int("next_fetch_sec", remaining).
					Msg("poll retries exhausted, returning to normal cadence")
			}
		}
	}
}

// fetchOnce runs one bounded fetch and reports success.
func (p *Poller) fetchOnce(ctx context.Context) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	snapshot, err := p.fetch(fetchCtx)
	if err != nil {
		log.Debug().Err(err).Msg("poll fetch failed")
		return false
	}
	if p.onState != nil {
		p.onState(snapshot)
	}
	return true
}

func (p *Poller) intervalSeconds() int {
	s := int(p.cfg.Interval / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func ceilSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
