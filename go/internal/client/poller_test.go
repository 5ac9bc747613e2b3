package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selectcast/selectcast/go/internal/gateway"
)

type pollHarness struct {
	clock      *clockwork.FakeClock
	fetches    chan struct{}
	states     chan gateway.StateResponse
	countdowns chan int
	cancel     context.CancelFunc
	ctx        context.Context
}

// startPoller runs a poller against a scripted fetch function. results feeds
// one error (or nil) per fetch; when it runs dry, fetches succeed.
func startPoller(t *testing.T, cfg PollerConfig, results []error) *pollHarness {
	t.Helper()

	h := &pollHarness{
		clock:      clockwork.NewFakeClock(),
		fetches:    make(chan struct{}, 32),
		states:     make(chan gateway.StateResponse, 32),
		countdowns: make(chan int, 32),
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	t.Cleanup(h.cancel)

	calls := 0
	p := NewPoller(cfg, h.clock,
		func(ctx context.Context) (gateway.StateResponse, error) {
			h.fetches <- struct{}{}
			calls++
			if calls <= len(results) && results[calls-1] != nil {
				return gateway.StateResponse{}, results[calls-1]
			}
			return gateway.StateResponse{ItemID: "alpha", Version: int64(calls)}, nil
		},
		func(s gateway.StateResponse) { h.states <- s },
		func(remaining int) { h.countdowns <- remaining },
	)
	go p.Run(h.ctx)

	// The first fetch is immediate.
	h.waitFetch(t)
	// Wait for the countdown ticker to arm before advancing the clock.
	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 1))
	return h
}

func (h *pollHarness) waitFetch(t *testing.T) {
	t.Helper()
	select {
	case <-h.fetches:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a poll fetch")
	}
}

// tick advances one countdown second and returns the remaining value the
// poller reported.
func (h *pollHarness) tick(t *testing.T) int {
	t.Helper()
	h.clock.Advance(time.Second)
	select {
	case remaining := <-h.countdowns:
		return remaining
	case <-time.After(2 * time.Second):
		t.Fatal("expected a countdown notification")
		return 0
	}
}

func cadenceConfig() PollerConfig {
	return PollerConfig{
		Interval:   3 * time.Second,
		Timeout:    time.Second,
		MaxRetries: 2,
		Backoff:    BackoffConfig{Base: time.Second, Factor: 2, Max: 30 * time.Second},
	}
}

func TestPollerFetchesAtInterval(t *testing.T) {
	h := startPoller(t, cadenceConfig(), nil)

	// Countdown runs 2, 1, 0; the zero tick fetches.
	assert.Equal(t, 2, h.tick(t))
	assert.Equal(t, 1, h.tick(t))
	assert.Equal(t, 0, h.tick(t))
	h.waitFetch(t)

	state := <-h.states
	assert.Equal(t, "alpha", state.ItemID)

	// The cadence repeats.
	assert.Equal(t, 2, h.tick(t))
	assert.Equal(t, 1, h.tick(t))
	assert.Equal(t, 0, h.tick(t))
	h.waitFetch(t)
}

func TestPollerRetriesWithBackoffThenRecovers(t *testing.T) {
	// First fetch (immediate) succeeds; the next three fail.
	failures := []error{nil, errors.New("boom"), errors.New("boom"), errors.New("boom")}
	h := startPoller(t, cadenceConfig(), failures)
	<-h.states // initial snapshot

	// Normal countdown to the first failing fetch.
	h.tick(t)
	h.tick(t)
	assert.Equal(t, 0, h.tick(t))
	h.waitFetch(t)

	// Retry 1 after 1s of backoff.
	assert.Equal(t, 0, h.tick(t))
	h.waitFetch(t)

	// Retry 2 after 2s of backoff.
	assert.Equal(t, 1, h.tick(t))
	assert.Equal(t, 0, h.tick(t))
	h.waitFetch(t)

	// Retries exhausted: back to the normal 3s cadence, not permanent
	// failure. The next fetch succeeds.
	assert.Equal(t, 2, h.tick(t))
	assert.Equal(t, 1, h.tick(t))
	assert.Equal(t, 0, h.tick(t))
	h.waitFetch(t)

	select {
	case state := <-h.states:
		assert.Equal(t, "alpha", state.ItemID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a state after recovery")
	}
}

func TestPollerStopsOnCancel(t *testing.T) {
	h := startPoller(t, cadenceConfig(), nil)
	h.cancel()

	// After cancellation no further fetches happen.
	h.clock.Advance(10 * time.Second)
	select {
	case <-h.fetches:
		t.Fatal("poller fetched after cancellation")
	case <-time.After(100 * time.Millisecond):
	}
}
