package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		Base:   time.Second,
		Factor: 2,
		Max:    10 * time.Second,
		Jitter: 0, // deterministic
	})

	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 8*time.Second, b.Next())
	assert.Equal(t, 10*time.Second, b.Next())
	assert.Equal(t, 10*time.Second, b.Next())
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(BackoffConfig{Base: time.Second, Factor: 2, Max: 30 * time.Second})

	b.Next()
	b.Next()
	assert.Equal(t, 2, b.Attempt())

	b.Reset()
	assert.Equal(t, 0, b.Attempt())

	// Jittered, so only bound the first post-reset delay.
	d := b.Next()
	assert.LessOrEqual(t, d, time.Duration(float64(time.Second)*1.2))
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	cfg := DefaultBackoffConfig()
	b := NewBackoff(cfg)

	for i := 0; i < 20; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Duration(float64(cfg.Max)*(1+cfg.Jitter)))
	}
	assert.Equal(t, 20, b.Attempt())
}
