package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLatency(t *testing.T) {
	cases := []struct {
		rtt  time.Duration
		want Quality
	}{
		{10 * time.Millisecond, QualityExcellent},
		{49 * time.Millisecond, QualityExcellent},
		{50 * time.Millisecond, QualityGood},
		{149 * time.Millisecond, QualityGood},
		{150 * time.Millisecond, QualityFair},
		{399 * time.Millisecond, QualityFair},
		{400 * time.Millisecond, QualityPoor},
		{999 * time.Millisecond, QualityPoor},
		{time.Second, QualityUnstable},
		{5 * time.Second, QualityUnstable},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyLatency(tc.rtt), "rtt %s", tc.rtt)
	}
}

func TestQualityDegraded(t *testing.T) {
	assert.False(t, QualityExcellent.Degraded())
	assert.False(t, QualityGood.Degraded())
	assert.False(t, QualityFair.Degraded())
	assert.True(t, QualityPoor.Degraded())
	assert.True(t, QualityUnstable.Degraded())
}

func TestHeartbeatScaleStretchesUnderPoorQuality(t *testing.T) {
	assert.Equal(t, 1.0, QualityExcellent.HeartbeatScale())
	assert.Equal(t, 1.0, QualityGood.HeartbeatScale())
	assert.Less(t, QualityGood.HeartbeatScale(), QualityFair.HeartbeatScale())
	assert.Less(t, QualityFair.HeartbeatScale(), QualityPoor.HeartbeatScale())
	assert.Less(t, QualityPoor.HeartbeatScale(), QualityUnstable.HeartbeatScale())
}

func TestStatusPushConnected(t *testing.T) {
	assert.True(t, StatusConnected.PushConnected())
	assert.True(t, StatusDegraded.PushConnected())
	assert.False(t, StatusConnecting.PushConnected())
	assert.False(t, StatusReconnecting.PushConnected())
	assert.False(t, StatusCircuitOpen.PushConnected())
	assert.False(t, StatusDisconnected.PushConnected())
}
