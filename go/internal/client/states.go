package client

import "time"

// Status is the connection manager's state machine position.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDegraded
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDegraded:
		return "degraded"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// PushConnected reports whether a push transport is live. Degraded is a
// quality sub-state of connected, not a disconnection.
func (s Status) PushConnected() bool {
	return s == StatusConnected || s == StatusDegraded
}

// Quality is the heartbeat-derived connection quality tier.
type Quality int

const (
	QualityUnknown Quality = iota
	QualityExcellent
	QualityGood
	QualityFair
	QualityPoor
	QualityUnstable
)

// Latency tier thresholds.
const (
	excellentBelow = 50 * time.Millisecond
	goodBelow      = 150 * time.Millisecond
	fairBelow      = 400 * time.Millisecond
	poorBelow      = 1000 * time.Millisecond
)

// String returns the tier name.
func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	case QualityUnstable:
		return "unstable"
	default:
		return "unknown"
	}
}

// ClassifyLatency buckets a heartbeat round-trip time into a quality tier.
func ClassifyLatency(rtt time.Duration) Quality {
	switch {
	case rtt < excellentBelow:
		return QualityExcellent
	case rtt < goodBelow:
		return QualityGood
	case rtt < fairBelow:
		return QualityFair
	case rtt < poorBelow:
		return QualityPoor
	default:
		return QualityUnstable
	}
}

// HeartbeatScale stretches the heartbeat interval under poor quality to
// reduce load on an already struggling link.
func (q Quality) HeartbeatScale() float64 {
	switch q {
	case QualityFair:
		return 1.5
	case QualityPoor:
		return 2
	case QualityUnstable:
		return 3
	default:
		return 1
	}
}

// Degraded reports whether the tier should surface a degraded indicator.
func (q Quality) Degraded() bool {
	return q == QualityPoor || q == QualityUnstable
}
