package registry

import (
	"time"
)

// Transport identifies the negotiated delivery channel for a session.
type Transport string

const (
	// TransportNone means the session has joined but not yet attached a
	// push channel; it is reachable only through polling.
	TransportNone Transport = "none"
	// TransportWebSocket is a full-duplex channel.
	TransportWebSocket Transport = "websocket"
	// TransportSSE is a one-way server-push stream.
	TransportSSE Transport = "sse"
)

// latencySampleCap bounds the per-session RTT history.
const latencySampleCap = 16

// Session is one logical connected client.
type Session struct {
	ID          string
	ConnectedAt time.Time
	LastSeen    time.Time
	Transport   Transport
	Latencies   []time.Duration
}

// recordLatency appends an RTT sample, dropping the oldest once the ring
// is full.
func (s *Session) recordLatency(rtt time.Duration) {
	if len(s.Latencies) >= latencySampleCap {
		copy(s.Latencies, s.Latencies[1:])
		s.Latencies = s.Latencies[:latencySampleCap-1]
	}
	s.Latencies = append(s.Latencies, rtt)
}

// clone returns a copy safe to hand out without holding the registry lock.
func (s *Session) clone() Session {
	out := *s
	out.Latencies = append([]time.Duration(nil), s.Latencies...)
	return out
}
