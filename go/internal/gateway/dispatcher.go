package gateway

import (
	"github.com/rs/zerolog/log"

	"github.com/selectcast/selectcast/go/internal/store"
)

// Dispatcher implements store.Broadcaster on top of the push transports. A
// single accepted mutation fans out once to every registered session over
// whichever channel it negotiated; polling sessions pick it up on their
// next fetch.
type Dispatcher struct {
	manager *ConnectionManager
	sse     *SSEHub
}

// NewDispatcher creates a dispatcher over the given transports.
func NewDispatcher(manager *ConnectionManager, sse *SSEHub) *Dispatcher {
	return &Dispatcher{manager: manager, sse: sse}
}

// BroadcastState pushes a state_update event to all sessions.
func (d *Dispatcher) BroadcastState(state store.SelectionState, sessionCount int) {
	event, err := NewStateUpdateEvent(state, sessionCount)
	if err != nil {
		log.Error().Err(err).Msg("failed to build state update event")
		return
	}
	d.manager.Broadcast(event)
	d.sse.Broadcast(event)
}

// BroadcastSessionCount pushes a session_count event to all sessions.
func (d *Dispatcher) BroadcastSessionCount(sessionCount int) {
	event, err := NewEvent(EventTypeSessionCount, SessionCountPayload{SessionCount: sessionCount})
	if err != nil {
		log.Error().Err(err).Msg("failed to build session count event")
		return
	}
	d.manager.Broadcast(event)
	d.sse.Broadcast(event)
}
