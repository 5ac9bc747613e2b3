package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/selectcast/selectcast/go/internal/store"
)

// Event is the envelope for every message exchanged with a session, in both
// directions. Payload shapes are fixed per type; there are no dynamically
// shaped events.
type Event struct {
	ID        string          `json:"id"`        // Event UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Type-specific payload
}

// EventType represents the type of a sync event.
type EventType string

const (
	// Server -> client
	EventTypeStateUpdate  EventType = "state_update"
	EventTypeSessionCount EventType = "session_count"
	EventTypeHeartbeatAck EventType = "heartbeat_ack"
	EventTypeError        EventType = "error"

	// Client -> server
	EventTypeSetSelection EventType = "set_selection"
	EventTypeHeartbeat    EventType = "heartbeat"
	EventTypeLeave        EventType = "leave"
)

// StateUpdatePayload carries an accepted mutation to every session. It
// always includes the session count so clients never need a second round
// trip for peer counts.
type StateUpdatePayload struct {
	ItemID          string    `json:"item_id"`
	Version         int64     `json:"version"`
	UpdatedAt       time.Time `json:"updated_at"`
	OriginSessionID string    `json:"origin_session_id"`
	SessionCount    int       `json:"session_count"`
}

// SessionCountPayload carries a join/leave/eviction count change.
type SessionCountPayload struct {
	SessionCount int `json:"session_count"`
}

// HeartbeatPayload is a client liveness/latency probe.
type HeartbeatPayload struct {
	SentAt time.Time `json:"sent_at"`
}

// HeartbeatAckPayload echoes a heartbeat; the client derives its RTT from
// the original send time.
type HeartbeatAckPayload struct {
	SentAt   time.Time `json:"sent_at"`
	EchoedAt time.Time `json:"echoed_at"`
}

// SetSelectionPayload is a client selection request.
type SetSelectionPayload struct {
	ItemID string `json:"item_id"`
}

// ErrorPayload is delivered only to the requesting session when its
// mutation is rejected.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent wraps a payload in an envelope with a fresh ID and timestamp.
func NewEvent(t EventType, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}, nil
}

// NewStateUpdateEvent builds a state_update event from authoritative state.
func NewStateUpdateEvent(state store.SelectionState, sessionCount int) (*Event, error) {
	return NewEvent(EventTypeStateUpdate, StateUpdatePayload{
		ItemID:          state.ItemID,
		Version:         state.Version,
		UpdatedAt:       state.UpdatedAt,
		OriginSessionID: state.OriginSessionID,
		SessionCount:    sessionCount,
	})
}

// ParseEventPayload parses event data into the payload struct for its type.
func ParseEventPayload(event *Event) (interface{}, error) {
	switch event.Type {
	case EventTypeStateUpdate:
		var payload StateUpdatePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSessionCount:
		var payload SessionCountPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeHeartbeat:
		var payload HeartbeatPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeHeartbeatAck:
		var payload HeartbeatAckPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSetSelection:
		var payload SetSelectionPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeLeave:
		return nil, nil // No payload

	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
}
