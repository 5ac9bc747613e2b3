package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/selectcast/selectcast/go/internal/catalog"
	"github.com/selectcast/selectcast/go/internal/registry"
)

// SelectionState is the single authoritative current-selection value. It is
// mutated only by the Store under serialized access.
type SelectionState struct {
	// ItemID is the selected item; empty means no selection.
	ItemID string `json:"item_id"`
	// Version increases by exactly 1 per accepted mutation.
	Version int64 `json:"version"`
	// UpdatedAt is the server time of the last accepted mutation.
	UpdatedAt time.Time `json:"updated_at"`
	// OriginSessionID identifies the session whose request produced this
	// state, used by clients for echo suppression.
	OriginSessionID string `json:"origin_session_id"`
}

// JoinResult is the snapshot handed to a newly registered session.
type JoinResult struct {
	SessionID    string         `json:"session_id"`
	State        SelectionState `json:"current_state"`
	SessionCount int            `json:"session_count"`
}

// Broadcaster fans accepted mutations and session-count changes out to all
// registered sessions. Implementations must be best-effort per session and
// must never block the store.
type Broadcaster interface {
	BroadcastState(state SelectionState, sessionCount int)
	BroadcastSessionCount(sessionCount int)
}

// Store owns the authoritative selection state. All mutation paths go
// through its mutex, so concurrent SetSelection calls are totally ordered
// by lock acquisition; the server, not client clocks, is the tie-breaker.
type Store struct {
	mu    sync.Mutex
	state SelectionState

	registry *registry.Registry
	catalog  catalog.Store
	clock    clockwork.Clock

	bmu         sync.RWMutex
	broadcaster Broadcaster
}

// New creates a Store. The broadcaster is attached later via SetBroadcaster
// because the transport layer is constructed on top of the store.
func New(reg *registry.Registry, cat catalog.Store, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		registry: reg,
		catalog:  cat,
		clock:    clock,
	}
}

// SetBroadcaster attaches the broadcast dispatcher. Until one is attached,
// accepted mutations are applied but not pushed.
func (s *Store) SetBroadcaster(b Broadcaster) {
	s.bmu.Lock()
	s.broadcaster = b
	s.bmu.Unlock()
}

// Join registers a new session and returns a snapshot of the current state.
// It fails only when the registry is at capacity.
func (s *Store) Join(ctx context.Context) (JoinResult, error) {
	sess, err := s.registry.Add()
	if err != nil {
		return JoinResult{}, err
	}

	count := s.registry.Len()
	s.broadcastSessionCount(count)

	log.Info().
		Str("session_id", sess.ID).
		Int("session_count", count).
		Msg("session joined")

	return JoinResult{
		SessionID:    sess.ID,
		State:        s.Snapshot(),
		SessionCount: count,
	}, nil
}

// SetSelection validates itemID against the catalog and, on validity,
// applies the mutation under the single-writer lock: version incremented by
// exactly 1, timestamp set, originating session recorded. The new
// authoritative state is returned and handed to the broadcaster.
func (s *Store) SetSelection(ctx context.Context, itemID, sessionID string) (SelectionState, error) {
	ok, err := s.catalog.Contains(ctx, itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrUnavailable) {
			return SelectionState{}, fmt.Errorf("validate item %q: %w", itemID, ErrValidationUnavailable)
		}
		return SelectionState{}, fmt.Errorf("validate item %q: %w: %v", itemID, ErrValidationUnavailable, err)
	}
	if !ok {
		return SelectionState{}, fmt.Errorf("item %q: %w", itemID, ErrUnknownItem)
	}

	s.mu.Lock()
	s.state = SelectionState{
		ItemID:          itemID,
		Version:         s.state.Version + 1,
		UpdatedAt:       s.clock.Now(),
		OriginSessionID: sessionID,
	}
	newState := s.state
	s.mu.Unlock()

	count := s.registry.Len()
	s.broadcastState(newState, count)

	log.Info().
		Str("item_id", newState.ItemID).
		Int64("version", newState.Version).
		Str("origin_session_id", sessionID).
		Msg("selection updated")

	return newState, nil
}

// Leave removes the session and broadcasts the new session count to the
// remaining sessions. Leaving twice is a no-op.
func (s *Store) Leave(ctx context.Context, sessionID string) {
	if !s.registry.Remove(sessionID) {
		return
	}

	count := s.registry.Len()
	s.broadcastSessionCount(count)

	log.Info().
		Str("session_id", sessionID).
		Int("session_count", count).
		Msg("session left")
}

// Heartbeat refreshes the session's last-seen timestamp and records the
// measured round-trip latency. It returns the echo time used by the client
// to finish the RTT measurement.
func (s *Store) Heartbeat(ctx context.Context, sessionID string, sentAt time.Time) (time.Time, error) {
	if err := s.registry.Touch(sessionID); err != nil {
		return time.Time{}, err
	}

	now := s.clock.Now()
	if !sentAt.IsZero() {
		if rtt := now.Sub(sentAt); rtt >= 0 {
			if err := s.registry.RecordLatency(sessionID, rtt); err != nil {
				return time.Time{}, err
			}
		}
	}
	return now, nil
}

// AttachTransport records the negotiated push transport for a session.
func (s *Store) AttachTransport(sessionID string, t registry.Transport) error {
	return s.registry.SetTransport(sessionID, t)
}

// Snapshot returns a copy of the current authoritative state.
func (s *Store) Snapshot() SelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionCount returns the number of registered sessions.
func (s *Store) SessionCount() int {
	return s.registry.Len()
}

// RunSweeper evicts heartbeat-stale sessions until ctx is cancelled,
// broadcasting the reduced session count exactly as Leave does.
func (s *Store) RunSweeper(ctx context.Context) {
	s.registry.RunSweeper(ctx, func(evicted []registry.Session) {
		s.broadcastSessionCount(s.registry.Len())
	})
}

func (s *Store) broadcastState(state SelectionState, count int) {
	s.bmu.RLock()
	b := s.broadcaster
	s.bmu.RUnlock()
	if b != nil {
		b.BroadcastState(state, count)
	}
}

func (s *Store) broadcastSessionCount(count int) {
	s.bmu.RLock()
	b := s.broadcaster
	s.bmu.RUnlock()
	if b != nil {
		b.BroadcastSessionCount(count)
	}
}
