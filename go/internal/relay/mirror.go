package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/selectcast/selectcast/go/internal/store"
)

// publishTimeout bounds each relay publish so a slow broker never stalls
// the mirroring goroutine.
const publishTimeout = 5 * time.Second

// Publisher is the relay sink. *JetStreamPublisher implements it; tests
// substitute a recorder.
type Publisher interface {
	PublishState(ctx context.Context, state store.SelectionState, sessionCount int) error
	PublishSessionCount(ctx context.Context, sessionCount int) error
}

// Mirror is a store.Broadcaster that forwards every event to the real
// dispatcher and tees it to the relay publisher. Relay failures are logged,
// never propagated: connected sessions always come first.
type Mirror struct {
	next store.Broadcaster
	pub  Publisher
}

// Wrap decorates a broadcaster with the relay tee.
func Wrap(next store.Broadcaster, pub Publisher) *Mirror {
	return &Mirror{next: next, pub: pub}
}

// BroadcastState forwards then mirrors a state broadcast.
func (m *Mirror) BroadcastState(state store.SelectionState, sessionCount int) {
	m.next.BroadcastState(state, sessionCount)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := m.pub.PublishState(ctx, state, sessionCount); err != nil {
			log.Warn().
				Err(err).
				Int64("version", state.Version).
				Msg("relay publish failed")
		}
	}()
}

// BroadcastSessionCount forwards then mirrors a session-count broadcast.
func (m *Mirror) BroadcastSessionCount(sessionCount int) {
	m.next.BroadcastSessionCount(sessionCount)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := m.pub.PublishSessionCount(ctx, sessionCount); err != nil {
			log.Warn().
				Err(err).
				Int("session_count", sessionCount).
				Msg("relay publish failed")
		}
	}()
}
