package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selectcast/selectcast/go/internal/store"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	states []store.SelectionState
	counts []int
}

func (b *recordingBroadcaster) BroadcastState(state store.SelectionState, sessionCount int) {
	b.mu.Lock()
	b.states = append(b.states, state)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) BroadcastSessionCount(sessionCount int) {
	b.mu.Lock()
	b.counts = append(b.counts, sessionCount)
	b.mu.Unlock()
}

type recordingPublisher struct {
	stateCh chan store.SelectionState
	countCh chan int
	err     error
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{
		stateCh: make(chan store.SelectionState, 8),
		countCh: make(chan int, 8),
	}
}

func (p *recordingPublisher) PublishState(ctx context.Context, state store.SelectionState, sessionCount int) error {
	p.stateCh <- state
	return p.err
}

func (p *recordingPublisher) PublishSessionCount(ctx context.Context, sessionCount int) error {
	p.countCh <- sessionCount
	return p.err
}

func TestMirrorForwardsAndPublishes(t *testing.T) {
	next := &recordingBroadcaster{}
	pub := newRecordingPublisher()
	m := Wrap(next, pub)

	state := store.SelectionState{ItemID: "alpha", Version: 3, OriginSessionID: "sess-1"}
	m.BroadcastState(state, 2)

	// The inner broadcaster is called synchronously.
	next.mu.Lock()
	require.Len(t, next.states, 1)
	assert.Equal(t, state, next.states[0])
	next.mu.Unlock()

	// The relay publish happens off the broadcast path.
	select {
	case published := <-pub.stateCh:
		assert.Equal(t, state, published)
	case <-time.After(2 * time.Second):
		t.Fatal("state was never mirrored to the publisher")
	}
}

func TestMirrorSessionCount(t *testing.T) {
	next := &recordingBroadcaster{}
	pub := newRecordingPublisher()
	m := Wrap(next, pub)

	m.BroadcastSessionCount(5)

	next.mu.Lock()
	assert.Equal(t, []int{5}, next.counts)
	next.mu.Unlock()

	select {
	case count := <-pub.countCh:
		assert.Equal(t, 5, count)
	case <-time.After(2 * time.Second):
		t.Fatal("session count was never mirrored to the publisher")
	}
}

func TestMirrorPublishFailureDoesNotBlockBroadcast(t *testing.T) {
	next := &recordingBroadcaster{}
	pub := newRecordingPublisher()
	pub.err = context.DeadlineExceeded
	m := Wrap(next, pub)

	// Failures are logged and dropped; the sessions were already served.
	m.BroadcastState(store.SelectionState{ItemID: "alpha", Version: 1}, 1)
	<-pub.stateCh

	next.mu.Lock()
	assert.Len(t, next.states, 1)
	next.mu.Unlock()
}
