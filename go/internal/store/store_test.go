package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selectcast/selectcast/go/internal/catalog"
	"github.com/selectcast/selectcast/go/internal/registry"
)

// recordingBroadcaster captures every broadcast for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	states []SelectionState
	counts []int
}

func (b *recordingBroadcaster) BroadcastState(state SelectionState, sessionCount int) {
	b.mu.Lock()
	b.states = append(b.states, state)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) BroadcastSessionCount(sessionCount int) {
	b.mu.Lock()
	b.counts = append(b.counts, sessionCount)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) snapshot() ([]SelectionState, []int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SelectionState(nil), b.states...), append([]int(nil), b.counts...)
}

// failingCatalog simulates an unreachable catalog.
type failingCatalog struct{}

func (failingCatalog) Contains(context.Context, string) (bool, error) {
	return false, catalog.ErrUnavailable
}

func newTestStore(t *testing.T) (*Store, *recordingBroadcaster) {
	t.Helper()
	reg := registry.New(registry.DefaultConfig(), nil)
	cat := catalog.NewStaticStore([]string{"alpha", "bravo", "charlie"})
	s := New(reg, cat, clockwork.NewFakeClock())
	b := &recordingBroadcaster{}
	s.SetBroadcaster(b)
	return s, b
}

func TestJoinReturnsSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.Join(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, first.SessionID)
	assert.Equal(t, int64(0), first.State.Version)
	assert.Equal(t, 1, first.SessionCount)

	_, err = s.SetSelection(ctx, "alpha", first.SessionID)
	require.NoError(t, err)

	// A late joiner sees the current state, not the initial one.
	second, err := s.Join(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alpha", second.State.ItemID)
	assert.Equal(t, int64(1), second.State.Version)
	assert.Equal(t, 2, second.SessionCount)
}

func TestJoinCapacityExceeded(t *testing.T) {
	reg := registry.New(registry.Config{Capacity: 1, EvictAfter: time.Minute, SweepInterval: time.Minute}, nil)
	s := New(reg, catalog.NewStaticStore([]string{"alpha"}), nil)
	ctx := context.Background()

	_, err := s.Join(ctx)
	require.NoError(t, err)

	_, err = s.Join(ctx)
	assert.ErrorIs(t, err, registry.ErrCapacityExceeded)
}

func TestSetSelectionIncrementsVersionByOne(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	joined, err := s.Join(ctx)
	require.NoError(t, err)

	st1, err := s.SetSelection(ctx, "alpha", joined.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st1.Version)
	assert.Equal(t, "alpha", st1.ItemID)
	assert.Equal(t, joined.SessionID, st1.OriginSessionID)

	st2, err := s.SetSelection(ctx, "bravo", joined.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st2.Version)

	// Re-selecting the same item is still a new version.
	st3, err := s.SetSelection(ctx, "bravo", joined.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st3.Version)

	states, _ := b.snapshot()
	require.Len(t, states, 3)
	assert.Equal(t, int64(3), states[2].Version)
}

func TestSetSelectionUnknownItem(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	joined, err := s.Join(ctx)
	require.NoError(t, err)

	_, err = s.SetSelection(ctx, "zulu", joined.SessionID)
	assert.ErrorIs(t, err, ErrUnknownItem)

	// A rejected mutation changes nothing and broadcasts nothing.
	assert.Equal(t, int64(0), s.Snapshot().Version)
	states, _ := b.snapshot()
	assert.Empty(t, states)
}

func TestSetSelectionValidationUnavailable(t *testing.T) {
	reg := registry.New(registry.DefaultConfig(), nil)
	s := New(reg, failingCatalog{}, nil)
	ctx := context.Background()

	joined, err := s.Join(ctx)
	require.NoError(t, err)

	_, err = s.SetSelection(ctx, "alpha", joined.SessionID)
	assert.ErrorIs(t, err, ErrValidationUnavailable)
	assert.NotErrorIs(t, err, ErrUnknownItem)
	assert.Equal(t, int64(0), s.Snapshot().Version)
}

func TestConcurrentSelectionsAreTotallyOrdered(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	joined, err := s.Join(ctx)
	require.NoError(t, err)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	items := []string{"alpha", "bravo", "charlie"}
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.SetSelection(ctx, items[(w+i)%len(items)], joined.SessionID)
				if err != nil {
					t.Errorf("SetSelection failed: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	// Every accepted mutation got exactly one version; no gaps, no reuse.
	assert.Equal(t, int64(writers*perWriter), s.Snapshot().Version)

	states, _ := b.snapshot()
	require.Len(t, states, writers*perWriter)
	seen := make(map[int64]bool, len(states))
	for _, st := range states {
		assert.False(t, seen[st.Version], "version %d broadcast twice", st.Version)
		seen[st.Version] = true
	}
}

func TestLeaveIsIdempotentAndBroadcastsCount(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	joined, err := s.Join(ctx)
	require.NoError(t, err)

	s.Leave(ctx, joined.SessionID)
	s.Leave(ctx, joined.SessionID) // no-op

	_, counts := b.snapshot()
	// One count for the join, one for the single effective leave.
	assert.Equal(t, []int{1, 0}, counts)
	assert.Equal(t, 0, s.SessionCount())
}

func TestHeartbeat(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := registry.New(registry.DefaultConfig(), clock)
	s := New(reg, catalog.NewStaticStore([]string{"alpha"}), clock)
	ctx := context.Background()

	joined, err := s.Join(ctx)
	require.NoError(t, err)

	sentAt := clock.Now().Add(-40 * time.Millisecond)
	echoedAt, err := s.Heartbeat(ctx, joined.SessionID, sentAt)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), echoedAt)

	sess, ok := reg.Get(joined.SessionID)
	require.True(t, ok)
	require.Len(t, sess.Latencies, 1)
	assert.Equal(t, 40*time.Millisecond, sess.Latencies[0])

	_, err = s.Heartbeat(ctx, "nope", sentAt)
	assert.ErrorIs(t, err, registry.ErrUnknownSession)
}

func TestReconnectSnapshotSkipsIntermediateStates(t *testing.T) {
	// Session B misses broadcasts while offline; on resync it fetches the
	// snapshot and must see only the latest state, never the missed ones.
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.Join(ctx)
	require.NoError(t, err)
	b, err := s.Join(ctx)
	require.NoError(t, err)
	c, err := s.Join(ctx)
	require.NoError(t, err)

	_, err = s.SetSelection(ctx, "alpha", a.SessionID) // B offline, misses v1
	require.NoError(t, err)
	_, err = s.SetSelection(ctx, "bravo", c.SessionID) // B offline, misses v2
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, "bravo", snap.ItemID)
	assert.Equal(t, int64(2), snap.Version)
	assert.Equal(t, c.SessionID, snap.OriginSessionID)
	_ = b
}

func TestAttachTransport(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	joined, err := s.Join(ctx)
	require.NoError(t, err)

	require.NoError(t, s.AttachTransport(joined.SessionID, registry.TransportSSE))
	assert.ErrorIs(t, s.AttachTransport("nope", registry.TransportSSE), registry.ErrUnknownSession)
}
