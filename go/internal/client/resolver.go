package client

import (
	"github.com/selectcast/selectcast/go/internal/gateway"
	"github.com/selectcast/selectcast/go/internal/store"
)

// ApplyResult describes what a broadcast did to local state.
type ApplyResult struct {
	// Applied means the displayed selection changed.
	Applied bool
	// Echo means the broadcast confirmed this session's own optimistic
	// update and was not re-applied.
	Echo bool
	// Corrected means an optimistic value was replaced by a different
	// authoritative one; callers show a brief correction notice.
	Corrected bool
	// GapDetected means at least one broadcast was missed; callers must
	// resync.
	GapDetected bool
}

// Resolver reconciles optimistic local updates against server-confirmed
// broadcasts. Server arrival order is the sole source of truth:
// last-accepted-by-server wins, never the client's wall clock. Not safe for
// concurrent use; it belongs to the manager loop.
type Resolver struct {
	sessionID string

	confirmed  store.SelectionState
	optimistic *string
}

// NewResolver creates an empty resolver. Bind attaches the session identity
// once join completes.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Bind records this client's session ID for echo suppression.
func (r *Resolver) Bind(sessionID string) {
	r.sessionID = sessionID
}

// ApplyOptimistic applies a local selection before server confirmation.
func (r *Resolver) ApplyOptimistic(itemID string) {
	r.optimistic = &itemID
}

// Revert discards a pending optimistic value after the server rejected the
// mutation, restoring the last confirmed selection.
func (r *Resolver) Revert() {
	r.optimistic = nil
}

// ApplyBroadcast folds an authoritative broadcast into local state.
func (r *Resolver) ApplyBroadcast(p gateway.StateUpdatePayload) ApplyResult {
	gap := r.confirmed.Version > 0 && p.Version > r.confirmed.Version+1

	displayed := r.DisplayedItem()
	next := store.SelectionState{
		ItemID:          p.ItemID,
		Version:         p.Version,
		UpdatedAt:       p.UpdatedAt,
		OriginSessionID: p.OriginSessionID,
	}

	if p.OriginSessionID == r.sessionID && r.sessionID != "" {
		// Own echo: already applied optimistically. Version bookkeeping
		// still advances.
		r.confirmed = next
		if r.optimistic != nil && *r.optimistic == p.ItemID {
			r.optimistic = nil
		}
		return ApplyResult{Echo: true, GapDetected: gap}
	}

	corrected := r.optimistic != nil && *r.optimistic != p.ItemID
	r.confirmed = next
	r.optimistic = nil

	return ApplyResult{
		Applied:     displayed != p.ItemID,
		Corrected:   corrected,
		GapDetected: gap,
	}
}

// Resync replaces local state wholesale with an authoritative snapshot.
// Used after every reconnect; missed broadcasts are never replayed.
func (r *Resolver) Resync(state store.SelectionState) bool {
	changed := r.confirmed != state || r.optimistic != nil
	r.confirmed = state
	r.optimistic = nil
	return changed
}

// State returns the last confirmed authoritative state.
func (r *Resolver) State() store.SelectionState {
	return r.confirmed
}

// DisplayedItem returns what the UI should show: the pending optimistic
// value if one exists, otherwise the confirmed selection.
func (r *Resolver) DisplayedItem() string {
	if r.optimistic != nil {
		return *r.optimistic
	}
	return r.confirmed.ItemID
}

// Version returns the last confirmed version.
func (r *Resolver) Version() int64 {
	return r.confirmed.Version
}
