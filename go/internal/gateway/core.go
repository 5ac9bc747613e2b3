package gateway

import (
	"context"
	"time"

	"github.com/selectcast/selectcast/go/internal/registry"
	"github.com/selectcast/selectcast/go/internal/store"
)

// Core is the authoritative state surface the gateway exposes over its
// transports. *store.Store implements it; tests substitute doubles.
type Core interface {
	Join(ctx context.Context) (store.JoinResult, error)
	SetSelection(ctx context.Context, itemID, sessionID string) (store.SelectionState, error)
	Leave(ctx context.Context, sessionID string)
	Heartbeat(ctx context.Context, sessionID string, sentAt time.Time) (time.Time, error)
	AttachTransport(sessionID string, t registry.Transport) error
	Snapshot() store.SelectionState
	SessionCount() int
}
