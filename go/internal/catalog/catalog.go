package catalog

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the catalog could not be reached to answer a
// lookup. Callers must treat the answer as unknown, not as a miss.
var ErrUnavailable = errors.New("catalog unavailable")

// Store is the read-only item catalog that selection requests are validated
// against. The catalog contents and lookup machinery live outside this
// service; only this boundary is owned here.
type Store interface {
	// Contains reports whether itemID is a known selectable item.
	Contains(ctx context.Context, itemID string) (bool, error)
}

// StaticStore is an in-memory Store backed by a fixed item list, typically
// loaded from the service config.
type StaticStore struct {
	items map[string]struct{}
}

// NewStaticStore creates a StaticStore from the given item IDs.
func NewStaticStore(itemIDs []string) *StaticStore {
	items := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		items[id] = struct{}{}
	}
	return &StaticStore{items: items}
}

// Contains reports whether itemID is in the static item set.
func (s *StaticStore) Contains(_ context.Context, itemID string) (bool, error) {
	_, ok := s.items[itemID]
	return ok, nil
}
