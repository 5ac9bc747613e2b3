package store

import "errors"

// ErrUnknownItem indicates the requested item is not in the catalog. The
// authoritative state is unchanged.
var ErrUnknownItem = errors.New("unknown item")

// ErrValidationUnavailable indicates the catalog collaborator could not be
// reached, so the mutation was rejected without being applied.
var ErrValidationUnavailable = errors.New("item validation unavailable")
