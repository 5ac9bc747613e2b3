package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrCapacityExceeded indicates the registry cannot accept another session.
var ErrCapacityExceeded = errors.New("session registry capacity exceeded")

// ErrUnknownSession indicates the session is not (or no longer) registered.
var ErrUnknownSession = errors.New("unknown session")

// Config holds registry tunables.
type Config struct {
	// Capacity is the maximum number of concurrent sessions. Zero means
	// unlimited.
	Capacity int
	// EvictAfter is how stale a session's last-seen may get before the
	// sweeper removes it.
	EvictAfter time.Duration
	// SweepInterval is how often the sweeper scans for stale sessions.
	SweepInterval time.Duration
}

// DefaultConfig returns default registry configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:      1024,
		EvictAfter:    90 * time.Second,
		SweepInterval: 15 * time.Second,
	}
}

// Registry tracks connected sessions and their metadata. All methods are
// safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg   Config
	clock clockwork.Clock
}

// New creates a Registry. The clock is injectable for tests.
func New(cfg Config, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		clock:    clock,
	}
}

// Add registers a new session and returns it. Fails only with
// ErrCapacityExceeded.
func (r *Registry) Add() (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.Capacity > 0 && len(r.sessions) >= r.cfg.Capacity {
		return Session{}, ErrCapacityExceeded
	}

	now := r.clock.Now()
	s := &Session{
		ID:          uuid.New().String(),
		ConnectedAt: now,
		LastSeen:    now,
		Transport:   TransportNone,
	}
	r.sessions[s.ID] = s

	log.Debug().
		Str("session_id", s.ID).
		Int("session_count", len(r.sessions)).
		Msg("session registered")

	return s.clone(), nil
}

// Remove unregisters a session. It reports whether the session was present,
// making repeated removal idempotent.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return false
	}
	delete(r.sessions, sessionID)

	log.Debug().
		Str("session_id", sessionID).
		Int("session_count", len(r.sessions)).
		Msg("session removed")

	return true
}

// Touch refreshes a session's last-seen timestamp.
func (r *Registry) Touch(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	s.LastSeen = r.clock.Now()
	return nil
}

// SetTransport records the negotiated transport for a session.
func (r *Registry) SetTransport(sessionID string, t Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	s.Transport = t
	s.LastSeen = r.clock.Now()
	return nil
}

// RecordLatency appends a heartbeat RTT sample to a session's history.
func (r *Registry) RecordLatency(sessionID string, rtt time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	s.recordLatency(rtt)
	return nil
}

// Get returns a copy of the session, if registered.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Len returns the current session count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns copies of all registered sessions.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	return out
}

// EvictStale removes every session whose last-seen exceeds the eviction
// threshold and returns the evicted sessions.
func (r *Registry) EvictStale() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().Add(-r.cfg.EvictAfter)
	var evicted []Session
	for id, s := range r.sessions {
		if s.LastSeen.Before(cutoff) {
			evicted = append(evicted, s.clone())
			delete(r.sessions, id)
		}
	}

	if len(evicted) > 0 {
		log.Info().
			Int("evicted", len(evicted)).
			Int("session_count", len(r.sessions)).
			Msg("evicted stale sessions")
	}

	return evicted
}

// RunSweeper periodically evicts stale sessions until ctx is cancelled,
// invoking onEvict for each sweep that removed at least one session.
func (r *Registry) RunSweeper(ctx context.Context, onEvict func(evicted []Session)) {
	ticker := r.clock.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	log.Info().
		Dur("sweep_interval", r.cfg.SweepInterval).
		Dur("evict_after", r.cfg.EvictAfter).
		Msg("session sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session sweeper shutting down")
			return
		case <-ticker.Chan():
			if evicted := r.EvictStale(); len(evicted) > 0 && onEvict != nil {
				onEvict(evicted)
			}
		}
	}
}
