package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/selectcast/selectcast/go/internal/registry"
)

// SSEHub manages one-way server-push streams for sessions that could not
// establish a full-duplex channel.
type SSEHub struct {
	mu      sync.RWMutex
	clients map[string]*sseClient // keyed by session ID

	core Core
}

type sseClient struct {
	sessionID string
	events    chan *Event
	done      chan struct{}
}

// NewSSEHub creates a hub for server-sent event streams.
func NewSSEHub(core Core) *SSEHub {
	return &SSEHub{
		clients: make(map[string]*sseClient),
		core:    core,
	}
}

// Broadcast queues an event for every streaming session. If a client's
// buffer is full the event is dropped for that client; resync covers the
// gap.
func (h *SSEHub) Broadcast(event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.events <- event:
		default:
			log.Warn().
				Str("session_id", client.sessionID).
				Str("event_type", string(event.Type)).
				Msg("SSE buffer full, dropping event")
		}
	}
}

// ClientCount returns the number of active streams.
func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles GET /api/events?session_id=. The stream stays open
// until the client disconnects or the hub replaces it.
func (h *SSEHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	if err := h.core.AttachTransport(sessionID, registry.TransportSSE); err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := &sseClient{
		sessionID: sessionID,
		events:    make(chan *Event, 256),
		done:      make(chan struct{}),
	}
	h.register(client)
	defer h.unregister(client)

	log.Info().Str("session_id", sessionID).Msg("SSE stream established")

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case event, ok := <-client.events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				log.Warn().
					Err(err).
					Str("session_id", sessionID).
					Msg("SSE write failed")
				return
			}
			flusher.Flush()
		}
	}
}

// register adds a stream, displacing any prior stream for the session.
func (h *SSEHub) register(c *sseClient) {
	h.mu.Lock()
	prior := h.clients[c.sessionID]
	h.clients[c.sessionID] = c
	h.mu.Unlock()

	if prior != nil {
		close(prior.done)
	}
}

func (h *SSEHub) unregister(c *sseClient) {
	h.mu.Lock()
	if current, ok := h.clients[c.sessionID]; ok && current == c {
		delete(h.clients, c.sessionID)
	}
	h.mu.Unlock()

	log.Info().Str("session_id", c.sessionID).Msg("SSE stream closed")
}

func writeSSEEvent(w http.ResponseWriter, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	return nil
}
