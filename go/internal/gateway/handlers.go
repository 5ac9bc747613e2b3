package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/selectcast/selectcast/go/internal/registry"
	"github.com/selectcast/selectcast/go/internal/store"
)

// Handlers exposes the REST surface: join/leave/heartbeat, selection
// mutation, and the polling snapshot. The same operations are available
// over WebSocket; REST is the transport-agnostic equivalent.
type Handlers struct {
	core Core
}

// NewHandlers creates the REST handler set.
func NewHandlers(core Core) *Handlers {
	return &Handlers{core: core}
}

// StateResponse is the polling/resync snapshot. It includes the session
// count so polling clients can show peer counts without a second request.
type StateResponse struct {
	ItemID          string    `json:"item_id"`
	Version         int64     `json:"version"`
	UpdatedAt       time.Time `json:"updated_at"`
	OriginSessionID string    `json:"origin_session_id"`
	SessionCount    int       `json:"session_count"`
}

// SelectionRequest is the body of POST /api/selection.
type SelectionRequest struct {
	ItemID    string `json:"item_id"`
	SessionID string `json:"session_id"`
}

// HeartbeatRequest is the body of POST /api/heartbeat.
type HeartbeatRequest struct {
	SessionID string    `json:"session_id"`
	SentAt    time.Time `json:"sent_at"`
}

// LeaveRequest is the body of POST /api/leave.
type LeaveRequest struct {
	SessionID string `json:"session_id"`
}

// HandleJoin handles POST /api/join.
func (h *Handlers) HandleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := h.core.Join(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSelection handles POST /api/selection.
func (h *Handlers) HandleSelection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "bad_request", "malformed selection request")
		return
	}
	if req.ItemID == "" || req.SessionID == "" {
		writeErrorCode(w, http.StatusBadRequest, "bad_request", "item_id and session_id are required")
		return
	}

	state, err := h.core.SetSelection(r.Context(), req.ItemID, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleHeartbeat handles POST /api/heartbeat.
func (h *Handlers) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "bad_request", "malformed heartbeat request")
		return
	}

	echoedAt, err := h.core.Heartbeat(r.Context(), req.SessionID, req.SentAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HeartbeatAckPayload{SentAt: req.SentAt, EchoedAt: echoedAt})
}

// HandleLeave handles POST /api/leave. Leaving is idempotent.
func (h *Handlers) HandleLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "bad_request", "malformed leave request")
		return
	}

	h.core.Leave(r.Context(), req.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleState handles GET /api/state, the polling fallback fetch and the
// resync endpoint.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// A polling session keeps itself alive through its fetches.
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		if _, err := h.core.Heartbeat(r.Context(), sessionID, time.Time{}); err != nil {
			log.Debug().
				Str("session_id", sessionID).
				Msg("poll fetch from unknown session")
		}
	}

	state := h.core.Snapshot()
	writeJSON(w, http.StatusOK, StateResponse{
		ItemID:          state.ItemID,
		Version:         state.Version,
		UpdatedAt:       state.UpdatedAt,
		OriginSessionID: state.OriginSessionID,
		SessionCount:    h.core.SessionCount(),
	})
}

// RegisterRoutes registers the REST routes on the mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/join", h.HandleJoin)
	mux.HandleFunc("/api/selection", h.HandleSelection)
	mux.HandleFunc("/api/heartbeat", h.HandleHeartbeat)
	mux.HandleFunc("/api/leave", h.HandleLeave)
	mux.HandleFunc("/api/state", h.HandleState)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps core errors onto the REST status codes: 404 unknown item,
// 503 validation unavailable, 429 capacity exhaustion.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUnknownItem):
		writeErrorCode(w, http.StatusNotFound, "unknown_item", err.Error())
	case errors.Is(err, store.ErrValidationUnavailable):
		writeErrorCode(w, http.StatusServiceUnavailable, "validation_unavailable", err.Error())
	case errors.Is(err, registry.ErrCapacityExceeded):
		writeErrorCode(w, http.StatusTooManyRequests, "capacity_exceeded", err.Error())
	case errors.Is(err, registry.ErrUnknownSession):
		writeErrorCode(w, http.StatusNotFound, "unknown_session", err.Error())
	default:
		log.Error().Err(err).Msg("internal error")
		writeErrorCode(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorPayload{Code: code, Message: message})
}
