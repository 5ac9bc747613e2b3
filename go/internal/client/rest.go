package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/selectcast/selectcast/go/internal/gateway"
	"github.com/selectcast/selectcast/go/internal/registry"
	"github.com/selectcast/selectcast/go/internal/store"
)

// REST calls double as the transport-agnostic equivalents of the duplex
// operations: join/leave always go over REST, selection and heartbeat go
// over REST whenever the push channel is not client-writable (SSE, poll).

func (m *Manager) doJoin(ctx context.Context) (store.JoinResult, error) {
	var result store.JoinResult
	err := m.doPost(ctx, "/api/join", struct{}{}, &result)
	return result, err
}

func (m *Manager) doSetSelection(ctx context.Context, itemID string) (store.SelectionState, error) {
	var state store.SelectionState
	err := m.doPost(ctx, "/api/selection", gateway.SelectionRequest{
		ItemID:    itemID,
		SessionID: m.sessionID,
	}, &state)
	return state, err
}

func (m *Manager) doHeartbeat(ctx context.Context, sentAt time.Time) (gateway.HeartbeatAckPayload, error) {
	var ack gateway.HeartbeatAckPayload
	err := m.doPost(ctx, "/api/heartbeat", gateway.HeartbeatRequest{
		SessionID: m.sessionID,
		SentAt:    sentAt,
	}, &ack)
	return ack, err
}

func (m *Manager) doLeave(ctx context.Context) error {
	return m.doPost(ctx, "/api/leave", gateway.LeaveRequest{SessionID: m.sessionID}, nil)
}

func (m *Manager) doFetchState(ctx context.Context) (gateway.StateResponse, error) {
	u := m.endpoint("/api/state")
	if id := m.getSessionID(); id != "" {
		u += "?session_id=" + url.QueryEscape(id)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gateway.StateResponse{}, &TransportError{Op: "fetch state", Err: err}
	}

	resp, err := m.httpc.Do(req)
	if err != nil {
		return gateway.StateResponse{}, classifyNetErr("fetch state", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gateway.StateResponse{}, decodeError("fetch state", resp)
	}

	var snapshot gateway.StateResponse
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return gateway.StateResponse{}, &TransportError{Op: "fetch state", Err: err}
	}
	return snapshot, nil
}

// doPost issues a JSON POST and decodes the response into out (which may be
// nil for bodiless responses).
func (m *Manager) doPost(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return &TransportError{Op: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return classifyNetErr(path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &TransportError{Op: path, Err: err}
		}
		return nil
	case http.StatusNoContent:
		return nil
	default:
		return decodeError(path, resp)
	}
}

// decodeError maps a REST failure onto the shared error taxonomy, using the
// wire error code when the server supplied one.
func decodeError(op string, resp *http.Response) error {
	var wire gateway.ErrorPayload
	_ = json.NewDecoder(resp.Body).Decode(&wire)

	switch wire.Code {
	case "unknown_item":
		return fmt.Errorf("%s: %w", op, store.ErrUnknownItem)
	case "validation_unavailable":
		return fmt.Errorf("%s: %w", op, store.ErrValidationUnavailable)
	case "unknown_session":
		return fmt.Errorf("%s: %w", op, registry.ErrUnknownSession)
	case "capacity_exceeded":
		return &OverloadError{Message: wire.Message}
	}
	return classifyHTTPStatus(op, resp.StatusCode, wire.Code)
}

func (m *Manager) endpoint(path string) string {
	return strings.TrimRight(m.cfg.ServerURL, "/") + path
}
