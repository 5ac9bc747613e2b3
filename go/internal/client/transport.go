package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/selectcast/selectcast/go/internal/gateway"
	"github.com/selectcast/selectcast/go/internal/registry"
)

// transportKind identifies the active push transport.
type transportKind string

const (
	transportWebSocket transportKind = "websocket"
	transportSSE       transportKind = "sse"
)

// transportEvent is what a push transport delivers into the manager loop.
// A non-nil err is terminal: the transport is gone.
type transportEvent struct {
	gen   int
	kind  transportKind
	event *gateway.Event
	err   error
}

// pushTransport is a live push channel. Only the WebSocket transport is
// client-writable.
type pushTransport interface {
	Kind() transportKind
	// ReadLoop delivers events tagged with gen until the transport dies.
	ReadLoop(gen int, out chan<- transportEvent)
	Close()
}

// wsTransport is a full-duplex channel.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// dialWebSocket establishes the duplex channel for a joined session.
func dialWebSocket(ctx context.Context, serverURL, sessionID string, handshakeTimeout, writeTimeout time.Duration) (*wsTransport, error) {
	u, err := wsEndpoint(serverURL, sessionID)
	if err != nil {
		return nil, &TransportError{Op: "websocket dial", Err: err}
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, classifyHTTPStatus("websocket dial", resp.StatusCode, "")
		}
		return nil, classifyNetErr("websocket dial", err)
	}

	return &wsTransport{conn: conn, writeTimeout: writeTimeout}, nil
}

func (t *wsTransport) Kind() transportKind { return transportWebSocket }

// ReadLoop decodes server events until the connection drops.
func (t *wsTransport) ReadLoop(gen int, out chan<- transportEvent) {
	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			out <- transportEvent{
				gen:  gen,
				kind: transportWebSocket,
				err:  classifyNetErr("websocket read", err),
			}
			return
		}

		var event gateway.Event
		if err := json.Unmarshal(message, &event); err != nil {
			log.Warn().Err(err).Msg("dropping malformed server event")
			continue
		}
		out <- transportEvent{gen: gen, kind: transportWebSocket, event: &event}
	}
}

// Send writes a client event with a bounded deadline.
func (t *wsTransport) Send(event *gateway.Event) error {
	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	if err := t.conn.WriteJSON(event); err != nil {
		return classifyNetErr("websocket write", err)
	}
	return nil
}

func (t *wsTransport) Close() {
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.conn.Close()
}

// sseTransport is a one-way server-push stream.
type sseTransport struct {
	body   interface{ Close() error }
	reader *bufio.Reader
	cancel context.CancelFunc
}

// openSSE establishes the one-way push stream for a joined session.
func openSSE(ctx context.Context, httpc *http.Client, serverURL, sessionID string, handshakeTimeout time.Duration) (*sseTransport, error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	u := fmt.Sprintf("%s/api/events?session_id=%s", strings.TrimRight(serverURL, "/"), url.QueryEscape(sessionID))
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "sse open", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")

	// Bound only the handshake; the stream itself stays open.
	handshake := time.AfterFunc(handshakeTimeout, cancel)

	resp, err := httpc.Do(req)
	handshake.Stop()
	if err != nil {
		cancel()
		if streamCtx.Err() != nil {
			return nil, &TimeoutError{Op: "sse open", Err: err}
		}
		return nil, classifyNetErr("sse open", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, classifyHTTPStatus("sse open", resp.StatusCode, "")
	}

	return &sseTransport{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
		cancel: cancel,
	}, nil
}

func (t *sseTransport) Kind() transportKind { return transportSSE }

// ReadLoop parses event-stream frames until the stream drops.
func (t *sseTransport) ReadLoop(gen int, out chan<- transportEvent) {
	var data strings.Builder

	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			out <- transportEvent{
				gen:  gen,
				kind: transportSSE,
				err:  classifyNetErr("sse read", err),
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var event gateway.Event
			if err := json.Unmarshal([]byte(data.String()), &event); err != nil {
				log.Warn().Err(err).Msg("dropping malformed server event")
			} else {
				out <- transportEvent{gen: gen, kind: transportSSE, event: &event}
			}
			data.Reset()
		default:
			// event:/id:/retry: fields and comments are not needed; the
			// envelope carries its own type.
		}
	}
}

func (t *sseTransport) Close() {
	t.cancel()
	t.body.Close()
}

// wsEndpoint converts the http(s) server URL into the ws(s) upgrade URL.
func wsEndpoint(serverURL, sessionID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("unsupported server URL scheme " + u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// classifyHTTPStatus maps an HTTP failure status into the taxonomy.
func classifyHTTPStatus(op string, status int, code string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{StatusCode: status, Message: op}
	case status == http.StatusTooManyRequests:
		return &OverloadError{Message: op}
	case status == http.StatusNotFound && code != "unknown_item":
		return fmt.Errorf("%s: %w", op, registry.ErrUnknownSession)
	default:
		return &TransportError{Op: op, Err: fmt.Errorf("unexpected status %d", status)}
	}
}
