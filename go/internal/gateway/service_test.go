package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selectcast/selectcast/go/internal/catalog"
	"github.com/selectcast/selectcast/go/internal/registry"
	"github.com/selectcast/selectcast/go/internal/store"
)

func newTestService(t *testing.T) (*httptest.Server, *store.Store, *Service) {
	t.Helper()

	reg := registry.New(registry.DefaultConfig(), nil)
	cat := catalog.NewStaticStore([]string{"alpha", "bravo"})
	st := store.New(reg, cat, nil)

	service := NewService(DefaultConfig(), st)
	st.SetBroadcaster(service.Dispatcher())

	ctx, cancel := context.WithCancel(context.Background())
	go service.Start(ctx)
	t.Cleanup(cancel)

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, st, service
}

func dialWS(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?session_id=" + sessionID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads server events until one of the wanted type arrives,
// skipping interleaved session_count broadcasts.
func readEvent(t *testing.T, conn *websocket.Conn, want EventType) *Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, message, err := conn.ReadMessage()
		require.NoError(t, err)

		var event Event
		require.NoError(t, json.Unmarshal(message, &event))
		if event.Type == want {
			return &event
		}
	}
}

func TestWebSocketSelectionBroadcast(t *testing.T) {
	server, st, _ := newTestService(t)
	ctx := context.Background()

	a, err := st.Join(ctx)
	require.NoError(t, err)
	b, err := st.Join(ctx)
	require.NoError(t, err)

	connA := dialWS(t, server, a.SessionID)
	connB := dialWS(t, server, b.SessionID)

	event, err := NewEvent(EventTypeSetSelection, SetSelectionPayload{ItemID: "alpha"})
	require.NoError(t, err)
	require.NoError(t, connA.WriteJSON(event))

	// Both sessions get the broadcast, including the originator.
	for _, conn := range []*websocket.Conn{connA, connB} {
		update := readEvent(t, conn, EventTypeStateUpdate)
		payload, err := ParseEventPayload(update)
		require.NoError(t, err)

		p := payload.(StateUpdatePayload)
		assert.Equal(t, "alpha", p.ItemID)
		assert.Equal(t, int64(1), p.Version)
		assert.Equal(t, a.SessionID, p.OriginSessionID)
		assert.Equal(t, 2, p.SessionCount)
	}
}

func TestWebSocketRejectionGoesOnlyToSender(t *testing.T) {
	server, st, _ := newTestService(t)
	ctx := context.Background()

	a, err := st.Join(ctx)
	require.NoError(t, err)

	conn := dialWS(t, server, a.SessionID)

	event, err := NewEvent(EventTypeSetSelection, SetSelectionPayload{ItemID: "zulu"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(event))

	errEvent := readEvent(t, conn, EventTypeError)
	payload, err := ParseEventPayload(errEvent)
	require.NoError(t, err)
	assert.Equal(t, "unknown_item", payload.(ErrorPayload).Code)

	// The rejected request mutated nothing.
	assert.Equal(t, int64(0), st.Snapshot().Version)
}

func TestWebSocketHeartbeatAck(t *testing.T) {
	server, st, _ := newTestService(t)
	ctx := context.Background()

	a, err := st.Join(ctx)
	require.NoError(t, err)
	conn := dialWS(t, server, a.SessionID)

	sentAt := time.Now()
	event, err := NewEvent(EventTypeHeartbeat, HeartbeatPayload{SentAt: sentAt})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(event))

	ack := readEvent(t, conn, EventTypeHeartbeatAck)
	payload, err := ParseEventPayload(ack)
	require.NoError(t, err)

	p := payload.(HeartbeatAckPayload)
	assert.True(t, p.SentAt.Equal(sentAt))
	assert.False(t, p.EchoedAt.IsZero())
}

func TestWebSocketUpgradeRequiresJoinedSession(t *testing.T) {
	server, _, _ := newTestService(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?session_id=never-joined"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSSEStreamReceivesBroadcasts(t *testing.T) {
	server, st, service := newTestService(t)
	ctx := context.Background()

	a, err := st.Join(ctx)
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/api/events?session_id=" + a.SessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the stream to register before mutating.
	require.Eventually(t, func() bool {
		return service.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = st.SetSelection(ctx, "bravo", a.SessionID)
	require.NoError(t, err)

	event := readSSEEvent(t, resp, EventTypeStateUpdate)
	payload, err := ParseEventPayload(event)
	require.NoError(t, err)

	p := payload.(StateUpdatePayload)
	assert.Equal(t, "bravo", p.ItemID)
	assert.Equal(t, int64(1), p.Version)
}

func TestSSEStreamRequiresJoinedSession(t *testing.T) {
	server, _, _ := newTestService(t)

	resp, err := http.Get(server.URL + "/api/events?session_id=never-joined")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// readSSEEvent scans event-stream frames until one of the wanted type
// arrives.
func readSSEEvent(t *testing.T, resp *http.Response, want EventType) *Event {
	t.Helper()

	reader := bufio.NewReader(resp.Body)
	var data string
	deadline := time.After(3 * time.Second)
	lines := make(chan string)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimRight(line, "\r\n")
		}
	}()

	for {
		select {
		case <-deadline:
			t.Fatalf("no %s event arrived on the SSE stream", want)
		case line, ok := <-lines:
			if !ok {
				t.Fatal("SSE stream closed before the expected event")
			}
			if strings.HasPrefix(line, "data:") {
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				continue
			}
			if line == "" && data != "" {
				var event Event
				require.NoError(t, json.Unmarshal([]byte(data), &event))
				data = ""
				if event.Type == want {
					return &event
				}
			}
		}
	}
}
