package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/selectcast/selectcast/go/internal/registry"
	"github.com/selectcast/selectcast/go/internal/store"
)

// ConnectionManager manages WebSocket connections, one per session.
type ConnectionManager struct {
	connections map[string]*Connection // keyed by session ID
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	core     Core

	broadcastCh chan *Event
}

// Connection represents a WebSocket connection to one session.
type Connection struct {
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	// closeMu serializes sends on Send with its close. Senders and closers
	// run on different goroutines (readPump acks, the broadcast loop, and
	// unregister paths), so the channel may only be closed and written
	// under this lock.
	closeMu sync.Mutex
	closed  bool
}

// trySend enqueues data for the write pump. It returns false if the
// connection is already closing or its buffer is full; it never panics on a
// concurrently closed connection.
func (c *Connection) trySend(data []byte) bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once.
func (c *Connection) closeSend() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig, core Core) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		core:        core,
		broadcastCh: make(chan *Event, 1000), // Buffer for burst fan-out
	}
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case event := <-cm.broadcastCh:
			cm.handleBroadcast(event)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket bound to the
// given session. An existing connection for the session is replaced.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, sessionID string) error {
	if err := cm.core.AttachTransport(sessionID, registry.TransportWebSocket); err != nil {
		return fmt.Errorf("attach websocket transport: %w", err)
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		SessionID:   sessionID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("session_id", sessionID).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection, replacing any prior connection for
// the same session.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	prior := cm.connections[conn.SessionID]
	cm.connections[conn.SessionID] = conn
	cm.mu.Unlock()

	if prior != nil {
		prior.closeSend()
		prior.Conn.Close()
		log.Debug().
			Str("session_id", conn.SessionID).
			Msg("replaced prior connection for session")
	}
}

// unregisterConnection removes a connection if it is still the active one
// for its session.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	current, exists := cm.connections[conn.SessionID]
	if exists && current == conn {
		delete(cm.connections, conn.SessionID)
		conn.closeSend()
	}
	cm.mu.Unlock()

	if exists && current == conn {
		log.Info().
			Str("session_id", conn.SessionID).
			Msg("connection unregistered")
	}
}

// Broadcast queues an event for delivery to every connected session.
func (cm *ConnectionManager) Broadcast(event *Event) {
	select {
	case cm.broadcastCh <- event:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("broadcast channel full, dropping message")
	}
}

// SendTo delivers an event to a single session, if it has a WebSocket.
func (cm *ConnectionManager) SendTo(sessionID string, event *Event) bool {
	cm.mu.RLock()
	conn, ok := cm.connections[sessionID]
	cm.mu.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return false
	}

	if conn.trySend(data) {
		return true
	}
	log.Warn().
		Str("session_id", sessionID).
		Msg("connection closing or send buffer full, dropping event")
	cm.unregisterConnection(conn)
	conn.Conn.Close()
	return false
}

// handleBroadcast fans one event out to every connection. Delivery is
// best-effort per session; a slow or dead connection is dropped without
// blocking the others.
func (cm *ConnectionManager) handleBroadcast(event *Event) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		if conn.trySend(data) {
			continue
		}
		log.Warn().
			Str("session_id", conn.SessionID).
			Str("event_type", string(event.Type)).
			Msg("per-session broadcast failure, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(event.Type)).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// ConnectionCount returns the number of active WebSocket connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for id, conn := range cm.connections {
		conn.closeSend()
		conn.Conn.Close()
		delete(cm.connections, id)
	}
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("session_id", c.SessionID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("session_id", c.SessionID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("session_id", c.SessionID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage dispatches a client event to the core. Rejections go
// back only to this session as error events.
func (c *Connection) handleClientMessage(message []byte) {
	ctx := context.Background()

	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", c.SessionID).
			Msg("received malformed client message")
		c.sendError("protocol_violation", "malformed event envelope")
		return
	}

	payload, err := ParseEventPayload(&event)
	if err != nil {
		c.sendError("protocol_violation", fmt.Sprintf("bad %s payload", event.Type))
		return
	}

	switch event.Type {
	case EventTypeSetSelection:
		p := payload.(SetSelectionPayload)
		if _, err := c.Manager.core.SetSelection(ctx, p.ItemID, c.SessionID); err != nil {
			c.sendError(errorCode(err), err.Error())
		}

	case EventTypeHeartbeat:
		p := payload.(HeartbeatPayload)
		echoedAt, err := c.Manager.core.Heartbeat(ctx, c.SessionID, p.SentAt)
		if err != nil {
			c.sendError(errorCode(err), err.Error())
			return
		}
		ack, err := NewEvent(EventTypeHeartbeatAck, HeartbeatAckPayload{
			SentAt:   p.SentAt,
			EchoedAt: echoedAt,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to build heartbeat ack")
			return
		}
		c.Manager.SendTo(c.SessionID, ack)

	case EventTypeLeave:
		c.Manager.core.Leave(ctx, c.SessionID)

	default:
		log.Debug().
			Str("session_id", c.SessionID).
			Str("event_type", string(event.Type)).
			Msg("ignoring unexpected client event")
	}
}

func (c *Connection) sendError(code, message string) {
	event, err := NewEvent(EventTypeError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		log.Error().Err(err).Msg("failed to build error event")
		return
	}
	c.Manager.SendTo(c.SessionID, event)
}

// errorCode maps core errors to wire error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrUnknownItem):
		return "unknown_item"
	case errors.Is(err, store.ErrValidationUnavailable):
		return "validation_unavailable"
	case errors.Is(err, registry.ErrUnknownSession):
		return "unknown_session"
	case errors.Is(err, registry.ErrCapacityExceeded):
		return "capacity_exceeded"
	default:
		return "internal"
	}
}
