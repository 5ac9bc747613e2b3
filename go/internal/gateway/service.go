package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/selectcast/selectcast/go/internal/store"
)

// Service ties the transports together: WebSocket pool, SSE hub, broadcast
// dispatcher, and the REST surface.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	sseHub            *SSEHub
	dispatcher        *Dispatcher
	handlers          *Handlers
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates the gateway over the given core.
func NewService(config Config, core Core) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, core)
	sseHub := NewSSEHub(core)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		sseHub:            sseHub,
		dispatcher:        NewDispatcher(connectionManager, sseHub),
		handlers:          NewHandlers(core),
	}
}

// Dispatcher returns the broadcast dispatcher to attach to the store.
func (s *Service) Dispatcher() store.Broadcaster {
	return s.dispatcher
}

// Start runs the broadcast loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("gateway service stopped")
}

// RegisterRoutes registers the WebSocket, SSE, and REST routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.handlers.RegisterRoutes(mux)
	mux.Handle("/api/events", s.sseHub)
	log.Info().Msg("gateway routes registered")
}

// ConnectionCount returns the number of active push connections.
func (s *Service) ConnectionCount() int {
	return s.connectionManager.ConnectionCount() + s.sseHub.ClientCount()
}
