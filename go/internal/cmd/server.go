package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	// Register gateway routes (WebSocket, SSE, and REST)
	services.Gateway.RegisterRoutes(mux)

	// Add health check endpoint
	setupHealthCheck(mux)

	// Add service info
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		state := services.Store.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"selectcast","version":%d,"sessions":%d,"push_connections":%d}`,
			state.Version, services.Store.SessionCount(), services.Gateway.ConnectionCount())
	})

	// Wrap with CORS
	handler := c.Handler(mux)

	// Setup HTTP/2 server. WriteTimeout stays zero: the SSE stream is
	// long-lived.
	return &http.Server{
		Addr:        fmt.Sprintf(":%s", getEnv("PORT", "8080")),
		Handler:     h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Warn().Err(err).Msg("failed to write health check response")
		}
	})
}
