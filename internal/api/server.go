// Package api exposes the HTTP read API, health endpoints, Prometheus
// metrics and the live record stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/gaswatch/internal/indexing/health"
)

const (
	serverReadTimeout  = 15 * time.Second
	serverWriteTimeout = 30 * time.Second
)

// Server is the HTTP front of the service.
type Server struct {
	router *mux.Router
	server *http.Server
}

// NewServer wires the routes. health and hub may be nil.
func NewServer(port int, handler *Handler, healthHandler *health.Handler, hub *Hub) *Server {
	router := mux.NewRouter()

	// the upgrade must bypass the gzip writer, so it sits on the root router
	if hub != nil {
		router.HandleFunc("/api/v1/live", hub.ServeWS).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })
	api.HandleFunc("/gas", handler.HandleGas).Methods(http.MethodGet)
	api.HandleFunc("/stats", handler.HandleStats).Methods(http.MethodGet)

	if healthHandler != nil {
		router.HandleFunc("/health", healthHandler.ServeHealth).Methods(http.MethodGet)
		router.HandleFunc("/health/detailed", healthHandler.ServeDetailed).Methods(http.MethodGet)
	}
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return &Server{
		router: router,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      router,
			ReadTimeout:  serverReadTimeout,
			WriteTimeout: serverWriteTimeout,
		},
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
