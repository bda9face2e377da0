package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Server runs the API listener.
type Server struct {
	addr   string
	server *http.Server
	logger *slog.Logger
}

// NewServer wraps a handler in an http.Server with sane timeouts. Write
// timeout is generous because WebSocket upgrades share this listener.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:        addr,
			Handler:     handler,
			ReadTimeout: 10 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
	}
}

// Start starts the server in a goroutine. Returns immediately; use
// Shutdown to stop.
func (s *Server) Start() {
	s.logger.Info("api_server_starting", "addr", s.addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api_server_error", "error", err)
		}
	}()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("api_server_shutting_down")
	return s.server.Shutdown(ctx)
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}
