// Package rest exposes the read and trigger surface over HTTP. The
// router is a stdlib ServeMux with method patterns; cross-cutting
// concerns (request ids, logging, metrics, CORS, panic recovery) live
// in middleware.
package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/regradar/regradar-backend/internal/infrastructure/config"
)

// Server wraps the http.Server with graceful shutdown.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func NewServer(cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.srv.Shutdown(ctx)
}
