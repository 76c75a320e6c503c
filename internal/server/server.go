// Package server owns the HTTP listener lifecycle.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/genc-murat/ringtsdb/internal/config"
)

type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

func New(cfg config.ServerConfig, handler http.Handler, log *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Address(),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout.Duration(),
			WriteTimeout: cfg.WriteTimeout.Duration(),
			IdleTimeout:  cfg.IdleTimeout.Duration(),
		},
		log: log,
	}
}

// Start blocks serving until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the grace period.
func (s *Server) Shutdown(grace time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	s.log.Info("shutting down")
	return s.httpServer.Shutdown(ctx)
}
