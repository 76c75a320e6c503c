// Package app wires config, backend, engine and handlers into a runnable
// service.
package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/genc-murat/ringtsdb/internal/config"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
	"github.com/genc-murat/ringtsdb/internal/handlers"
	"github.com/genc-murat/ringtsdb/internal/logger"
	"github.com/genc-murat/ringtsdb/internal/metrics"
	"github.com/genc-murat/ringtsdb/internal/query"
	"github.com/genc-murat/ringtsdb/internal/server"
	"github.com/genc-murat/ringtsdb/internal/storage"
	"github.com/genc-murat/ringtsdb/internal/tsdb"
)

const shutdownGrace = 15 * time.Second

type App struct {
	cfg     config.Config
	backend ports.Backend
	server  *server.Server
}

// New opens the backend and builds the service. Backend failures surface
// here so the binary can exit non-zero at startup.
func New(cfg config.Config) (*App, error) {
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	store := tsdb.NewStore(backend, cfg.Limits, cfg.Pool, logger.New("tsdb"))
	engine := query.NewEngine(store, cfg.Limits, logger.New("query"))
	telemetry := metrics.New()
	registry := handlers.NewRegistry(store, engine, telemetry, logger.New("http"))
	srv := server.New(cfg.Server, registry.Router(), logger.New("server"))

	return &App{cfg: cfg, backend: backend, server: srv}, nil
}

func openBackend(cfg config.Config) (ports.Backend, error) {
	log := logger.New("storage")
	if cfg.Backend.Type == "memory" {
		log.Warn("using the in-memory backend; data will not survive a restart")
		return storage.NewMemory(), nil
	}
	return storage.OpenFDB(cfg.Backend, cfg.Pool, log)
}

// Run serves until ctx is cancelled, then drains and closes the backend.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(a.server.Start)
	g.Go(func() error {
		<-ctx.Done()
		return a.server.Shutdown(shutdownGrace)
	})

	err := g.Wait()
	if closeErr := a.backend.Close(); err == nil {
		err = closeErr
	}
	return err
}
