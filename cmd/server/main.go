package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/genc-murat/ringtsdb/internal/app"
	"github.com/genc-murat/ringtsdb/internal/config"
	"github.com/genc-murat/ringtsdb/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup("info")
		logger.New("main").Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level)
	log := logger.New("main")

	a, err := app.New(cfg)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}
