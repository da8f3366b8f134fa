// Command server is the process entry point for the trade core. It loads
// configuration, wires the core via internal/di, and runs until it receives
// a shutdown signal.
//
// Concrete broker providers and experts are supplied by embedding programs:
// this entry point wires the core with no accounts and no
// expert factories registered, which is enough to exercise the persistence
// layer, worker queue, job manager scheduling, and read-only API surface.
// An embedding program links against internal/di directly and supplies its
// own di.Options with real broker.Provider and jobmanager.ExpertFactory
// implementations.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bmigette/tradecore/internal/config"
	"github.com/bmigette/tradecore/internal/di"
	"github.com/bmigette/tradecore/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	dbFile := flag.String("db-file", cfg.DBFile, "primary sqlite database filename")
	cacheFolder := flag.String("cache-folder", cfg.CacheFolder, "price cache / backup staging directory")
	logFolder := flag.String("log-folder", cfg.LogFolder, "log output directory")
	port := flag.Int("port", cfg.Port, "HTTP API port")
	flag.Parse()

	cfg.DBFile = *dbFile
	cfg.CacheFolder = *cacheFolder
	cfg.LogFolder = *logFolder
	cfg.Port = *port

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Str("data_dir", cfg.DataDir).Msg("starting tradecore")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}
	if err := os.MkdirAll(cfg.CacheFolder, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create cache folder")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.Wire(ctx, cfg, log, di.Options{
		WorkerPoolSize: 2,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}

	if err := container.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	log.Info().Int("port", cfg.Port).Msg("tradecore started")

	<-ctx.Done()
	stop()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := container.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}

	log.Info().Msg("tradecore stopped")
}
