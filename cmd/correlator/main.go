// filename: cmd/correlator/main.go
// NDRSec Correlator Service - Entry Point

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ndrsec/ndrsec/internal/adminapi/server"
	"github.com/ndrsec/ndrsec/internal/common/config"
	"github.com/ndrsec/ndrsec/internal/common/logging"
	"github.com/ndrsec/ndrsec/internal/correlator"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		panic(err)
	}
	logger.Info("Starting NDRSec Correlator Service")

	// Create correlator service
	service, err := correlator.NewService(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize correlator service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start service
	if err := service.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start correlator service")
	}

	// Start admin API server
	adminServer := server.NewServer(cfg.Server, service, logger, cfg.Logging.Level)
	go func() {
		if err := adminServer.Start(); err != nil {
			logger.WithError(err).Error("Admin API server error")
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("Shutting down Correlator Service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := adminServer.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Admin API shutdown failed")
	}
	service.Stop()
}
