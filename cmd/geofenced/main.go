// Command geofenced serves the geofence API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mycobrun/geofence-service/bootstrap"
	"github.com/mycobrun/geofence-service/config"
	"github.com/mycobrun/geofence-service/logging"
)

const serviceName = "geofenced"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		logging.NewLogger("info").WithError(err).Fatal("failed to load configuration")
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Initialize(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize service")
	}
	logger.Info("service initialized",
		"environment", cfg.Environment,
		"version", cfg.Version,
		"backend", cfg.StoreBackend,
		"base_path", cfg.BasePath,
	)

	runErr := svc.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Close(closeCtx); err != nil {
		logger.WithError(err).Warn("shutdown incomplete")
	}

	if runErr != nil {
		logger.WithError(runErr).Error("server stopped")
		os.Exit(1)
	}
	logger.Info("server stopped")
}
