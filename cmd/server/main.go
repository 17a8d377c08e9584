// server runs the phone OTP auth HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"phone-otp-auth/backend/internal/config"
	"phone-otp-auth/backend/internal/logging"
	"phone-otp-auth/backend/internal/server"
	"phone-otp-auth/backend/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		zap.NewExample().Fatal("logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()
	restore := logging.Install(logger)
	defer restore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer app.close()

	go app.sweeper.Run(ctx)

	srv := server.New(cfg.HTTPAddr, app.router, logger)
	if err := srv.Run(ctx, shutdownTimeout); err != nil {
		logger.Error("http server", zap.Error(err))
	}

	// Let in-flight async event emits finish before the exporters shut down.
	time.Sleep(telemetry.ShutdownDrainDuration)
	logger.Info("server stopped")
}
