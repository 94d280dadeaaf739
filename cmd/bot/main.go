// ====================================
// File: cmd/bot/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/rovshanmuradov/spot-trading-bot/internal/app"
	"github.com/rovshanmuradov/spot-trading-bot/internal/config"
	"github.com/rovshanmuradov/spot-trading-bot/internal/logger"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (yaml or json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("💥 Bot stopped with error", zap.Error(err))
		_ = logger.Sync(appLogger)
		_ = closeLog()
		os.Exit(1)
	}

	appLogger.Info("👋 Bot shut down gracefully")
	_ = logger.Sync(appLogger)
	_ = closeLog()
}

func run(cfg *config.Config, appLogger *zap.Logger) error {
	ctx := context.Background()

	svc, err := app.New(cfg, appLogger)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		_ = svc.Shutdown(ctx)
		return err
	}
	return svc.Wait(ctx)
}
