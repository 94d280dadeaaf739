package main

import (
	"context"
	"flag"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rovshanmuradov/spot-trading-bot/internal/app"
	"github.com/rovshanmuradov/spot-trading-bot/internal/config"
	"github.com/rovshanmuradov/spot-trading-bot/internal/logger"
	"github.com/rovshanmuradov/spot-trading-bot/internal/ui"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (yaml or json)")
	refresh := flag.Duration("refresh", time.Second, "Dashboard refresh interval")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// the terminal belongs to the dashboard, logs go to the buffer and file
	logBuffer := logger.NewLogBuffer(500)
	appLogger, closeLog, err := logger.NewBuffered(cfg.Log, logBuffer)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(appLogger)
		_ = closeLog()
	}()

	ctx := context.Background()
	svc, err := app.New(cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to init service: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		_ = svc.Shutdown(ctx)
		log.Fatalf("Failed to start service: %v", err)
	}

	model := ui.New(ui.Options{
		Source:  svc.Trader(),
		Seller:  svc.Trader(),
		Prices:  svc.Prices(),
		Logs:    logBuffer,
		Refresh: *refresh,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		appLogger.Error("Dashboard error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Shutdown completed with errors", zap.Error(err))
	}
}
