// Package app wires configuration into a running trading service.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/api"
	"github.com/rovshanmuradov/spot-trading-bot/internal/bot"
	"github.com/rovshanmuradov/spot-trading-bot/internal/config"
	"github.com/rovshanmuradov/spot-trading-bot/internal/events"
	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange/binance"
	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange/paper"
	"github.com/rovshanmuradov/spot-trading-bot/internal/metrics"
	"github.com/rovshanmuradov/spot-trading-bot/internal/monitor"
	"github.com/rovshanmuradov/spot-trading-bot/internal/notify"
	"github.com/rovshanmuradov/spot-trading-bot/internal/state"
	"github.com/rovshanmuradov/spot-trading-bot/internal/storage"
	"github.com/rovshanmuradov/spot-trading-bot/internal/storage/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service owns every long-lived component of the bot.
type Service struct {
	cfg        *config.Config
	logger     *zap.Logger
	exchange   exchange.Exchange
	readiness  func(ctx context.Context) error
	store      *state.Store
	scheduler  *monitor.Scheduler
	eventBus   *events.Bus
	commandBus *bot.CommandBus
	trader     *bot.Orchestrator
	journal    storage.Journal
	metrics    *metrics.Collector
	api        *api.Server
	shutdown   *bot.ShutdownHandler
}

// New builds the service. Nothing is started until Start.
func New(cfg *config.Config, logger *zap.Logger) (_ *Service, status error) {
	logger = logger.Named("service")
	logger.Info("🚀 Initializing service", zap.String("exchange_mode", cfg.Exchange.Mode))

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		shutdown: bot.NewShutdownHandler(logger, 30*time.Second),
	}
	defer func() {
		if status != nil {
			_ = s.shutdown.Shutdown(context.Background())
		}
	}()

	thresholds, err := cfg.Thresholds()
	if err != nil {
		return nil, err
	}
	timing := cfg.Timing()

	s.metrics = metrics.NewCollector()
	raw, readiness := newExchange(cfg, logger)
	s.exchange = metrics.InstrumentExchange(raw, s.metrics)
	s.readiness = readiness

	s.store = state.NewStore(
		state.WithDayLength(timing.DayLength),
		state.WithDegradeThreshold(timing.FailureWarnThreshold),
	)

	if cfg.Storage.SQLitePath != "" {
		journal, err := sqlite.New(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		s.journal = journal
		// closes after the bus has drained into it
		s.shutdown.Add("journal", journal)
	}

	s.eventBus = events.NewBus(logger, 1024)
	s.shutdown.Add("event_bus", bot.CloseFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.eventBus.Shutdown(ctx)
	}))
	if s.journal != nil {
		storage.NewRecorder(s.journal, logger, 3).Attach(s.eventBus)
	}
	s.metrics.WatchBus(s.eventBus)

	var sender notify.Sender = notify.LogSender{Logger: logger.Named("notify")}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramSender(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			return nil, err
		}
		sender = tg
	}
	notify.New(sender, logger).Attach(s.eventBus)

	s.scheduler = monitor.NewScheduler(s.store, logger)
	s.shutdown.Add("monitors", s.scheduler)

	s.trader, err = bot.NewOrchestrator(bot.Config{
		Thresholds:      thresholds,
		Timing:          timing,
		DefaultRebuyPct: cfg.RebuyPct(),
		RequestTimeout:  cfg.Exchange.RequestTimeout,
	}, bot.Deps{
		Prices:      s.exchange,
		Orders:      s.exchange,
		Credentials: exchange.NewStaticCredentials(cfg.Credentials()),
		Balances:    s.exchange,
		Trending:    s.exchange,
		Store:       s.store,
		Scheduler:   s.scheduler,
		Events:      s.eventBus,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	s.commandBus = bot.NewCommandBus(logger)
	s.trader.RegisterCommands(s.commandBus)

	s.api = api.NewServer(cfg.API.Listen, s.commandBus, s.trader, s.journal, logger)
	s.api.Mount("/metrics", s.metrics.Handler())

	logger.Info("✅ Service initialized",
		zap.Int("users", len(cfg.Users)),
		zap.Strings("commands", s.commandBus.GetRegisteredHandlers()))
	return s, nil
}

func newExchange(cfg *config.Config, logger *zap.Logger) (exchange.Exchange, func(context.Context) error) {
	if cfg.Exchange.Mode == config.ModeBinance {
		client := binance.New(binance.Config{
			Quote:          cfg.Exchange.Quote,
			RequestsPerSec: cfg.Exchange.RequestsPerSec,
			Burst:          cfg.Exchange.Burst,
			RequestTimeout: cfg.Exchange.RequestTimeout,
			Testnet:        cfg.Exchange.Testnet,
		}, logger)
		return client, func(ctx context.Context) error {
			return client.WaitReady(ctx, cfg.Exchange.ReadyRetries)
		}
	}

	ex := paper.New(logger)
	balance, err := decimal.NewFromString(cfg.Exchange.PaperBalance)
	if err != nil {
		balance = decimal.Zero
	}
	for _, u := range cfg.Users {
		ex.SetBalance(u.ID, cfg.Exchange.Quote, balance)
	}
	for sym, raw := range cfg.Exchange.PaperPrices {
		if p, err := decimal.NewFromString(raw); err == nil {
			ex.SetPrice(strings.ToUpper(sym), p)
		}
	}
	if cfg.Exchange.PaperTrend != "" {
		ex.SetTrending(exchange.NormalizeSymbol(cfg.Exchange.PaperTrend))
	}
	return ex, func(context.Context) error { return nil }
}

// Start probes the exchange and begins serving HTTP.
func (s *Service) Start(ctx context.Context) error {
	if err := s.readiness(ctx); err != nil {
		return fmt.Errorf("exchange not ready: %w", err)
	}
	if err := s.api.Start(); err != nil {
		return fmt.Errorf("start api: %w", err)
	}
	s.shutdown.AddFunc("api", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.api.Shutdown(ctx)
	})
	s.logger.Info("✅ Service started", zap.String("listen", s.cfg.API.Listen))
	return nil
}

// Wait blocks until a termination signal or ctx ends, then shuts down.
func (s *Service) Wait(ctx context.Context) error {
	return s.shutdown.Wait(ctx)
}

// Shutdown stops everything in reverse start order.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.shutdown.Shutdown(ctx)
}

// Trader returns the orchestrator.
func (s *Service) Trader() *bot.Orchestrator { return s.trader }

// Commands returns the command bus.
func (s *Service) Commands() *bot.CommandBus { return s.commandBus }

// Prices returns the price feed in use.
func (s *Service) Prices() exchange.PriceFeed { return s.exchange }

// Events returns the event bus.
func (s *Service) Events() *events.Bus { return s.eventBus }

// Journal returns the trade journal, or nil when disabled.
func (s *Service) Journal() storage.Journal { return s.journal }
