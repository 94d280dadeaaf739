// internal/bot/orchestrator.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/events"
	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/rovshanmuradov/spot-trading-bot/internal/monitor"
	"github.com/rovshanmuradov/spot-trading-bot/internal/state"
	"github.com/rovshanmuradov/spot-trading-bot/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config tunes the orchestrator.
type Config struct {
	Thresholds      strategy.Thresholds
	Timing          strategy.Timing
	DefaultRebuyPct decimal.Decimal // used by BuyNow when the symbol has none
	RequestTimeout  time.Duration   // per exchange call made by monitors
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		Thresholds:      strategy.DefaultThresholds(),
		Timing:          strategy.DefaultTiming(),
		DefaultRebuyPct: decimal.NewFromInt(20),
		RequestTimeout:  10 * time.Second,
	}
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Prices      exchange.PriceFeed
	Orders      exchange.OrderExecutor
	Credentials exchange.CredentialProvider
	Balances    exchange.BalanceProvider
	Trending    exchange.TrendingSymbolProvider
	Store       *state.Store
	Scheduler   *monitor.Scheduler
	Events      events.Publisher // optional
	Logger      *zap.Logger
}

// TradeResult describes a completed buy.
type TradeResult struct {
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Notional   decimal.Decimal `json:"notional"`
}

// Orchestrator implements the public trading operations and owns the monitor
// loops they start.
type Orchestrator struct {
	cfg       Config
	engine    *strategy.Engine
	prices    exchange.PriceFeed
	orders    exchange.OrderExecutor
	creds     exchange.CredentialProvider
	balances  exchange.BalanceProvider
	trending  exchange.TrendingSymbolProvider
	store     *state.Store
	scheduler *monitor.Scheduler
	events    events.Publisher
	logger    *zap.Logger
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if err := cfg.Timing.Validate(); err != nil {
		return nil, fmt.Errorf("invalid timing: %w", err)
	}
	if err := validateRebuyPct(cfg.DefaultRebuyPct); err != nil {
		return nil, fmt.Errorf("invalid default rebuy percentage: %w", err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if deps.Prices == nil || deps.Orders == nil || deps.Credentials == nil ||
		deps.Balances == nil || deps.Trending == nil || deps.Store == nil || deps.Scheduler == nil {
		return nil, errors.New("orchestrator: missing dependency")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		cfg:       cfg,
		engine:    strategy.NewEngine(cfg.Thresholds),
		prices:    deps.Prices,
		orders:    deps.Orders,
		creds:     deps.Credentials,
		balances:  deps.Balances,
		trending:  deps.Trending,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		events:    deps.Events,
		logger:    logger.Named("orchestrator"),
	}, nil
}

// StartTrade buys notional worth of symbol, sets the day's profit target and
// starts monitoring the position.
func (o *Orchestrator) StartTrade(ctx context.Context, userID, symbol string, notional, rebuyPct, profitTarget decimal.Decimal) (TradeResult, error) {
	symbol = exchange.NormalizeSymbol(symbol)
	if err := firstErr(
		validateUser(userID),
		validateSymbol(symbol),
		validateNotional(notional),
		validateRebuyPct(rebuyPct),
		validateProfitTarget(profitTarget),
	); err != nil {
		return TradeResult{}, err
	}

	log := o.logger.With(zap.String("user_id", userID), zap.String("symbol", symbol))
	log.Info("🚀 Starting trade",
		zap.String("notional", notional.String()),
		zap.String("rebuy_pct", rebuyPct.String()),
		zap.String("profit_target", profitTarget.String()))

	fill, err := o.acquire(ctx, acquireRequest{
		userID:   userID,
		symbol:   symbol,
		notional: notional,
		rebuyPct: rebuyPct,
		source:   "start",
	})
	if err != nil {
		log.Error("Start trade failed", zap.Error(err))
		return TradeResult{}, err
	}

	o.store.ConfigureTrade(userID, profitTarget)
	if err := o.startMonitor(userID, symbol); err != nil {
		return TradeResult{}, err
	}

	return fill.result(), nil
}

// BuyNow buys notional worth of symbol without touching the profit target or
// the accumulated profit.
func (o *Orchestrator) BuyNow(ctx context.Context, userID, symbol string, notional decimal.Decimal) (TradeResult, error) {
	symbol = exchange.NormalizeSymbol(symbol)
	if err := firstErr(
		validateUser(userID),
		validateSymbol(symbol),
		validateNotional(notional),
	); err != nil {
		return TradeResult{}, err
	}

	rebuyPct, ok := o.store.RebuyPercentage(userID, symbol)
	if !ok {
		rebuyPct = o.cfg.DefaultRebuyPct
	}

	fill, err := o.acquire(ctx, acquireRequest{
		userID:   userID,
		symbol:   symbol,
		notional: notional,
		rebuyPct: rebuyPct,
		source:   "buy_now",
	})
	if err != nil {
		o.logger.Error("Buy now failed",
			zap.String("user_id", userID),
			zap.String("symbol", symbol),
			zap.Error(err))
		return TradeResult{}, err
	}

	if err := o.startMonitor(userID, symbol); err != nil {
		return TradeResult{}, err
	}
	return fill.result(), nil
}

// SellNow cancels the symbol's monitor and sells the full recorded quantity.
// Selling a symbol with no open position is a no-op.
func (o *Orchestrator) SellNow(ctx context.Context, userID, symbol string) error {
	symbol = exchange.NormalizeSymbol(symbol)
	if err := firstErr(validateUser(userID), validateSymbol(symbol)); err != nil {
		return err
	}
	log := o.logger.With(zap.String("user_id", userID), zap.String("symbol", symbol))

	if o.scheduler.Cancel(userID, symbol) {
		log.Debug("Monitor cancelled for manual sell")
	}

	claim, err := o.store.BeginSell(userID, symbol, nil)
	switch {
	case errors.Is(err, state.ErrNoOpenPosition), errors.Is(err, state.ErrSellInProgress):
		log.Warn("Nothing to sell", zap.Error(err))
		return nil
	case err != nil:
		return err
	}

	// from here on the sale must settle even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	creds, err := o.creds.GetCredentials(ctx, userID)
	if err != nil {
		o.store.AbortSell(claim)
		return fmt.Errorf("get credentials: %w", err)
	}

	priceCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	price, err := o.prices.GetLastPrice(priceCtx, symbol)
	cancel()
	if err != nil {
		log.Warn("Price unavailable, sale will book no profit", zap.Error(err))
		price = decimal.Zero
	}

	orderCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	if err := o.orders.MarketSell(orderCtx, creds, symbol, claim.Position.Quantity); err != nil {
		o.store.AbortSell(claim)
		log.Error("Manual sell failed", zap.Error(err))
		return fmt.Errorf("sell %s: %w", symbol, err)
	}

	sale, err := o.store.CompleteSell(claim, price)
	if err != nil {
		log.Warn("Position was closed while selling",
			zap.String("qty", claim.Position.Quantity.String()),
			zap.Error(err))
		return nil
	}
	o.publishSale(userID, symbol, sale, "manual")

	log.Info("💰 Position sold manually",
		zap.String("qty", sale.Position.Quantity.String()),
		zap.String("price", price.String()),
		zap.String("realized", sale.Realized.String()))
	return nil
}

// StopTrade cancels every monitor and rebuy watch of the user, marks all
// positions sold and restarts the profit day. It places no orders.
func (o *Orchestrator) StopTrade(ctx context.Context, userID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	cancelled := o.scheduler.CancelAll(userID)
	for _, p := range o.store.Reset(userID) {
		o.publish(events.PositionClosedEvent{
			BaseEvent:  events.NewBase(events.PositionClosed, userID, p.Symbol, o.store.Now()),
			Quantity:   p.Quantity,
			EntryPrice: p.EntryPrice,
			Reason:     "stopped",
		})
	}

	o.logger.Info("🛑 Trading stopped",
		zap.String("user_id", userID),
		zap.Int("monitors_cancelled", cancelled))
	return nil
}

// GetAccumulatedProfit returns profit realized since the day start.
func (o *Orchestrator) GetAccumulatedProfit(ctx context.Context, userID string) decimal.Decimal {
	return o.store.AccumulatedProfit(userID)
}

// GetProfitTarget returns the user's daily profit target.
func (o *Orchestrator) GetProfitTarget(ctx context.Context, userID string) decimal.Decimal {
	return o.store.ProfitTarget(userID)
}

// Users lists every user the orchestrator has seen.
func (o *Orchestrator) Users() []string {
	return o.store.Users()
}

// acquireRequest describes a buy. A zero notional spends rebuyPct percent of
// the free quote balance. When guard is set the buy is abandoned unless guard
// is still the registered monitor of its symbol.
type acquireRequest struct {
	userID   string
	symbol   string
	notional decimal.Decimal
	rebuyPct decimal.Decimal
	owner    state.MonitorHandle
	guard    *monitor.Task
	source   string
}

type fill struct {
	position state.Position
	filled   decimal.Decimal
	price    decimal.Decimal
	notional decimal.Decimal
}

func (f fill) result() TradeResult {
	return TradeResult{
		Symbol:     f.position.Symbol,
		Quantity:   f.filled,
		EntryPrice: f.price,
		Notional:   f.notional,
	}
}

// acquire runs the shared buy path: credentials, balance and price are looked
// up concurrently, the balance is checked locally, then the order is placed and
// the position recorded.
func (o *Orchestrator) acquire(ctx context.Context, req acquireRequest) (fill, error) {
	quote := exchange.QuoteCurrency(req.symbol)

	var (
		creds   exchange.Credentials
		balance decimal.Decimal
		price   decimal.Decimal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := o.creds.GetCredentials(gctx, req.userID)
		if err != nil {
			return fmt.Errorf("get credentials: %w", err)
		}
		b, err := o.balances.GetAvailableBalance(gctx, c, quote)
		if err != nil {
			return fmt.Errorf("get %s balance: %w", quote, err)
		}
		creds, balance = c, b
		return nil
	})
	g.Go(func() error {
		p, err := o.prices.GetLastPrice(gctx, req.symbol)
		if err != nil {
			return fmt.Errorf("get price: %w", err)
		}
		price = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return fill{}, err
	}

	notional := req.notional
	if notional.IsZero() {
		notional = balance.Mul(req.rebuyPct).Div(hundred)
		if !notional.IsPositive() {
			return fill{}, fmt.Errorf("%w: no %s to redeploy", ErrInsufficientBalance, quote)
		}
	}
	if notional.GreaterThan(balance) {
		return fill{}, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBalance, notional, quote, balance)
	}

	if req.guard != nil {
		if req.guard.Cancelled() || !o.store.IsCurrent(req.userID, req.guard.Symbol, req.guard) {
			return fill{}, state.ErrStaleMonitor
		}
	} else if err := ctx.Err(); err != nil {
		return fill{}, err
	}

	// the reservation keeps sells of the symbol off until the fill is recorded
	if err := o.store.BeginBuy(req.userID, req.symbol, req.owner); err != nil {
		return fill{}, fmt.Errorf("buy %s: %w", req.symbol, err)
	}
	defer o.store.EndBuy(req.userID, req.symbol)

	// once submitted the order runs to completion
	orderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RequestTimeout)
	defer cancel()
	filled, err := o.orders.MarketBuy(orderCtx, creds, req.symbol, notional)
	if err != nil {
		return fill{}, fmt.Errorf("market buy %s: %w", req.symbol, err)
	}
	if !filled.IsPositive() {
		filled = notional.Div(price)
	}

	pos, err := o.store.OpenPosition(req.userID, req.symbol, price, filled, req.rebuyPct, req.owner)
	if err != nil {
		// only a monitor superseded while its order was out gets here
		o.logger.Error("Order filled but position not recorded",
			zap.String("user_id", req.userID),
			zap.String("symbol", req.symbol),
			zap.String("filled", filled.String()),
			zap.String("price", price.String()),
			zap.Error(err))
		return fill{}, fmt.Errorf("record position: %w", err)
	}

	o.publish(events.PositionOpenedEvent{
		BaseEvent:       events.NewBase(events.PositionOpened, req.userID, req.symbol, o.store.Now()),
		Price:           price,
		EntryPrice:      pos.EntryPrice,
		Quantity:        pos.Quantity,
		Filled:          filled,
		Notional:        notional,
		RebuyPercentage: pos.RebuyPercentage,
		EntryTime:       pos.EntryTime,
		Source:          req.source,
	})

	o.logger.Info("🟢 Position opened",
		zap.String("user_id", req.userID),
		zap.String("symbol", req.symbol),
		zap.String("source", req.source),
		zap.String("filled", filled.String()),
		zap.String("price", price.String()),
		zap.String("notional", notional.String()))

	return fill{position: pos, filled: filled, price: price, notional: notional}, nil
}

func (o *Orchestrator) startMonitor(userID, symbol string) error {
	if _, err := o.scheduler.Start(userID, symbol, o.monitorTask(userID, symbol)); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	return nil
}

func (o *Orchestrator) publish(e events.Event) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(e); err != nil {
		o.logger.Debug("Event not published",
			zap.String("event_type", string(e.Type())),
			zap.Error(err))
	}
}

func (o *Orchestrator) publishSale(userID, symbol string, sale state.Sale, reason string) {
	o.publish(events.PositionSoldEvent{
		BaseEvent:  events.NewBase(events.PositionSold, userID, symbol, o.store.Now()),
		Price:      sale.Price,
		Quantity:   sale.Position.Quantity,
		EntryPrice: sale.Position.EntryPrice,
		Realized:   sale.Realized,
		Reason:     reason,
	})
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
