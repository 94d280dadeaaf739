package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/events"
	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange/paper"
	"github.com/rovshanmuradov/spot-trading-bot/internal/monitor"
	"github.com/rovshanmuradov/spot-trading-bot/internal/state"
	"github.com/rovshanmuradov/spot-trading-bot/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fastTiming() strategy.Timing {
	return strategy.Timing{
		MonitorInterval:      10 * time.Millisecond,
		SkyrocketInterval:    10 * time.Millisecond,
		SkyrocketWindow:      80 * time.Millisecond,
		Cooldown:             20 * time.Millisecond,
		RebuyInterval:        10 * time.Millisecond,
		ReferenceReset:       time.Hour,
		FallbackAfter:        time.Hour,
		DayLength:            24 * time.Hour,
		FailureWarnThreshold: 3,
		FallbackAttempts:     3,
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Handle(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) OfType(typ events.EventType) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.events {
		if e.Type() == typ {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	ex        *paper.Exchange
	store     *state.Store
	scheduler *monitor.Scheduler
	bus       *events.Bus
	log       *eventLog
	orch      *Orchestrator
}

type harnessSettings struct {
	cfg       Config
	storeOpts []state.Option
	orders    func(exchange.OrderExecutor) exchange.OrderExecutor
}

type harnessOption func(*harnessSettings)

func withTiming(fn func(*strategy.Timing)) harnessOption {
	return func(s *harnessSettings) { fn(&s.cfg.Timing) }
}

func withClock(now func() time.Time) harnessOption {
	return func(s *harnessSettings) { s.storeOpts = append(s.storeOpts, state.WithClock(now)) }
}

// withGate routes orders through g.
func withGate(g *gatedOrders) harnessOption {
	return func(s *harnessSettings) {
		s.orders = func(next exchange.OrderExecutor) exchange.OrderExecutor {
			g.OrderExecutor = next
			return g
		}
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	settings := harnessSettings{cfg: DefaultConfig()}
	settings.cfg.Timing = fastTiming()
	settings.cfg.RequestTimeout = time.Second
	for _, opt := range opts {
		opt(&settings)
	}
	cfg := settings.cfg
	storeOpts := append(settings.storeOpts,
		state.WithDayLength(cfg.Timing.DayLength),
		state.WithDegradeThreshold(cfg.Timing.FailureWarnThreshold))

	ex := paper.New(logger)
	store := state.NewStore(storeOpts...)
	scheduler := monitor.NewScheduler(store, logger)
	bus := events.NewBus(logger, 1024)
	el := &eventLog{}
	bus.Subscribe(events.Any, el)

	creds := exchange.NewStaticCredentials([]exchange.Credentials{
		{UserID: "1", APIKey: "key-1", APISecret: "secret-1"},
		{UserID: "2", APIKey: "key-2", APISecret: "secret-2"},
	})

	var orders exchange.OrderExecutor = ex
	if settings.orders != nil {
		orders = settings.orders(ex)
	}

	orch, err := NewOrchestrator(cfg, Deps{
		Prices:      ex,
		Orders:      orders,
		Credentials: creds,
		Balances:    ex,
		Trending:    ex,
		Store:       store,
		Scheduler:   scheduler,
		Events:      bus,
		Logger:      logger,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = scheduler.Shutdown(ctx)
		_ = bus.Shutdown(ctx)
	})

	ex.SetBalance("1", "USDT", dec("1000"))
	ex.SetBalance("2", "USDT", dec("1000"))
	ex.SetPrice("BTC_USDT", dec("100"))

	return &harness{ex: ex, store: store, scheduler: scheduler, bus: bus, log: el, orch: orch}
}

func (h *harness) status(userID string) Status {
	return h.orch.GetStatus(context.Background(), userID)
}

func (h *harness) phase(userID, symbol string) string {
	m, ok := h.status(userID).Monitor(symbol)
	if !ok {
		return ""
	}
	return m.Phase
}

func (h *harness) sells(symbol string) int {
	n := 0
	for _, o := range h.ex.Orders() {
		if o.Symbol == symbol && o.Side == "SELL" {
			n++
		}
	}
	return n
}

// waitPolls waits until the symbol's price has been requested n more times.
func (h *harness) waitPolls(t *testing.T, symbol string, n int) {
	t.Helper()
	start := h.ex.PriceCalls(symbol)
	require.Eventually(t, func() bool { return h.ex.PriceCalls(symbol) >= start+n }, waitFor, tick)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// gatedOrders holds buys and/or sells until Release. A held order reports the
// error of its context after release, as a real transport would.
type gatedOrders struct {
	exchange.OrderExecutor
	holdBuys  atomic.Bool
	holdSells atomic.Bool
	entered   chan string
	release   chan struct{}
	once      sync.Once
}

func newGatedOrders(buys, sells bool) *gatedOrders {
	g := &gatedOrders{
		entered: make(chan string, 16),
		release: make(chan struct{}),
	}
	g.holdBuys.Store(buys)
	g.holdSells.Store(sells)
	return g
}

func (g *gatedOrders) Release() {
	g.once.Do(func() { close(g.release) })
}

// waitEntered waits until a held order of side is in flight.
func (g *gatedOrders) waitEntered(t *testing.T, side string) {
	t.Helper()
	select {
	case got := <-g.entered:
		require.Equal(t, side, got)
	case <-time.After(waitFor):
		t.Fatalf("no %s order reached the exchange", side)
	}
}

func (g *gatedOrders) hold(ctx context.Context, side string) error {
	g.entered <- side
	<-g.release
	return ctx.Err()
}

func (g *gatedOrders) MarketBuy(ctx context.Context, creds exchange.Credentials, symbol string, notional decimal.Decimal) (decimal.Decimal, error) {
	if g.holdBuys.Load() {
		if err := g.hold(ctx, "BUY"); err != nil {
			return decimal.Zero, err
		}
	}
	return g.OrderExecutor.MarketBuy(ctx, creds, symbol, notional)
}

func (g *gatedOrders) MarketSell(ctx context.Context, creds exchange.Credentials, symbol string, quantity decimal.Decimal) error {
	if g.holdSells.Load() {
		if err := g.hold(ctx, "SELL"); err != nil {
			return err
		}
	}
	return g.OrderExecutor.MarketSell(ctx, creds, symbol, quantity)
}

func (h *harness) buys(symbol string) int {
	n := 0
	for _, o := range h.ex.Orders() {
		if o.Symbol == symbol && o.Side == "BUY" {
			n++
		}
	}
	return n
}
