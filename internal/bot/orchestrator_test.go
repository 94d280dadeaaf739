package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/events"
	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/rovshanmuradov/spot-trading-bot/internal/state"
	"github.com/rovshanmuradov/spot-trading-bot/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartTradeStopLossScenario(t *testing.T) {
	h := newHarness(t, withTiming(func(tm *strategy.Timing) { tm.Cooldown = time.Hour }))
	ctx := context.Background()

	res, err := h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	require.NoError(t, err)
	assert.Equal(t, "BTC_USDT", res.Symbol)
	assert.True(t, res.Quantity.Equal(dec("1")), "quantity %s", res.Quantity)
	assert.True(t, res.EntryPrice.Equal(dec("100")))

	st := h.status("1")
	assert.Equal(t, []string{"BTC_USDT"}, st.ActiveMonitors)
	assert.True(t, st.ProfitTarget.Equal(dec("20")))

	h.ex.SetPrice("BTC_USDT", dec("99.5"))

	require.Eventually(t, func() bool {
		p, ok := h.status("1").Position("BTC_USDT")
		return ok && p.Sold
	}, waitFor, tick)
	require.Eventually(t, func() bool { return h.phase("1", "BTC_USDT") == "cooldown" }, waitFor, tick)

	st = h.status("1")
	p, _ := st.Position("BTC_USDT")
	assert.True(t, p.Quantity.IsZero())
	assert.True(t, st.AccumulatedProfit.Equal(dec("-0.5")), "accumulated %s", st.AccumulatedProfit)
	assert.Equal(t, 1, h.sells("BTC_USDT"))

	require.Eventually(t, func() bool { return len(h.log.OfType(events.PositionSold)) == 1 }, waitFor, tick)
	sold := h.log.OfType(events.PositionSold)[0].(events.PositionSoldEvent)
	assert.Equal(t, "sell_stop_loss", sold.Reason)
	assert.True(t, sold.Realized.Equal(dec("-0.5")))
}

func TestStartTradeValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name                    string
		user, symbol            string
		notional, rebuy, target string
	}{
		{"empty user", "", "BTC_USDT", "100", "20", "20"},
		{"bad symbol", "1", "BTCUSDT", "100", "20", "20"},
		{"zero notional", "1", "BTC_USDT", "0", "20", "20"},
		{"negative notional", "1", "BTC_USDT", "-5", "20", "20"},
		{"zero rebuy", "1", "BTC_USDT", "100", "0", "20"},
		{"rebuy over 100", "1", "BTC_USDT", "100", "100.1", "20"},
		{"zero target", "1", "BTC_USDT", "100", "20", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.StartTrade(ctx, tt.user, tt.symbol, dec(tt.notional), dec(tt.rebuy), dec(tt.target))
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	assert.Zero(t, h.ex.PriceCalls("BTC_USDT"))
	assert.Empty(t, h.ex.Orders())
	assert.Empty(t, h.orch.Users())
}

func TestStartTradeRebuyBoundary(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.StartTrade(context.Background(), "1", "BTC_USDT", dec("100"), dec("100"), dec("20"))
	assert.NoError(t, err)
}

func TestStartTradeInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	h.ex.SetBalance("1", "USDT", dec("50"))

	_, err := h.orch.StartTrade(context.Background(), "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Empty(t, h.ex.Orders())
	assert.Empty(t, h.status("1").Positions)
	assert.Empty(t, h.status("1").ActiveMonitors)
}

func TestStartTradeMissingCredentials(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.StartTrade(context.Background(), "3", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	assert.ErrorIs(t, err, exchange.ErrCredentialsMissing)
	assert.Empty(t, h.ex.Orders())
	assert.Empty(t, h.status("3").Positions)
}

func TestStartTradeExchangeRejection(t *testing.T) {
	h := newHarness(t)
	h.ex.FailBuy(exchange.NewError(exchange.ErrExchangeRejected, "buy", "BTC_USDT", errors.New("market closed")))

	_, err := h.orch.StartTrade(context.Background(), "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	assert.ErrorIs(t, err, exchange.ErrExchangeRejected)
	assert.Empty(t, h.status("1").Positions)
	assert.Empty(t, h.status("1").ActiveMonitors)
}

func TestSellNowWithoutPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.SellNow(ctx, "1", "BTC_USDT"))
	assert.True(t, h.orch.GetAccumulatedProfit(ctx, "1").IsZero())

	_, err := h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	require.NoError(t, err)
	require.NoError(t, h.orch.SellNow(ctx, "1", "ETH_USDT"))
	assert.True(t, h.orch.GetAccumulatedProfit(ctx, "1").IsZero())
	assert.Equal(t, 0, h.sells("ETH_USDT"))
}

func TestSellNowSellsAndStopsMonitor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	require.NoError(t, err)
	h.ex.SetPrice("BTC_USDT", dec("101"))

	require.NoError(t, h.orch.SellNow(ctx, "1", "BTC_USDT"))

	st := h.status("1")
	p, ok := st.Position("BTC_USDT")
	require.True(t, ok)
	assert.True(t, p.Sold)
	assert.True(t, st.AccumulatedProfit.Equal(dec("1")))
	assert.Empty(t, st.ActiveMonitors)
	assert.Equal(t, 1, h.sells("BTC_USDT"))

	// no rebuy after a manual sell
	h.ex.SetPrice("BTC_USDT", dec("105"))
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, h.status("1").ActiveMonitors)
	assert.Equal(t, 1, len(h.ex.Orders())-h.sells("BTC_USDT"))
}

func TestSellNowOrderFailureKeepsPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	require.NoError(t, err)
	h.ex.FailSell(exchange.NewError(exchange.ErrNetwork, "sell", "BTC_USDT", errors.New("timeout")))

	err = h.orch.SellNow(ctx, "1", "BTC_USDT")
	assert.ErrorIs(t, err, exchange.ErrNetwork)

	p, ok := h.status("1").Position("BTC_USDT")
	require.True(t, ok)
	assert.False(t, p.Sold)
	assert.False(t, p.Selling)

	require.NoError(t, h.orch.SellNow(ctx, "1", "BTC_USDT"))
	p, _ = h.status("1").Position("BTC_USDT")
	assert.True(t, p.Sold)
}

func TestStopTradeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ex.SetPrice("ETH_USDT", dec("2000"))

	_, err := h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	require.NoError(t, err)
	_, err = h.orch.BuyNow(ctx, "1", "ETH_USDT", dec("200"))
	require.NoError(t, err)

	require.NoError(t, h.orch.StopTrade(ctx, "1"))
	first := h.status("1")
	require.NoError(t, h.orch.StopTrade(ctx, "1"))
	second := h.status("1")

	assert.Equal(t, first.Positions, second.Positions)
	assert.Equal(t, first.ActiveMonitors, second.ActiveMonitors)
	assert.True(t, first.AccumulatedProfit.Equal(second.AccumulatedProfit))
	assert.Empty(t, second.ActiveMonitors)
	assert.True(t, second.AccumulatedProfit.IsZero())
	require.Len(t, second.Positions, 2)
	for _, p := range second.Positions {
		assert.True(t, p.Sold)
		assert.True(t, p.Quantity.IsZero())
	}

	require.Eventually(t, func() bool { return len(h.log.OfType(events.PositionClosed)) == 2 }, waitFor, tick)
	closed := h.log.OfType(events.PositionClosed)[0].(events.PositionClosedEvent)
	assert.Equal(t, "stopped", closed.Reason)
	assert.True(t, closed.Quantity.IsPositive())

	// cancellation wins: nothing is sold after stop
	h.ex.SetPrice("BTC_USDT", dec("90"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, h.sells("BTC_USDT"))
	assert.Len(t, h.log.OfType(events.PositionClosed), 2, "a second stop closes nothing")
}

func TestStopTradeUnknownUser(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.StopTrade(context.Background(), "nobody"))
	assert.ErrorIs(t, h.orch.StopTrade(context.Background(), ""), ErrInvalidArgument)
}

func TestAtMostOneMonitorPerSymbol(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.orch.BuyNow(ctx, "1", "BTC_USDT", dec("10"))
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"BTC_USDT"}, h.scheduler.Active("1"))

	st := h.status("1")
	require.Len(t, st.Positions, 1)
	p := st.Positions[0]
	assert.True(t, p.Quantity.Equal(dec("1.5")), "quantity %s", p.Quantity)
	assert.True(t, p.RebuyPercentage.Equal(dec("20")))

	_, err = h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	require.NoError(t, err)
	assert.Len(t, h.scheduler.Active("1"), 1)
}

func TestBuyNowKeepsProfitDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("100"), dec("30"), dec("20"))
	require.NoError(t, err)
	h.ex.SetPrice("BTC_USDT", dec("101"))
	require.NoError(t, h.orch.SellNow(ctx, "1", "BTC_USDT"))
	require.True(t, h.orch.GetAccumulatedProfit(ctx, "1").Equal(dec("1")))

	res, err := h.orch.BuyNow(ctx, "1", "BTC_USDT", dec("101"))
	require.NoError(t, err)
	assert.True(t, res.Quantity.Equal(dec("1")))

	assert.True(t, h.orch.GetAccumulatedProfit(ctx, "1").Equal(dec("1")))
	assert.True(t, h.orch.GetProfitTarget(ctx, "1").Equal(dec("20")))
	p, _ := h.status("1").Position("BTC_USDT")
	assert.False(t, p.Sold)
	assert.True(t, p.RebuyPercentage.Equal(dec("30")))
	assert.Equal(t, []string{"BTC_USDT"}, h.status("1").ActiveMonitors)
}

func TestBuyNowDefaultsRebuyPercentage(t *testing.T) {
	h := newHarness(t)
	h.ex.SetPrice("ETH_USDT", dec("2000"))

	_, err := h.orch.BuyNow(context.Background(), "1", "ETH_USDT", dec("200"))
	require.NoError(t, err)

	p, ok := h.status("1").Position("ETH_USDT")
	require.True(t, ok)
	assert.True(t, p.RebuyPercentage.Equal(dec("20")))
	assert.True(t, p.Quantity.Equal(dec("0.1")))
}

func TestUsersAreIndependent(t *testing.T) {
	h := newHarness(t, withTiming(func(tm *strategy.Timing) { tm.Cooldown = time.Hour }))
	ctx := context.Background()

	_, err := h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	require.NoError(t, err)
	_, err = h.orch.StartTrade(ctx, "2", "BTC_USDT", dec("100"), dec("20"), dec("50"))
	require.NoError(t, err)

	require.NoError(t, h.orch.StopTrade(ctx, "1"))

	assert.Empty(t, h.status("1").ActiveMonitors)
	assert.Equal(t, []string{"BTC_USDT"}, h.status("2").ActiveMonitors)
	assert.True(t, h.orch.GetProfitTarget(ctx, "2").Equal(dec("50")))
	assert.Equal(t, []string{"1", "2"}, h.orch.Users())
}

func TestGetStatusUnknownUser(t *testing.T) {
	h := newHarness(t)
	st := h.status("ghost")
	assert.Equal(t, "ghost", st.UserID)
	assert.Empty(t, st.Positions)
	assert.Empty(t, st.ActiveMonitors)
	assert.True(t, st.AccumulatedProfit.IsZero())
}

func TestNewOrchestratorRejectsBadConfig(t *testing.T) {
	h := newHarness(t)
	cfg := DefaultConfig()
	cfg.Timing.MonitorInterval = 0
	_, err := NewOrchestrator(cfg, Deps{Prices: h.ex})
	assert.Error(t, err)

	_, err = NewOrchestrator(DefaultConfig(), Deps{Prices: h.ex})
	assert.Error(t, err)
}

func TestStaleSellDoesNotSettleNewTrade(t *testing.T) {
	g := newGatedOrders(false, true)
	defer g.Release()
	h := newHarness(t, withGate(g), withTiming(func(tm *strategy.Timing) { tm.Cooldown = time.Hour }))
	ctx := context.Background()

	_, err := h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	require.NoError(t, err)
	h.ex.SetPrice("BTC_USDT", dec("99.5"))
	g.waitEntered(t, "SELL")

	// stop and start again while the stop-loss order is still out
	require.NoError(t, h.orch.StopTrade(ctx, "1"))
	h.ex.SetPrice("BTC_USDT", dec("100"))
	_, err = h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("200"), dec("20"), dec("20"))
	require.NoError(t, err)

	g.Release()
	require.Eventually(t, func() bool { return len(h.log.OfType(events.MonitorStopped)) == 1 }, waitFor, tick)
	assert.Equal(t, 1, h.sells("BTC_USDT"))

	st := h.status("1")
	p, ok := st.Position("BTC_USDT")
	require.True(t, ok)
	assert.False(t, p.Sold)
	assert.False(t, p.Selling)
	assert.True(t, p.Quantity.Equal(dec("2")), "quantity %s", p.Quantity)
	assert.True(t, st.AccumulatedProfit.IsZero(), "accumulated %s", st.AccumulatedProfit)
	assert.Equal(t, []string{"BTC_USDT"}, st.ActiveMonitors)
	assert.True(t, h.ex.Balance("1", "BTC").Equal(p.Quantity))
	assert.Empty(t, h.log.OfType(events.PositionSold))
}

func TestBuyRefusedWhileSellInFlight(t *testing.T) {
	g := newGatedOrders(false, true)
	defer g.Release()
	h := newHarness(t, withGate(g), withTiming(func(tm *strategy.Timing) { tm.Cooldown = time.Hour }))
	ctx := context.Background()

	_, err := h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	require.NoError(t, err)
	h.ex.SetPrice("BTC_USDT", dec("99.5"))
	g.waitEntered(t, "SELL")

	_, err = h.orch.BuyNow(ctx, "1", "BTC_USDT", dec("50"))
	assert.ErrorIs(t, err, state.ErrSellInProgress)
	assert.Equal(t, 1, h.buys("BTC_USDT"), "no order may reach the exchange")

	g.Release()
	require.Eventually(t, func() bool {
		p, ok := h.status("1").Position("BTC_USDT")
		return ok && p.Sold
	}, waitFor, tick)

	_, err = h.orch.BuyNow(ctx, "1", "BTC_USDT", dec("50"))
	require.NoError(t, err)
	assert.Equal(t, 2, h.buys("BTC_USDT"))
	p, _ := h.status("1").Position("BTC_USDT")
	assert.True(t, p.Quantity.Equal(h.ex.Balance("1", "BTC")))
}

func TestSellWaitsForBuyInFlight(t *testing.T) {
	g := newGatedOrders(false, false)
	defer g.Release()
	h := newHarness(t, withGate(g))
	ctx := context.Background()

	_, err := h.orch.StartTrade(ctx, "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	require.NoError(t, err)

	g.holdBuys.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := h.orch.BuyNow(ctx, "1", "BTC_USDT", dec("100"))
		done <- err
	}()
	g.waitEntered(t, "BUY")

	// stop-loss territory, but the symbol is reserved by the buy
	h.ex.SetPrice("BTC_USDT", dec("99.5"))
	h.waitPolls(t, "BTC_USDT", 3)
	assert.Equal(t, 0, h.sells("BTC_USDT"))

	g.Release()
	require.NoError(t, <-done)
	assert.Equal(t, 2, h.buys("BTC_USDT"))

	// the stop-loss then sells everything, including the reserved fill
	require.Eventually(t, func() bool {
		p, ok := h.status("1").Position("BTC_USDT")
		return ok && p.Sold
	}, waitFor, tick)
	assert.Equal(t, 1, h.sells("BTC_USDT"))
	assert.True(t, h.ex.Balance("1", "BTC").IsZero(), "left on exchange: %s", h.ex.Balance("1", "BTC"))
}

func TestBuyNowSurvivesCallerCancel(t *testing.T) {
	g := newGatedOrders(true, false)
	defer g.Release()
	h := newHarness(t, withGate(g))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	type result struct {
		res TradeResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := h.orch.BuyNow(ctx, "1", "BTC_USDT", dec("50"))
		done <- result{res, err}
	}()
	g.waitEntered(t, "BUY")
	cancel()
	g.Release()

	r := <-done
	require.NoError(t, r.err)
	assert.True(t, r.res.Quantity.Equal(dec("0.5")))

	st := h.status("1")
	p, ok := st.Position("BTC_USDT")
	require.True(t, ok)
	assert.True(t, p.Quantity.Equal(dec("0.5")))
	assert.Equal(t, []string{"BTC_USDT"}, st.ActiveMonitors)
}

func TestSellNowSurvivesCallerCancel(t *testing.T) {
	g := newGatedOrders(false, false)
	defer g.Release()
	h := newHarness(t, withGate(g))

	_, err := h.orch.StartTrade(context.Background(), "1", "BTC_USDT", dec("100"), dec("20"), dec("20"))
	require.NoError(t, err)

	g.holdSells.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.orch.SellNow(ctx, "1", "BTC_USDT") }()
	g.waitEntered(t, "SELL")
	cancel()
	g.Release()

	require.NoError(t, <-done)
	p, ok := h.status("1").Position("BTC_USDT")
	require.True(t, ok)
	assert.True(t, p.Sold)
	assert.False(t, p.Selling)
	assert.Equal(t, 1, h.sells("BTC_USDT"))
	assert.True(t, h.ex.Balance("1", "BTC").IsZero())
}
