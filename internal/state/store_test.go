package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{ cancelled bool }

func (h *fakeHandle) Cancel() { h.cancelled = true }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(dur)
}

func newTestStore() (*Store, *clock) {
	c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewStore(WithClock(c.Now), WithDayLength(24*time.Hour)), c
}

func TestOpenPositionMergesOpen(t *testing.T) {
	s, _ := newTestStore()

	_, err := s.OpenPosition("1", "BTC_USDT", d("100"), d("1"), d("20"), nil)
	require.NoError(t, err)
	p, err := s.OpenPosition("1", "BTC_USDT", d("110"), d("1"), decimal.Zero, nil)
	require.NoError(t, err)

	assert.True(t, p.Quantity.Equal(d("2")))
	assert.True(t, p.EntryPrice.Equal(d("105")))
	assert.True(t, p.RebuyPercentage.Equal(d("20")))

	snap := s.Snapshot("1")
	require.Len(t, snap.Positions, 1)
}

func TestSellThenRebuyReplacesRecord(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.OpenPosition("1", "BTC_USDT", d("100"), d("1"), d("20"), nil)
	require.NoError(t, err)

	claim, err := s.BeginSell("1", "BTC_USDT", nil)
	require.NoError(t, err)
	sale, err := s.CompleteSell(claim, d("102"))
	require.NoError(t, err)
	assert.True(t, sale.Realized.Equal(d("2")))
	assert.True(t, s.AccumulatedProfit("1").Equal(d("2")))

	sold, ok := s.Position("1", "BTC_USDT")
	require.True(t, ok)
	assert.True(t, sold.Sold)
	assert.True(t, sold.Quantity.IsZero())

	fresh, err := s.OpenPosition("1", "BTC_USDT", d("101"), d("0.5"), d("20"), nil)
	require.NoError(t, err)
	assert.False(t, fresh.Sold)
	assert.True(t, fresh.EntryPrice.Equal(d("101")))
	assert.True(t, fresh.Quantity.Equal(d("0.5")))

	// the old record stays sold
	assert.True(t, sold.Sold)
	require.Len(t, s.Snapshot("1").Positions, 1)
}

func TestSellClaimIsExclusive(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.OpenPosition("1", "ETH_USDT", d("2000"), d("1"), d("10"), nil)
	require.NoError(t, err)

	claim, err := s.BeginSell("1", "ETH_USDT", nil)
	require.NoError(t, err)
	_, err = s.BeginSell("1", "ETH_USDT", nil)
	assert.ErrorIs(t, err, ErrSellInProgress)

	_, err = s.OpenPosition("1", "ETH_USDT", d("2000"), d("1"), d("10"), nil)
	assert.ErrorIs(t, err, ErrSellInProgress)
	assert.ErrorIs(t, s.BeginBuy("1", "ETH_USDT", nil), ErrSellInProgress)

	s.AbortSell(claim)
	_, err = s.BeginSell("1", "ETH_USDT", nil)
	assert.NoError(t, err)
}

func TestBeginSellWithoutPosition(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.BeginSell("nobody", "BTC_USDT", nil)
	assert.ErrorIs(t, err, ErrNoOpenPosition)

	s.ConfigureTrade("1", d("20"))
	_, err = s.BeginSell("1", "BTC_USDT", nil)
	assert.ErrorIs(t, err, ErrNoOpenPosition)
}

func TestStaleMonitorRejected(t *testing.T) {
	s, _ := newTestStore()
	old, cur := &fakeHandle{}, &fakeHandle{}

	assert.Nil(t, s.Swap("1", "BTC_USDT", old))
	replaced := s.Swap("1", "BTC_USDT", cur)
	assert.Same(t, old, replaced)

	_, err := s.OpenPosition("1", "BTC_USDT", d("100"), d("1"), d("20"), old)
	assert.ErrorIs(t, err, ErrStaleMonitor)
	_, err = s.OpenPosition("1", "BTC_USDT", d("100"), d("1"), d("20"), cur)
	require.NoError(t, err)

	_, err = s.BeginSell("1", "BTC_USDT", old)
	assert.ErrorIs(t, err, ErrStaleMonitor)

	assert.False(t, s.IsCurrent("1", "BTC_USDT", old))
	assert.True(t, s.IsCurrent("1", "BTC_USDT", cur))
	assert.False(t, s.Release("1", "BTC_USDT", old))
	assert.Equal(t, -1, s.RecordFailure("1", "BTC_USDT", old))
	assert.True(t, s.Release("1", "BTC_USDT", cur))
	assert.Empty(t, s.Monitored("1"))
}

func TestDayRollover(t *testing.T) {
	s, c := newTestStore()
	s.ConfigureTrade("1", d("20"))
	_, err := s.OpenPosition("1", "BTC_USDT", d("100"), d("1"), d("20"), nil)
	require.NoError(t, err)
	claim, err := s.BeginSell("1", "BTC_USDT", nil)
	require.NoError(t, err)
	_, err = s.CompleteSell(claim, d("105"))
	require.NoError(t, err)

	c.Advance(23 * time.Hour)
	assert.False(t, s.RollDay("1"))
	assert.True(t, s.AccumulatedProfit("1").Equal(d("5")))

	c.Advance(time.Hour)
	assert.True(t, s.RollDay("1"))
	assert.True(t, s.AccumulatedProfit("1").IsZero())
	assert.Equal(t, c.Now(), s.Snapshot("1").DayStart)
	assert.True(t, s.ProfitTarget("1").Equal(d("20")))
}

func TestResetIsIdempotent(t *testing.T) {
	s, _ := newTestStore()
	s.ConfigureTrade("1", d("20"))
	for _, sym := range []string{"BTC_USDT", "ETH_USDT"} {
		_, err := s.OpenPosition("1", sym, d("100"), d("1"), d("20"), nil)
		require.NoError(t, err)
	}
	claim, err := s.BeginSell("1", "BTC_USDT", nil)
	require.NoError(t, err)

	closed := s.Reset("1")
	require.Len(t, closed, 2)
	assert.Equal(t, "BTC_USDT", closed[0].Symbol)
	assert.True(t, closed[0].Quantity.Equal(d("1")))

	first := s.Snapshot("1")
	assert.Empty(t, s.Reset("1"))
	second := s.Snapshot("1")

	assert.Equal(t, first, second)
	for _, p := range second.Positions {
		assert.True(t, p.Sold)
		assert.True(t, p.Quantity.IsZero())
	}
	assert.True(t, second.AccumulatedProfit.IsZero())
	assert.True(t, s.ProfitTarget("1").Equal(d("20")))

	_, err = s.CompleteSell(claim, d("150"))
	assert.ErrorIs(t, err, ErrClaimLost)
	assert.True(t, s.AccumulatedProfit("1").IsZero())
}

func TestStaleClaimCannotSettleNewAcquisition(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.OpenPosition("1", "BTC_USDT", d("100"), d("2"), d("20"), nil)
	require.NoError(t, err)
	claim, err := s.BeginSell("1", "BTC_USDT", nil)
	require.NoError(t, err)

	// stop, then a fresh trade while the old sell order is still out
	s.Reset("1")
	_, err = s.OpenPosition("1", "BTC_USDT", d("100"), d("2"), d("20"), nil)
	require.NoError(t, err)

	_, err = s.CompleteSell(claim, d("99.5"))
	assert.ErrorIs(t, err, ErrClaimLost)
	s.AbortSell(claim)

	p, ok := s.Position("1", "BTC_USDT")
	require.True(t, ok)
	assert.False(t, p.Sold)
	assert.False(t, p.Selling)
	assert.True(t, p.Quantity.Equal(d("2")))
	assert.True(t, s.AccumulatedProfit("1").IsZero())

	// the new acquisition can still be claimed and sold
	fresh, err := s.BeginSell("1", "BTC_USDT", nil)
	require.NoError(t, err)
	_, err = s.CompleteSell(fresh, d("101"))
	require.NoError(t, err)
	assert.True(t, s.AccumulatedProfit("1").Equal(d("2")))
}

func TestBuyReservationBlocksSellClaim(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.OpenPosition("1", "BTC_USDT", d("100"), d("1"), d("20"), nil)
	require.NoError(t, err)

	require.NoError(t, s.BeginBuy("1", "BTC_USDT", nil))
	require.NoError(t, s.BeginBuy("1", "BTC_USDT", nil))
	_, err = s.BeginSell("1", "BTC_USDT", nil)
	assert.ErrorIs(t, err, ErrBuyInProgress)

	_, err = s.OpenPosition("1", "BTC_USDT", d("110"), d("1"), d("20"), nil)
	require.NoError(t, err)
	s.EndBuy("1", "BTC_USDT")
	_, err = s.BeginSell("1", "BTC_USDT", nil)
	assert.ErrorIs(t, err, ErrBuyInProgress, "one buy still reserved")

	s.EndBuy("1", "BTC_USDT")
	claim, err := s.BeginSell("1", "BTC_USDT", nil)
	require.NoError(t, err)
	assert.True(t, claim.Position.Quantity.Equal(d("2")))

	stale := &fakeHandle{}
	s.Swap("1", "ETH_USDT", &fakeHandle{})
	assert.ErrorIs(t, s.BeginBuy("1", "ETH_USDT", stale), ErrStaleMonitor)
}

func TestFailuresMarkDegraded(t *testing.T) {
	s, _ := newTestStore()
	h := &fakeHandle{}
	s.Swap("1", "BTC_USDT", h)

	for i := 1; i <= 3; i++ {
		assert.Equal(t, i, s.RecordFailure("1", "BTC_USDT", h))
	}
	assert.True(t, s.SetPhase("1", "BTC_USDT", h, PhaseSkyrocket))

	snap := s.Snapshot("1")
	require.Len(t, snap.Monitors, 1)
	assert.True(t, snap.Monitors[0].Degraded)
	assert.Equal(t, PhaseSkyrocket, snap.Monitors[0].Phase)

	s.ResetFailures("1", "BTC_USDT", h)
	assert.False(t, s.Snapshot("1").Monitors[0].Degraded)
}

func TestUnknownUserSnapshot(t *testing.T) {
	s, _ := newTestStore()
	snap := s.Snapshot("ghost")
	assert.Equal(t, "ghost", snap.UserID)
	assert.Empty(t, snap.Positions)
	assert.Empty(t, s.Users())
}

func TestConcurrentUsers(t *testing.T) {
	s, _ := newTestStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%5)
			_, _ = s.OpenPosition(user, "BTC_USDT", d("100"), d("1"), d("10"), nil)
			if claim, err := s.BeginSell(user, "BTC_USDT", nil); err == nil {
				_, _ = s.CompleteSell(claim, d("101"))
			}
			_ = s.Snapshot(user)
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.Users(), 5)
	for _, u := range s.Users() {
		assert.LessOrEqual(t, len(s.Snapshot(u).Positions), 1)
	}
}
