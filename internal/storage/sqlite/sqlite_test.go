package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/storage"
	"github.com/rovshanmuradov/spot-trading-bot/internal/storage/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(filepath.Join(t.TempDir(), "db", "journal.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTradesNewestFirst(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.RecordTrade(ctx, &models.Trade{
			ID:        id,
			UserID:    "1",
			Symbol:    "BTC_USDT",
			Side:      models.SideBuy,
			Source:    "start",
			Price:     dec("100"),
			Quantity:  dec("0.5"),
			Notional:  dec("50"),
			CreatedAt: base.Add(time.Duration(i) * 500 * time.Millisecond),
		}))
	}
	require.NoError(t, j.RecordTrade(ctx, &models.Trade{
		ID: "other", UserID: "2", Symbol: "ETH_USDT", Side: models.SideSell, Source: "manual", CreatedAt: base,
	}))

	trades, err := j.ListTrades(ctx, "1", 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "c", trades[0].ID)
	assert.Equal(t, "b", trades[1].ID)
	assert.True(t, trades[0].Price.Equal(dec("100")))
	assert.True(t, trades[0].CreatedAt.Equal(base.Add(time.Second)))

	all, err := j.ListTrades(ctx, "1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecordTradeIgnoresDuplicateID(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)
	tr := &models.Trade{ID: "x", UserID: "1", Symbol: "BTC_USDT", Side: models.SideBuy, CreatedAt: time.Now()}
	require.NoError(t, j.RecordTrade(ctx, tr))
	require.NoError(t, j.RecordTrade(ctx, tr))

	trades, err := j.ListTrades(ctx, "1", 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestPositionLifecycle(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := j.GetPosition(ctx, "1", "BTC_USDT")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, j.ClosePosition(ctx, "1", "BTC_USDT", now), storage.ErrNotFound)

	require.NoError(t, j.UpsertPosition(ctx, &models.Position{
		UserID: "1", Symbol: "BTC_USDT", EntryPrice: dec("100"), EntryTime: now,
		Quantity: dec("1"), RebuyPercentage: dec("20"), UpdatedAt: now,
	}))
	require.NoError(t, j.ClosePosition(ctx, "1", "BTC_USDT", now.Add(time.Minute)))

	p, err := j.GetPosition(ctx, "1", "BTC_USDT")
	require.NoError(t, err)
	assert.True(t, p.Closed)
	assert.True(t, p.Quantity.IsZero())

	// a rebuy reopens the record
	require.NoError(t, j.UpsertPosition(ctx, &models.Position{
		UserID: "1", Symbol: "BTC_USDT", EntryPrice: dec("101"), EntryTime: now.Add(5 * time.Minute),
		Quantity: dec("0.2"), RebuyPercentage: dec("20"), UpdatedAt: now.Add(5 * time.Minute),
	}))
	p, err = j.GetPosition(ctx, "1", "BTC_USDT")
	require.NoError(t, err)
	assert.False(t, p.Closed)
	assert.True(t, p.EntryPrice.Equal(dec("101")))
	assert.True(t, p.EntryTime.Equal(now.Add(5*time.Minute)))
}
