package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/events"
	"github.com/rovshanmuradov/spot-trading-bot/internal/storage/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memJournal struct {
	mu        sync.Mutex
	trades    []*models.Trade
	positions map[string]*models.Position
	failures  int
}

func newMemJournal() *memJournal {
	return &memJournal{positions: make(map[string]*models.Position)}
}

func (m *memJournal) RecordTrade(_ context.Context, t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("database is locked")
	}
	m.trades = append(m.trades, t)
	return nil
}

func (m *memJournal) ListTrades(_ context.Context, userID string, _ int) ([]*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Trade
	for _, t := range m.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memJournal) UpsertPosition(_ context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.positions[p.UserID+"/"+p.Symbol] = &cp
	return nil
}

func (m *memJournal) ClosePosition(_ context.Context, userID, symbol string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[userID+"/"+symbol]
	if !ok {
		return ErrNotFound
	}
	p.Closed = true
	p.UpdatedAt = at
	return nil
}

func (m *memJournal) GetPosition(_ context.Context, userID, symbol string) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[userID+"/"+symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memJournal) Close() error { return nil }

func TestRecorderJournalsTrades(t *testing.T) {
	j := newMemJournal()
	bus := events.NewBus(zaptest.NewLogger(t), 16)
	rec := NewRecorder(j, zaptest.NewLogger(t), 3)
	rec.Attach(bus)

	now := time.Now()
	require.NoError(t, bus.Publish(events.PositionOpenedEvent{
		BaseEvent:       events.NewBase(events.PositionOpened, "1", "BTC_USDT", now),
		Price:           decimal.NewFromInt(100),
		EntryPrice:      decimal.NewFromInt(100),
		Quantity:        decimal.NewFromInt(2),
		Filled:          decimal.NewFromInt(2),
		Notional:        decimal.NewFromInt(200),
		RebuyPercentage: decimal.NewFromInt(20),
		EntryTime:       now,
		Source:          "start",
	}))
	require.NoError(t, bus.Publish(events.PositionSoldEvent{
		BaseEvent:  events.NewBase(events.PositionSold, "1", "BTC_USDT", now.Add(time.Minute)),
		Price:      decimal.NewFromInt(102),
		Quantity:   decimal.NewFromInt(2),
		EntryPrice: decimal.NewFromInt(100),
		Realized:   decimal.NewFromInt(4),
		Reason:     "sell_profit",
	}))
	require.NoError(t, bus.Shutdown(context.Background()))

	trades, _ := j.ListTrades(context.Background(), "1", 0)
	require.Len(t, trades, 2)
	assert.Equal(t, models.SideBuy, trades[0].Side)
	assert.Equal(t, "start", trades[0].Source)
	assert.Equal(t, models.SideSell, trades[1].Side)
	assert.True(t, trades[1].Notional.Equal(decimal.NewFromInt(204)))
	assert.True(t, trades[1].Realized.Equal(decimal.NewFromInt(4)))
	assert.NotEqual(t, trades[0].ID, trades[1].ID)

	p, err := j.GetPosition(context.Background(), "1", "BTC_USDT")
	require.NoError(t, err)
	assert.True(t, p.Closed)
}

func TestRecorderRetries(t *testing.T) {
	j := newMemJournal()
	j.failures = 2
	rec := NewRecorder(j, zaptest.NewLogger(t), 3)

	err := rec.Handle(context.Background(), events.PositionOpenedEvent{
		BaseEvent: events.NewBase(events.PositionOpened, "1", "ETH_USDT", time.Now()),
		Price:     decimal.NewFromInt(10),
		Filled:    decimal.NewFromInt(1),
		Quantity:  decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	trades, _ := j.ListTrades(context.Background(), "1", 0)
	assert.Len(t, trades, 1)

	j.failures = 5
	err = rec.Handle(context.Background(), events.PositionOpenedEvent{
		BaseEvent: events.NewBase(events.PositionOpened, "1", "ETH_USDT", time.Now()),
	})
	assert.Error(t, err)
}

func TestRecorderIgnoresOtherEvents(t *testing.T) {
	j := newMemJournal()
	rec := NewRecorder(j, zaptest.NewLogger(t), 1)
	err := rec.Handle(context.Background(), events.MonitorStartedEvent{
		BaseEvent: events.NewBase(events.MonitorStarted, "1", "BTC_USDT", time.Now()),
	})
	assert.NoError(t, err)
	assert.Empty(t, j.trades)
}

func TestRecorderClosesStoppedPositions(t *testing.T) {
	j := newMemJournal()
	rec := NewRecorder(j, zaptest.NewLogger(t), 1)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, rec.Handle(ctx, events.PositionOpenedEvent{
		BaseEvent: events.NewBase(events.PositionOpened, "1", "BTC_USDT", now),
		Price:     decimal.NewFromInt(100),
		Filled:    decimal.NewFromInt(1),
		Quantity:  decimal.NewFromInt(1),
		EntryTime: now,
		Source:    "start",
	}))
	require.NoError(t, rec.Handle(ctx, events.PositionClosedEvent{
		BaseEvent: events.NewBase(events.PositionClosed, "1", "BTC_USDT", now.Add(time.Minute)),
		Quantity:  decimal.NewFromInt(1),
		Reason:    "stopped",
	}))

	p, err := j.GetPosition(ctx, "1", "BTC_USDT")
	require.NoError(t, err)
	assert.True(t, p.Closed)

	trades, _ := j.ListTrades(ctx, "1", 0)
	assert.Len(t, trades, 1, "closing without an order records no trade")

	// a position that never reached the journal is not an error
	assert.NoError(t, rec.Handle(ctx, events.PositionClosedEvent{
		BaseEvent: events.NewBase(events.PositionClosed, "1", "ETH_USDT", now),
		Reason:    "stopped",
	}))
}
