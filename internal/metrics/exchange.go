package metrics

import (
	"context"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/shopspring/decimal"
)

// instrumented times every call to the wrapped exchange.
type instrumented struct {
	next exchange.Exchange
	c    *Collector
}

// InstrumentExchange wraps ex so each call is counted and timed.
func InstrumentExchange(ex exchange.Exchange, c *Collector) exchange.Exchange {
	return &instrumented{next: ex, c: c}
}

func (i *instrumented) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	start := time.Now()
	p, err := i.next.GetLastPrice(ctx, symbol)
	i.c.RecordRequest("price", time.Since(start), err)
	return p, err
}

func (i *instrumented) MarketBuy(ctx context.Context, creds exchange.Credentials, symbol string, notional decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	qty, err := i.next.MarketBuy(ctx, creds, symbol, notional)
	i.c.RecordRequest("buy", time.Since(start), err)
	return qty, err
}

func (i *instrumented) MarketSell(ctx context.Context, creds exchange.Credentials, symbol string, quantity decimal.Decimal) error {
	start := time.Now()
	err := i.next.MarketSell(ctx, creds, symbol, quantity)
	i.c.RecordRequest("sell", time.Since(start), err)
	return err
}

func (i *instrumented) GetAvailableBalance(ctx context.Context, creds exchange.Credentials, currency string) (decimal.Decimal, error) {
	start := time.Now()
	b, err := i.next.GetAvailableBalance(ctx, creds, currency)
	i.c.RecordRequest("balance", time.Since(start), err)
	return b, err
}

func (i *instrumented) TopTrendingToday(ctx context.Context) (string, error) {
	start := time.Now()
	sym, err := i.next.TopTrendingToday(ctx)
	i.c.RecordRequest("trending", time.Since(start), err)
	return sym, err
}
