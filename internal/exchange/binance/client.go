// Package binance adapts the Binance spot REST API to the exchange interfaces.
//
// Signed calls build a client per request from the caller's credentials; only
// the unauthenticated market-data client is long-lived.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/cenkalti/backoff/v5"
	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	codeBadSymbol        = -1121
	codeNewOrderRejected = -2010

	testnetBaseURL = "https://testnet.binance.vision"
)

// Config configures the adapter.
type Config struct {
	Quote          string        // quote currency used for trending lookups
	RequestsPerSec float64       // shared limit for every outgoing call
	Burst          int           // limiter burst
	RequestTimeout time.Duration // per-call timeout
	Testnet        bool
	BaseURL        string // overrides the REST endpoint, Testnet included
}

var _ exchange.Exchange = (*Client)(nil)

// Client implements exchange.Exchange on top of go-binance.
type Client struct {
	cfg     Config
	market  *binance.Client
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *zap.Logger

	newClient func(apiKey, secret string) *binance.Client
}

// New creates a Binance adapter.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Quote == "" {
		cfg.Quote = "USDT"
	}
	if cfg.BaseURL == "" && cfg.Testnet {
		cfg.BaseURL = testnetBaseURL
	}

	// the endpoint is set per client; binance.UseTestnet is process-wide
	newClient := func(apiKey, secret string) *binance.Client {
		cl := binance.NewClient(apiKey, secret)
		if cfg.BaseURL != "" {
			cl.BaseURL = cfg.BaseURL
		}
		return cl
	}

	return &Client{
		cfg:       cfg,
		market:    newClient("", ""),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		logger:    logger.Named("binance"),
		newClient: newClient,
	}
}

// WaitReady pings the exchange with exponential backoff until it answers.
func (c *Client) WaitReady(ctx context.Context, maxTries uint) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := c.wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		if err := c.market.NewPingService().Do(callCtx); err != nil {
			c.logger.Warn("Exchange ping failed, retrying", zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxTries))
	if err != nil {
		return exchange.NewError(exchange.ErrNetwork, "ping", "", err)
	}
	c.logger.Info("✅ Exchange reachable")
	return nil
}

// GetLastPrice returns the last price of symbol. Concurrent requests for the
// same symbol share one upstream call. The shared call is detached from any
// single caller, so one caller giving up does not fail the others.
func (c *Client) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ch := c.group.DoChan(symbol, func() (interface{}, error) {
		return c.fetchPrice(context.WithoutCancel(ctx), symbol)
	})
	select {
	case <-ctx.Done():
		return decimal.Zero, exchange.NewError(exchange.ErrNetwork, "price", symbol, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	}
}

func (c *Client) fetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.wait(ctx); err != nil {
		return decimal.Zero, exchange.NewError(exchange.ErrNetwork, "price", symbol, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	prices, err := c.market.NewListPricesService().Symbol(toMarket(symbol)).Do(callCtx)
	if err != nil {
		return decimal.Zero, classify("price", symbol, err)
	}
	if len(prices) == 0 {
		return decimal.Zero, exchange.NewError(exchange.ErrSymbolUnavailable, "price", symbol, nil)
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, exchange.NewError(exchange.ErrInvalidPriceData, "price", symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, exchange.NewError(exchange.ErrInvalidPriceData, "price", symbol,
			fmt.Errorf("non-positive price %s", price))
	}
	return price, nil
}

// MarketBuy spends notional quote currency and returns the executed base quantity.
func (c *Client) MarketBuy(ctx context.Context, creds exchange.Credentials, symbol string, notional decimal.Decimal) (decimal.Decimal, error) {
	if err := c.wait(ctx); err != nil {
		return decimal.Zero, exchange.NewError(exchange.ErrNetwork, "buy", symbol, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.newClient(creds.APIKey, creds.APISecret).NewCreateOrderService().
		Symbol(toMarket(symbol)).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(notional.String()).
		Do(callCtx)
	if err != nil {
		return decimal.Zero, classify("buy", symbol, err)
	}

	filled, err := decimal.NewFromString(resp.ExecutedQuantity)
	if err != nil {
		// order went through; caller falls back to notional / price
		c.logger.Warn("Unparsable executed quantity",
			zap.String("symbol", symbol),
			zap.String("executed_qty", resp.ExecutedQuantity))
		return decimal.Zero, nil
	}

	c.logger.Info("🟢 Market buy filled",
		zap.String("user_id", creds.UserID),
		zap.String("symbol", symbol),
		zap.Int64("order_id", resp.OrderID),
		zap.String("qty", filled.String()))
	return filled, nil
}

// MarketSell sells quantity of the base currency.
func (c *Client) MarketSell(ctx context.Context, creds exchange.Credentials, symbol string, quantity decimal.Decimal) error {
	if err := c.wait(ctx); err != nil {
		return exchange.NewError(exchange.ErrNetwork, "sell", symbol, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.newClient(creds.APIKey, creds.APISecret).NewCreateOrderService().
		Symbol(toMarket(symbol)).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(quantity.String()).
		Do(callCtx)
	if err != nil {
		return classify("sell", symbol, err)
	}

	c.logger.Info("🔴 Market sell filled",
		zap.String("user_id", creds.UserID),
		zap.String("symbol", symbol),
		zap.Int64("order_id", resp.OrderID),
		zap.String("qty", quantity.String()))
	return nil
}

// GetAvailableBalance returns the free balance of currency.
func (c *Client) GetAvailableBalance(ctx context.Context, creds exchange.Credentials, currency string) (decimal.Decimal, error) {
	if err := c.wait(ctx); err != nil {
		return decimal.Zero, exchange.NewError(exchange.ErrNetwork, "balance", currency, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	account, err := c.newClient(creds.APIKey, creds.APISecret).NewGetAccountService().Do(callCtx)
	if err != nil {
		return decimal.Zero, classify("balance", currency, err)
	}
	for _, b := range account.Balances {
		if !strings.EqualFold(b.Asset, currency) {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return decimal.Zero, exchange.NewError(exchange.ErrInvalidPriceData, "balance", currency, err)
		}
		return free, nil
	}
	return decimal.Zero, nil
}

// TopTrendingToday returns the quote-currency pair with the largest 24h gain.
func (c *Client) TopTrendingToday(ctx context.Context) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", exchange.NewError(exchange.ErrNetwork, "trending", "", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	stats, err := c.market.NewListPriceChangeStatsService().Do(callCtx)
	if err != nil {
		return "", classify("trending", "", err)
	}

	var (
		best    string
		bestPct decimal.Decimal
	)
	for _, s := range stats {
		if !strings.HasSuffix(s.Symbol, c.cfg.Quote) || s.Symbol == c.cfg.Quote {
			continue
		}
		pct, err := decimal.NewFromString(s.PriceChangePercent)
		if err != nil {
			continue
		}
		if best == "" || pct.GreaterThan(bestPct) {
			best, bestPct = s.Symbol, pct
		}
	}
	if best == "" {
		return "", exchange.NewError(exchange.ErrSymbolUnavailable, "trending", "", errors.New("no candidates"))
	}

	symbol := fromMarket(best, c.cfg.Quote)
	c.logger.Debug("Top trending symbol", zap.String("symbol", symbol), zap.String("change_pct", bestPct.String()))
	return symbol, nil
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// classify maps go-binance errors onto the exchange error kinds.
func classify(op, symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == codeBadSymbol:
			return exchange.NewError(exchange.ErrSymbolUnavailable, op, symbol, err)
		case apiErr.Code == codeNewOrderRejected && strings.Contains(strings.ToLower(apiErr.Message), "insufficient"):
			return exchange.NewError(exchange.ErrInsufficientFunds, op, symbol, err)
		default:
			return exchange.NewError(exchange.ErrExchangeRejected, op, symbol, err)
		}
	}
	return exchange.NewError(exchange.ErrNetwork, op, symbol, err)
}

// toMarket converts "BTC_USDT" into Binance's "BTCUSDT".
func toMarket(symbol string) string {
	return strings.ReplaceAll(symbol, "_", "")
}

// fromMarket converts "BTCUSDT" back into "BTC_USDT".
func fromMarket(market, quote string) string {
	return strings.TrimSuffix(market, quote) + "_" + quote
}
