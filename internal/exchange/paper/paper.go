// Package paper implements an in-memory exchange used for dry runs and tests.
// Prices are set explicitly, fills are immediate at the current price.
package paper

import (
	"context"
	"errors"
	"sync"

	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Order is a filled paper order.
type Order struct {
	UserID   string
	Symbol   string
	Side     string
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

var _ exchange.Exchange = (*Exchange)(nil)

// Exchange is a deterministic simulated spot exchange.
type Exchange struct {
	mu       sync.Mutex
	prices   map[string]decimal.Decimal
	balances map[string]map[string]decimal.Decimal // user -> asset -> free
	trending string
	orders   []Order

	// injected failures, consumed one per call
	priceErrs map[string][]error
	buyErrs   []error
	sellErrs  []error

	priceCalls map[string]int
	logger     *zap.Logger
}

// New creates an empty paper exchange.
func New(logger *zap.Logger) *Exchange {
	return &Exchange{
		prices:     make(map[string]decimal.Decimal),
		balances:   make(map[string]map[string]decimal.Decimal),
		priceErrs:  make(map[string][]error),
		priceCalls: make(map[string]int),
		logger:     logger.Named("paper"),
	}
}

// SetPrice sets the last traded price of symbol.
func (e *Exchange) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// SetBalance sets the free balance of asset for user.
func (e *Exchange) SetBalance(userID, asset string, amount decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userBalances(userID)[asset] = amount
}

// SetTrending sets the symbol returned by TopTrendingToday.
func (e *Exchange) SetTrending(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trending = symbol
}

// FailPrice queues errors returned by the next GetLastPrice calls for symbol.
func (e *Exchange) FailPrice(symbol string, errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.priceErrs[symbol] = append(e.priceErrs[symbol], errs...)
}

// FailBuy queues errors returned by the next MarketBuy calls.
func (e *Exchange) FailBuy(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buyErrs = append(e.buyErrs, errs...)
}

// FailSell queues errors returned by the next MarketSell calls.
func (e *Exchange) FailSell(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sellErrs = append(e.sellErrs, errs...)
}

// Orders returns a copy of every filled order.
func (e *Exchange) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, len(e.orders))
	copy(out, e.orders)
	return out
}

// PriceCalls returns how many times the price of symbol was requested.
func (e *Exchange) PriceCalls(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.priceCalls[symbol]
}

// Balance returns the free balance of asset for user.
func (e *Exchange) Balance(userID, asset string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userBalances(userID)[asset]
}

// GetLastPrice implements exchange.PriceFeed.
func (e *Exchange) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, exchange.NewError(exchange.ErrNetwork, "price", symbol, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.priceCalls[symbol]++
	if queued := e.priceErrs[symbol]; len(queued) > 0 {
		err := queued[0]
		e.priceErrs[symbol] = queued[1:]
		return decimal.Zero, err
	}

	price, ok := e.prices[symbol]
	if !ok {
		return decimal.Zero, exchange.NewError(exchange.ErrSymbolUnavailable, "price", symbol, nil)
	}
	if !price.IsPositive() {
		return decimal.Zero, exchange.NewError(exchange.ErrInvalidPriceData, "price", symbol, nil)
	}
	return price, nil
}

// MarketBuy spends notional of the quote currency at the current price.
func (e *Exchange) MarketBuy(ctx context.Context, creds exchange.Credentials, symbol string, notional decimal.Decimal) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, exchange.NewError(exchange.ErrNetwork, "buy", symbol, err)
	}
	base, quote, err := exchange.SplitSymbol(symbol)
	if err != nil {
		return decimal.Zero, exchange.NewError(exchange.ErrSymbolUnavailable, "buy", symbol, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.buyErrs) > 0 {
		err := e.buyErrs[0]
		e.buyErrs = e.buyErrs[1:]
		return decimal.Zero, err
	}

	price, ok := e.prices[symbol]
	if !ok || !price.IsPositive() {
		return decimal.Zero, exchange.NewError(exchange.ErrSymbolUnavailable, "buy", symbol, nil)
	}

	balances := e.userBalances(creds.UserID)
	if balances[quote].LessThan(notional) {
		return decimal.Zero, exchange.NewError(exchange.ErrInsufficientFunds, "buy", symbol, nil)
	}

	qty := notional.Div(price)
	balances[quote] = balances[quote].Sub(notional)
	balances[base] = balances[base].Add(qty)
	e.orders = append(e.orders, Order{UserID: creds.UserID, Symbol: symbol, Side: "BUY", Quantity: qty, Price: price})

	e.logger.Debug("Paper buy filled",
		zap.String("user_id", creds.UserID),
		zap.String("symbol", symbol),
		zap.String("qty", qty.String()),
		zap.String("price", price.String()))
	return qty, nil
}

// MarketSell sells quantity of the base currency at the current price.
func (e *Exchange) MarketSell(ctx context.Context, creds exchange.Credentials, symbol string, quantity decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return exchange.NewError(exchange.ErrNetwork, "sell", symbol, err)
	}
	base, quote, err := exchange.SplitSymbol(symbol)
	if err != nil {
		return exchange.NewError(exchange.ErrSymbolUnavailable, "sell", symbol, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.sellErrs) > 0 {
		err := e.sellErrs[0]
		e.sellErrs = e.sellErrs[1:]
		return err
	}

	price, ok := e.prices[symbol]
	if !ok || !price.IsPositive() {
		return exchange.NewError(exchange.ErrSymbolUnavailable, "sell", symbol, nil)
	}

	balances := e.userBalances(creds.UserID)
	if balances[base].LessThan(quantity) {
		return exchange.NewError(exchange.ErrInsufficientFunds, "sell", symbol, nil)
	}

	balances[base] = balances[base].Sub(quantity)
	balances[quote] = balances[quote].Add(quantity.Mul(price))
	e.orders = append(e.orders, Order{UserID: creds.UserID, Symbol: symbol, Side: "SELL", Quantity: quantity, Price: price})

	e.logger.Debug("Paper sell filled",
		zap.String("user_id", creds.UserID),
		zap.String("symbol", symbol),
		zap.String("qty", quantity.String()),
		zap.String("price", price.String()))
	return nil
}

// GetAvailableBalance implements exchange.BalanceProvider.
func (e *Exchange) GetAvailableBalance(ctx context.Context, creds exchange.Credentials, currency string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, exchange.NewError(exchange.ErrNetwork, "balance", currency, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userBalances(creds.UserID)[currency], nil
}

// TopTrendingToday implements exchange.TrendingSymbolProvider.
func (e *Exchange) TopTrendingToday(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", exchange.NewError(exchange.ErrNetwork, "trending", "", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.trending == "" {
		return "", exchange.NewError(exchange.ErrSymbolUnavailable, "trending", "", errors.New("no trending symbol"))
	}
	return e.trending, nil
}

// caller holds e.mu
func (e *Exchange) userBalances(userID string) map[string]decimal.Decimal {
	b, ok := e.balances[userID]
	if !ok {
		b = make(map[string]decimal.Decimal)
		e.balances[userID] = b
	}
	return b
}
