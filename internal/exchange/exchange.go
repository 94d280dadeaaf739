// Package exchange defines the collaborators the trading core talks to: price
// feed, order execution, credentials, balances and the trending-symbol signal.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Credentials are a user's exchange API keys. They are resolved per request and
// never cached by the trading core.
type Credentials struct {
	UserID    string
	APIKey    string
	APISecret string
}

// PriceFeed returns the latest traded price of a symbol.
type PriceFeed interface {
	GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// OrderExecutor submits market orders. Buy size is quote notional, sell size is
// base quantity.
type OrderExecutor interface {
	MarketBuy(ctx context.Context, creds Credentials, symbol string, notional decimal.Decimal) (decimal.Decimal, error)
	MarketSell(ctx context.Context, creds Credentials, symbol string, quantity decimal.Decimal) error
}

// CredentialProvider resolves the exchange credentials of a user.
type CredentialProvider interface {
	GetCredentials(ctx context.Context, userID string) (Credentials, error)
}

// BalanceProvider reports the free balance of a currency on the user's account.
type BalanceProvider interface {
	GetAvailableBalance(ctx context.Context, creds Credentials, currency string) (decimal.Decimal, error)
}

// TrendingSymbolProvider names the top trending symbol of the day.
type TrendingSymbolProvider interface {
	TopTrendingToday(ctx context.Context) (string, error)
}

// Exchange bundles every market-side collaborator; adapters implement all of it.
type Exchange interface {
	PriceFeed
	OrderExecutor
	BalanceProvider
	TrendingSymbolProvider
}
