// internal/storage/models/base.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade is one filled order.
type Trade struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Source    string          `json:"source"` // start, buy_now, rebuy, fallback or the sell reason
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Notional  decimal.Decimal `json:"notional"`
	Realized  decimal.Decimal `json:"realized"`
	CreatedAt time.Time       `json:"created_at"`
}

// Position is the durable record of an acquisition.
type Position struct {
	UserID          string          `json:"user_id"`
	Symbol          string          `json:"symbol"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	EntryTime       time.Time       `json:"entry_time"`
	Quantity        decimal.Decimal `json:"quantity"`
	RebuyPercentage decimal.Decimal `json:"rebuy_percentage"`
	Closed          bool            `json:"closed"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
