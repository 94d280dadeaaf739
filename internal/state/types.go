// Package state owns every user's positions, profit counters and monitor
// registrations. Each user has an independent partition with its own lock;
// callers only ever receive copies.
package state

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNoOpenPosition = errors.New("no open position")
	ErrSellInProgress = errors.New("sell already in progress")
	ErrStaleMonitor   = errors.New("monitor no longer registered")
	ErrBuyInProgress  = errors.New("buy already in progress")
	ErrClaimLost      = errors.New("sell claim no longer valid")
)

// Position is one acquisition of a symbol.
type Position struct {
	Symbol          string
	EntryPrice      decimal.Decimal
	EntryTime       time.Time
	Quantity        decimal.Decimal
	Sold            bool
	Selling         bool
	RebuyPercentage decimal.Decimal
}

// Open reports whether the position is held and not sold.
func (p Position) Open() bool {
	return !p.Sold
}

// Phase is what a registered monitor is currently doing.
type Phase string

const (
	PhaseHolding    Phase = "holding"
	PhaseSkyrocket  Phase = "skyrocket"
	PhaseCooldown   Phase = "cooldown"
	PhaseRebuyWatch Phase = "rebuy_watch"
)

// MonitorHandle identifies a running monitor task. Handles are compared by
// identity.
type MonitorHandle interface {
	Cancel()
}

// MonitorInfo describes a registered monitor.
type MonitorInfo struct {
	Symbol    string
	Phase     Phase
	Failures  int
	Degraded  bool
	StartedAt time.Time
}

// Snapshot is a point-in-time copy of a user's state.
type Snapshot struct {
	UserID            string
	Positions         []Position
	ProfitTarget      decimal.Decimal
	AccumulatedProfit decimal.Decimal
	DayStart          time.Time
	Monitors          []MonitorInfo
}

// ActiveSymbols returns the symbols with a registered monitor.
func (s Snapshot) ActiveSymbols() []string {
	out := make([]string, 0, len(s.Monitors))
	for _, m := range s.Monitors {
		out = append(out, m.Symbol)
	}
	return out
}

// SellClaim is the outstanding claim on one acquisition handed out by
// BeginSell.
type SellClaim struct {
	UserID   string
	Position Position // the position as claimed
	claimed  *Position
}

// Sale is the result of a completed sell.
type Sale struct {
	Position Position // the position as it was before the sell
	Price    decimal.Decimal
	Realized decimal.Decimal
}
