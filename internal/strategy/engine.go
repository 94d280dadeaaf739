package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decision is the outcome of evaluating one poll.
type Decision int

const (
	Hold Decision = iota
	SellStopLoss
	SellProfit
	SellTargetReached
	WatchSkyrocket
)

func (d Decision) String() string {
	switch d {
	case Hold:
		return "hold"
	case SellStopLoss:
		return "sell_stop_loss"
	case SellProfit:
		return "sell_profit"
	case SellTargetReached:
		return "sell_target_reached"
	case WatchSkyrocket:
		return "watch_skyrocket"
	default:
		return "unknown"
	}
}

// IsSell reports whether d closes the position.
func (d Decision) IsSell() bool {
	return d == SellStopLoss || d == SellProfit || d == SellTargetReached
}

// Input is everything a single evaluation looks at.
type Input struct {
	EntryPrice        decimal.Decimal
	EntryTime         time.Time
	Quantity          decimal.Decimal
	CurrentPrice      decimal.Decimal
	Now               time.Time
	AccumulatedProfit decimal.Decimal
	ProfitTarget      decimal.Decimal
	SkyrocketWatched  bool // this acquisition already had its skyrocket watch
}

// Engine evaluates positions against a fixed set of thresholds.
type Engine struct {
	th Thresholds
}

// NewEngine creates an Engine.
func NewEngine(th Thresholds) *Engine {
	return &Engine{th: th}
}

// Thresholds returns the engine's thresholds.
func (e *Engine) Thresholds() Thresholds {
	return e.th
}

// Evaluate applies the sell rules in order, first match wins:
// stop-loss, early skyrocket, take-profit, daily profit target, hold.
func (e *Engine) Evaluate(in Input) Decision {
	if !in.EntryPrice.IsPositive() {
		return Hold
	}

	drop := in.EntryPrice.Sub(in.CurrentPrice).Div(in.EntryPrice)
	if drop.GreaterThan(e.th.StopLoss) {
		return SellStopLoss
	}

	ratio := ProfitRatio(in.EntryPrice, in.CurrentPrice)
	if !in.SkyrocketWatched && in.Now.Sub(in.EntryTime) <= e.th.SkyrocketEntryWindow && ratio.GreaterThanOrEqual(e.th.SkyrocketTrigger) {
		return WatchSkyrocket
	}

	if ratio.GreaterThanOrEqual(e.th.TakeProfit) {
		return SellProfit
	}

	if in.ProfitTarget.IsPositive() {
		total := in.AccumulatedProfit.Add(UnrealizedProfit(in.EntryPrice, in.CurrentPrice, in.Quantity))
		if total.GreaterThanOrEqual(in.ProfitTarget) {
			return SellTargetReached
		}
	}

	return Hold
}

// EvaluateSkyrocket reports whether the skyrocket target has been hit.
func (e *Engine) EvaluateSkyrocket(entryPrice, currentPrice decimal.Decimal) bool {
	if !entryPrice.IsPositive() {
		return false
	}
	return ProfitRatio(entryPrice, currentPrice).GreaterThanOrEqual(e.th.SkyrocketTarget)
}

// RebuySignal is the outcome of a rebuy-watch poll.
type RebuySignal int

const (
	RebuyWait RebuySignal = iota
	RebuyOnRise
	RebuyOnDip
)

func (s RebuySignal) String() string {
	switch s {
	case RebuyOnRise:
		return "rise"
	case RebuyOnDip:
		return "dip"
	default:
		return "wait"
	}
}

// EvaluateRebuy compares current against the reference price. A rise is
// checked before a dip.
func (e *Engine) EvaluateRebuy(reference, current decimal.Decimal) RebuySignal {
	if !reference.IsPositive() {
		return RebuyWait
	}
	if current.Sub(reference).Div(reference).GreaterThanOrEqual(e.th.RebuyRise) {
		return RebuyOnRise
	}
	if reference.Sub(current).Div(reference).GreaterThanOrEqual(e.th.RebuyDip) {
		return RebuyOnDip
	}
	return RebuyWait
}

// ProfitRatio is (current - entry) / entry.
func ProfitRatio(entry, current decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	return current.Sub(entry).Div(entry)
}

// UnrealizedProfit is (current - entry) * quantity.
func UnrealizedProfit(entry, current, quantity decimal.Decimal) decimal.Decimal {
	return current.Sub(entry).Mul(quantity)
}
