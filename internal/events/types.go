// internal/events/types.go
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType represents the type of event.
type EventType string

const (
	// Position events
	PositionOpened EventType = "position.opened"
	PositionSold   EventType = "position.sold"
	PositionClosed EventType = "position.closed"

	// Monitor lifecycle events
	MonitorStarted        EventType = "monitor.started"
	MonitorStopped        EventType = "monitor.stopped"
	MonitorDegraded       EventType = "monitor.degraded"
	SkyrocketWatchStarted EventType = "monitor.skyrocket"

	// Rebuy events
	RebuyExecuted    EventType = "rebuy.executed"
	FallbackExecuted EventType = "rebuy.fallback"

	// Any matches every event type in Subscribe.
	Any EventType = "*"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	User() string
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
	UserID    string
	Symbol    string
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// User returns the user the event belongs to.
func (e BaseEvent) User() string {
	return e.UserID
}

// NewBase fills a BaseEvent.
func NewBase(typ EventType, userID, symbol string, at time.Time) BaseEvent {
	return BaseEvent{EventType: typ, EventTime: at, UserID: userID, Symbol: symbol}
}

// PositionOpenedEvent is emitted after every successful buy.
type PositionOpenedEvent struct {
	BaseEvent
	Price           decimal.Decimal // fill price of this order
	EntryPrice      decimal.Decimal // weighted entry of the whole position
	Quantity        decimal.Decimal // total held after the buy
	Filled          decimal.Decimal // quantity bought by this order
	Notional        decimal.Decimal
	RebuyPercentage decimal.Decimal
	EntryTime       time.Time
	Source          string // "start", "buy_now", "rebuy", "fallback"
}

// PositionSoldEvent is emitted after every successful sell.
type PositionSoldEvent struct {
	BaseEvent
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	Realized   decimal.Decimal
	Reason     string // decision name or "manual"
}

// PositionClosedEvent is emitted when a position is dropped without an order,
// e.g. by StopTrade. The holding itself stays on the exchange.
type PositionClosedEvent struct {
	BaseEvent
	Quantity   decimal.Decimal // quantity the record held
	EntryPrice decimal.Decimal
	Reason     string // "stopped"
}

// MonitorStartedEvent is emitted when a monitor begins watching a symbol.
type MonitorStartedEvent struct {
	BaseEvent
	EntryPrice decimal.Decimal
}

// MonitorStoppedEvent is emitted when a monitor exits.
type MonitorStoppedEvent struct {
	BaseEvent
	Reason string // "cancelled", "no_position", "expired", "rebought", "fallback"
}

// MonitorDegradedEvent is emitted when consecutive poll failures reach the
// warning threshold.
type MonitorDegradedEvent struct {
	BaseEvent
	Failures int
	LastErr  string
}

// SkyrocketWatchStartedEvent is emitted when an early spike opens the skyrocket watch.
type SkyrocketWatchStartedEvent struct {
	BaseEvent
	EntryPrice decimal.Decimal
	Price      decimal.Decimal
}

// RebuyExecutedEvent is emitted when the rebuy watch re-enters a symbol.
type RebuyExecutedEvent struct {
	BaseEvent
	Signal    string // "rise" or "dip"
	Reference decimal.Decimal
	Price     decimal.Decimal
	Notional  decimal.Decimal
}

// FallbackExecutedEvent is emitted when the rebuy watch redeploys into the
// trending symbol.
type FallbackExecutedEvent struct {
	BaseEvent
	From     string
	Price    decimal.Decimal
	Notional decimal.Decimal
}
