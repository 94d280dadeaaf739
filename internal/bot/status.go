package bot

import (
	"context"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/state"
	"github.com/shopspring/decimal"
)

// PositionStatus is a position as reported by GetStatus.
type PositionStatus struct {
	Symbol          string          `json:"symbol"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	EntryTime       time.Time       `json:"entry_time"`
	Quantity        decimal.Decimal `json:"quantity"`
	Sold            bool            `json:"sold"`
	Selling         bool            `json:"selling,omitempty"`
	RebuyPercentage decimal.Decimal `json:"rebuy_percentage"`
}

// MonitorStatus describes a running monitor.
type MonitorStatus struct {
	Symbol    string    `json:"symbol"`
	Phase     string    `json:"phase"`
	Failures  int       `json:"consecutive_failures"`
	Degraded  bool      `json:"degraded"`
	StartedAt time.Time `json:"started_at"`
}

// Status is a snapshot of one user's trading state.
type Status struct {
	UserID            string           `json:"user_id"`
	Positions         []PositionStatus `json:"positions"`
	ProfitTarget      decimal.Decimal  `json:"profit_target"`
	AccumulatedProfit decimal.Decimal  `json:"accumulated_profit"`
	DayStart          time.Time        `json:"day_start"`
	ActiveMonitors    []string         `json:"active_monitors"`
	Monitors          []MonitorStatus  `json:"monitors"`
}

// GetStatus returns a copy of the user's state. Unknown users get an empty status.
func (o *Orchestrator) GetStatus(ctx context.Context, userID string) Status {
	return statusFromSnapshot(o.store.Snapshot(userID))
}

func statusFromSnapshot(snap state.Snapshot) Status {
	st := Status{
		UserID:            snap.UserID,
		Positions:         make([]PositionStatus, 0, len(snap.Positions)),
		ProfitTarget:      snap.ProfitTarget,
		AccumulatedProfit: snap.AccumulatedProfit,
		DayStart:          snap.DayStart,
		ActiveMonitors:    snap.ActiveSymbols(),
		Monitors:          make([]MonitorStatus, 0, len(snap.Monitors)),
	}
	for _, p := range snap.Positions {
		st.Positions = append(st.Positions, PositionStatus{
			Symbol:          p.Symbol,
			EntryPrice:      p.EntryPrice,
			EntryTime:       p.EntryTime,
			Quantity:        p.Quantity,
			Sold:            p.Sold,
			Selling:         p.Selling,
			RebuyPercentage: p.RebuyPercentage,
		})
	}
	for _, m := range snap.Monitors {
		st.Monitors = append(st.Monitors, MonitorStatus{
			Symbol:    m.Symbol,
			Phase:     string(m.Phase),
			Failures:  m.Failures,
			Degraded:  m.Degraded,
			StartedAt: m.StartedAt,
		})
	}
	return st
}

// Position returns the status of one symbol.
func (s Status) Position(symbol string) (PositionStatus, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return PositionStatus{}, false
}

// Monitor returns the monitor status of one symbol.
func (s Status) Monitor(symbol string) (MonitorStatus, bool) {
	for _, m := range s.Monitors {
		if m.Symbol == symbol {
			return m, true
		}
	}
	return MonitorStatus{}, false
}
