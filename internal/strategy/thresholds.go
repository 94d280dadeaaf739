// Package strategy holds the pure sell and rebuy decision rules.
package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Thresholds are the ratios the decision rules compare against.
type Thresholds struct {
	StopLoss             decimal.Decimal // drop from entry that forces a sell
	TakeProfit           decimal.Decimal // gain from entry that locks profit
	SkyrocketTrigger     decimal.Decimal // early gain that opens the skyrocket watch
	SkyrocketEntryWindow time.Duration   // how soon after entry the trigger counts
	SkyrocketTarget      decimal.Decimal // gain that sells during the skyrocket watch
	RebuyRise            decimal.Decimal // rise over reference that triggers a rebuy
	RebuyDip             decimal.Decimal // dip under reference that triggers a rebuy
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StopLoss:             decimal.RequireFromString("0.004"),
		TakeProfit:           decimal.RequireFromString("0.02"),
		SkyrocketTrigger:     decimal.RequireFromString("0.05"),
		SkyrocketEntryWindow: 60 * time.Second,
		SkyrocketTarget:      decimal.RequireFromString("0.10"),
		RebuyRise:            decimal.RequireFromString("0.002"),
		RebuyDip:             decimal.RequireFromString("0.05"),
	}
}

// Validate rejects non-positive ratios.
func (t Thresholds) Validate() error {
	ratios := map[string]decimal.Decimal{
		"stop_loss":         t.StopLoss,
		"take_profit":       t.TakeProfit,
		"skyrocket_trigger": t.SkyrocketTrigger,
		"skyrocket_target":  t.SkyrocketTarget,
		"rebuy_rise":        t.RebuyRise,
		"rebuy_dip":         t.RebuyDip,
	}
	for name, v := range ratios {
		if !v.IsPositive() {
			return fmt.Errorf("%s must be positive, got %s", name, v)
		}
	}
	if t.SkyrocketEntryWindow <= 0 {
		return fmt.Errorf("skyrocket_entry_window must be positive")
	}
	if t.SkyrocketTarget.LessThanOrEqual(t.SkyrocketTrigger) {
		return fmt.Errorf("skyrocket_target (%s) must exceed skyrocket_trigger (%s)", t.SkyrocketTarget, t.SkyrocketTrigger)
	}
	return nil
}

// Timing holds the loop intervals of monitors and rebuy watches.
type Timing struct {
	MonitorInterval      time.Duration
	SkyrocketInterval    time.Duration
	SkyrocketWindow      time.Duration
	Cooldown             time.Duration
	RebuyInterval        time.Duration
	ReferenceReset       time.Duration
	FallbackAfter        time.Duration
	DayLength            time.Duration
	FailureWarnThreshold int
	FallbackAttempts     int
}

// DefaultTiming returns the production intervals.
func DefaultTiming() Timing {
	return Timing{
		MonitorInterval:      10 * time.Second,
		SkyrocketInterval:    60 * time.Second,
		SkyrocketWindow:      240 * time.Second,
		Cooldown:             3 * time.Minute,
		RebuyInterval:        20 * time.Second,
		ReferenceReset:       210 * time.Second,
		FallbackAfter:        time.Hour,
		DayLength:            24 * time.Hour,
		FailureWarnThreshold: 3,
		FallbackAttempts:     3,
	}
}

// Validate rejects non-positive intervals.
func (t Timing) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"monitor_interval", t.MonitorInterval},
		{"skyrocket_interval", t.SkyrocketInterval},
		{"skyrocket_window", t.SkyrocketWindow},
		{"rebuy_interval", t.RebuyInterval},
		{"reference_reset", t.ReferenceReset},
		{"fallback_after", t.FallbackAfter},
		{"day_length", t.DayLength},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if t.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	if t.FailureWarnThreshold <= 0 || t.FallbackAttempts <= 0 {
		return fmt.Errorf("failure_warn_threshold and fallback_attempts must be positive")
	}
	return nil
}
