// internal/bot/monitor_loop.go
package bot

import (
	"context"
	"errors"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/events"
	"github.com/rovshanmuradov/spot-trading-bot/internal/monitor"
	"github.com/rovshanmuradov/spot-trading-bot/internal/state"
	"github.com/rovshanmuradov/spot-trading-bot/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reasons a monitor exits with.
const (
	stopCancelled  = "cancelled"
	stopNoPosition = "no_position"
	stopRebought   = "rebought"
	stopFallback   = "fallback"
	stopExpired    = "expired"
)

// monitorTask is the per-(user, symbol) loop: hold the position until a sell
// rule fires, then cool down and watch for a rebuy.
func (o *Orchestrator) monitorTask(userID, symbol string) monitor.TaskFunc {
	return func(t *monitor.Task) {
		log := o.logger.With(zap.String("user_id", userID), zap.String("symbol", symbol))

		entry := decimal.Zero
		if p, ok := o.store.Position(userID, symbol); ok {
			entry = p.EntryPrice
		}
		o.publish(events.MonitorStartedEvent{
			BaseEvent:  events.NewBase(events.MonitorStarted, userID, symbol, o.store.Now()),
			EntryPrice: entry,
		})
		log.Info("📊 Monitor started", zap.Duration("interval", o.cfg.Timing.MonitorInterval))

		reason := o.runMonitor(t, log)

		o.publish(events.MonitorStoppedEvent{
			BaseEvent: events.NewBase(events.MonitorStopped, userID, symbol, o.store.Now()),
			Reason:    reason,
		})
		log.Info("Monitor stopped", zap.String("reason", reason))
	}
}

func (o *Orchestrator) runMonitor(t *monitor.Task, log *zap.Logger) string {
	sold, reason := o.hold(t, log)
	if !sold {
		return reason
	}
	return o.rebuyWatch(t, log)
}

// hold polls the price every MonitorInterval and evaluates the sell rules. It
// returns true once the position was sold by this monitor.
func (o *Orchestrator) hold(t *monitor.Task, log *zap.Logger) (bool, string) {
	// entry time of the acquisition whose skyrocket watch already ran
	var watched time.Time

	for {
		if !t.Sleep(o.cfg.Timing.MonitorInterval) {
			return false, stopCancelled
		}

		if o.store.RollDay(t.UserID) {
			log.Info("Profit day rolled over, accumulated profit reset")
		}

		price, err := o.poll(t)
		if err != nil {
			o.recordFailure(t, log, err)
			continue
		}
		o.store.ResetFailures(t.UserID, t.Symbol, t)

		pos, ok := o.store.Position(t.UserID, t.Symbol)
		if !ok || pos.Sold {
			return false, stopNoPosition
		}
		if pos.Selling {
			continue
		}

		decision := o.engine.Evaluate(strategy.Input{
			EntryPrice:        pos.EntryPrice,
			EntryTime:         pos.EntryTime,
			Quantity:          pos.Quantity,
			CurrentPrice:      price,
			Now:               o.store.Now(),
			AccumulatedProfit: o.store.AccumulatedProfit(t.UserID),
			ProfitTarget:      o.store.ProfitTarget(t.UserID),
			SkyrocketWatched:  !watched.IsZero() && watched.Equal(pos.EntryTime),
		})

		log.Debug("Poll",
			zap.String("price", price.String()),
			zap.String("entry", pos.EntryPrice.String()),
			zap.Stringer("decision", decision))

		switch {
		case decision == strategy.WatchSkyrocket:
			watched = pos.EntryTime
			outcome := o.skyrocket(t, log, pos, price)
			switch outcome {
			case skyrocketSold:
				return true, ""
			case skyrocketCancelled:
				return false, stopCancelled
			case skyrocketGone:
				return false, stopNoPosition
			}
			o.store.SetPhase(t.UserID, t.Symbol, t, state.PhaseHolding)

		case decision.IsSell():
			if o.sell(t, log, price, decision.String()) {
				return true, ""
			}
			if t.Cancelled() {
				return false, stopCancelled
			}
		}
	}
}

type skyrocketOutcome int

const (
	skyrocketExpired skyrocketOutcome = iota
	skyrocketSold
	skyrocketCancelled
	skyrocketGone
)

// skyrocket watches an early spike for up to SkyrocketWindow, selling once the
// gain reaches the skyrocket target. Only the target is checked here.
func (o *Orchestrator) skyrocket(t *monitor.Task, log *zap.Logger, pos state.Position, price decimal.Decimal) skyrocketOutcome {
	o.store.SetPhase(t.UserID, t.Symbol, t, state.PhaseSkyrocket)
	o.publish(events.SkyrocketWatchStartedEvent{
		BaseEvent:  events.NewBase(events.SkyrocketWatchStarted, t.UserID, t.Symbol, o.store.Now()),
		EntryPrice: pos.EntryPrice,
		Price:      price,
	})
	log.Info("🚀 Skyrocket watch started",
		zap.String("entry", pos.EntryPrice.String()),
		zap.String("price", price.String()),
		zap.Duration("window", o.cfg.Timing.SkyrocketWindow))

	deadline := o.store.Now().Add(o.cfg.Timing.SkyrocketWindow)
	for {
		remaining := deadline.Sub(o.store.Now())
		if remaining <= 0 {
			log.Info("Skyrocket window elapsed, back to standard monitoring")
			return skyrocketExpired
		}
		if !t.Sleep(min(o.cfg.Timing.SkyrocketInterval, remaining)) {
			return skyrocketCancelled
		}

		cur, ok := o.store.Position(t.UserID, t.Symbol)
		if !ok || cur.Sold || !cur.EntryTime.Equal(pos.EntryTime) {
			return skyrocketGone
		}

		price, err := o.poll(t)
		if err != nil {
			o.recordFailure(t, log, err)
			continue
		}
		o.store.ResetFailures(t.UserID, t.Symbol, t)

		if o.engine.EvaluateSkyrocket(cur.EntryPrice, price) {
			if o.sell(t, log, price, "sell_skyrocket") {
				return skyrocketSold
			}
			if t.Cancelled() {
				return skyrocketCancelled
			}
		}
	}
}

// sell claims the position for this monitor and sells it at the polled price.
// Cancellation is checked right before the order goes out; once submitted the
// order is allowed to finish.
func (o *Orchestrator) sell(t *monitor.Task, log *zap.Logger, price decimal.Decimal, reason string) bool {
	if t.Cancelled() {
		return false
	}

	claim, err := o.store.BeginSell(t.UserID, t.Symbol, t)
	if err != nil {
		log.Debug("Sell not claimed", zap.Error(err))
		return false
	}
	pos := claim.Position

	creds, err := o.creds.GetCredentials(t.Context(), t.UserID)
	if err != nil {
		o.store.AbortSell(claim)
		o.recordFailure(t, log, err)
		return false
	}

	if t.Cancelled() {
		o.store.AbortSell(claim)
		return false
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.Context()), o.cfg.RequestTimeout)
	defer cancel()
	if err := o.orders.MarketSell(ctx, creds, t.Symbol, pos.Quantity); err != nil {
		o.store.AbortSell(claim)
		o.recordFailure(t, log, err)
		return false
	}

	sale, err := o.store.CompleteSell(claim, price)
	if err != nil {
		log.Warn("Position closed or replaced while selling",
			zap.String("qty", pos.Quantity.String()),
			zap.Error(err))
		return false
	}
	o.publishSale(t.UserID, t.Symbol, sale, reason)

	log.Info("💰 Position sold",
		zap.String("reason", reason),
		zap.String("qty", pos.Quantity.String()),
		zap.String("entry", pos.EntryPrice.String()),
		zap.String("price", price.String()),
		zap.String("realized", sale.Realized.String()))
	return true
}

// poll fetches the price of the task's symbol with a per-call timeout.
func (o *Orchestrator) poll(t *monitor.Task) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(t.Context(), o.cfg.RequestTimeout)
	defer cancel()
	return o.prices.GetLastPrice(ctx, t.Symbol)
}

// recordFailure counts a failed poll or order. Reaching the warning threshold
// marks the monitor degraded; the loop keeps running either way.
func (o *Orchestrator) recordFailure(t *monitor.Task, log *zap.Logger, err error) {
	if errors.Is(err, context.Canceled) && t.Cancelled() {
		return
	}
	n := o.store.RecordFailure(t.UserID, t.Symbol, t)
	if n < 0 {
		return
	}

	threshold := o.cfg.Timing.FailureWarnThreshold
	if n < threshold {
		log.Warn("Poll failed", zap.Int("consecutive_failures", n), zap.Error(err))
		return
	}

	log.Error("⚠️ Monitor degraded", zap.Int("consecutive_failures", n), zap.Error(err))
	if n == threshold {
		o.publish(events.MonitorDegradedEvent{
			BaseEvent: events.NewBase(events.MonitorDegraded, t.UserID, t.Symbol, o.store.Now()),
			Failures:  n,
			LastErr:   err.Error(),
		})
	}
}
