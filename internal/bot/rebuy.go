// internal/bot/rebuy.go
package bot

import (
	"context"
	"errors"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/events"
	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/rovshanmuradov/spot-trading-bot/internal/monitor"
	"github.com/rovshanmuradov/spot-trading-bot/internal/state"
	"github.com/rovshanmuradov/spot-trading-bot/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// rebuyWatch runs after a monitor sold its position: a cooldown, then a watch
// for a rise or a dip against a periodically reset reference price. After
// FallbackAfter without a rebuy the balance share goes to the trending symbol.
func (o *Orchestrator) rebuyWatch(t *monitor.Task, log *zap.Logger) string {
	timing := o.cfg.Timing

	rebuyPct, ok := o.store.RebuyPercentage(t.UserID, t.Symbol)
	if !ok {
		rebuyPct = o.cfg.DefaultRebuyPct
	}

	o.store.SetPhase(t.UserID, t.Symbol, t, state.PhaseCooldown)
	log.Info("⏸ Cooldown", zap.Duration("duration", timing.Cooldown))
	if !t.Sleep(timing.Cooldown) {
		return stopCancelled
	}

	o.store.SetPhase(t.UserID, t.Symbol, t, state.PhaseRebuyWatch)
	started := o.store.Now()
	log.Info("👀 Watching for rebuy",
		zap.Duration("interval", timing.RebuyInterval),
		zap.Duration("fallback_after", timing.FallbackAfter))

	var (
		reference   decimal.Decimal
		referenceAt time.Time
		attempts    int
	)
	if price, err := o.poll(t); err == nil {
		reference, referenceAt = price, o.store.Now()
	} else {
		o.recordFailure(t, log, err)
	}

	for {
		if !t.Sleep(timing.RebuyInterval) {
			return stopCancelled
		}
		now := o.store.Now()

		if now.Sub(started) >= timing.FallbackAfter {
			attempts++
			if reason, done := o.fallback(t, log, rebuyPct); done {
				return reason
			}
			if attempts >= timing.FallbackAttempts {
				log.Warn("Rebuy watch expired", zap.Int("fallback_attempts", attempts))
				return stopExpired
			}
			continue
		}

		price, err := o.poll(t)
		if err != nil {
			o.recordFailure(t, log, err)
			continue
		}
		o.store.ResetFailures(t.UserID, t.Symbol, t)

		if reference.IsZero() {
			reference, referenceAt = price, now
			continue
		}

		signal := o.engine.EvaluateRebuy(reference, price)
		if signal == strategy.RebuyWait {
			if now.Sub(referenceAt) >= timing.ReferenceReset {
				log.Debug("Reference price reset",
					zap.String("old", reference.String()),
					zap.String("new", price.String()))
				reference, referenceAt = price, now
			}
			continue
		}

		log.Info("🔁 Rebuy signal",
			zap.Stringer("signal", signal),
			zap.String("reference", reference.String()),
			zap.String("price", price.String()))

		f, err := o.acquire(t.Context(), acquireRequest{
			userID:   t.UserID,
			symbol:   t.Symbol,
			rebuyPct: rebuyPct,
			owner:    t,
			guard:    t,
			source:   "rebuy",
		})
		if errors.Is(err, state.ErrStaleMonitor) || t.Cancelled() {
			return stopCancelled
		}
		if err != nil {
			o.recordFailure(t, log, err)
			continue
		}

		o.publish(events.RebuyExecutedEvent{
			BaseEvent: events.NewBase(events.RebuyExecuted, t.UserID, t.Symbol, o.store.Now()),
			Signal:    signal.String(),
			Reference: reference,
			Price:     f.price,
			Notional:  f.notional,
		})

		// supersedes this task
		if err := o.startMonitor(t.UserID, t.Symbol); err != nil {
			log.Error("Rebought but monitor not restarted", zap.Error(err))
		}
		return stopRebought
	}
}

// fallback redeploys rebuyPct of the free balance into today's trending symbol
// and hands it to a fresh monitor. It reports done=false when the attempt
// should be retried on the next tick.
func (o *Orchestrator) fallback(t *monitor.Task, log *zap.Logger, rebuyPct decimal.Decimal) (string, bool) {
	ctx, cancel := context.WithTimeout(t.Context(), o.cfg.RequestTimeout)
	symbol, err := o.trending.TopTrendingToday(ctx)
	cancel()
	if err != nil {
		log.Warn("Trending symbol unavailable", zap.Error(err))
		return "", false
	}
	symbol = exchange.NormalizeSymbol(symbol)
	if err := exchange.ValidateSymbol(symbol); err != nil {
		log.Warn("Trending symbol rejected", zap.String("trending", symbol), zap.Error(err))
		return "", false
	}

	req := acquireRequest{
		userID:   t.UserID,
		symbol:   symbol,
		rebuyPct: rebuyPct,
		guard:    t,
		source:   "fallback",
	}
	if symbol == t.Symbol {
		req.owner = t
	} else if p, ok := o.store.Position(t.UserID, symbol); ok && p.Open() {
		log.Info("Trending symbol already held, dropping rebuy watch", zap.String("trending", symbol))
		return stopExpired, true
	}

	f, err := o.acquire(t.Context(), req)
	if errors.Is(err, state.ErrStaleMonitor) || t.Cancelled() {
		return stopCancelled, true
	}
	if err != nil {
		o.recordFailure(t, log, err)
		return "", false
	}

	o.publish(events.FallbackExecutedEvent{
		BaseEvent: events.NewBase(events.FallbackExecuted, t.UserID, symbol, o.store.Now()),
		From:      t.Symbol,
		Price:     f.price,
		Notional:  f.notional,
	})
	log.Info("🔀 Fallback into trending symbol",
		zap.String("trending", symbol),
		zap.String("notional", f.notional.String()))

	if err := o.startMonitor(t.UserID, symbol); err != nil {
		log.Error("Fallback bought but monitor not started", zap.Error(err))
	}
	return stopFallback, true
}
