// Package notify forwards notable trading events to an operator chat.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rovshanmuradov/spot-trading-bot/internal/events"
	"go.uber.org/zap"
)

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// LogSender writes messages to the log. Used when no chat is configured.
type LogSender struct {
	Logger *zap.Logger
}

// Send implements Sender.
func (s LogSender) Send(_ context.Context, text string) error {
	s.Logger.Info("Notification", zap.String("text", text))
	return nil
}

// Notifier subscribes to the bus and sends formatted events.
type Notifier struct {
	sender Sender
	logger *zap.Logger
	subs   []events.Subscription
}

// notified lists the event types worth a message.
var notified = []events.EventType{
	events.PositionSold,
	events.RebuyExecuted,
	events.FallbackExecuted,
	events.MonitorDegraded,
}

// New creates a notifier.
func New(sender Sender, logger *zap.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger.Named("notify")}
}

// Attach subscribes to the bus.
func (n *Notifier) Attach(bus *events.Bus) {
	for _, typ := range notified {
		n.subs = append(n.subs, bus.Subscribe(typ, n))
	}
}

// Detach drops the subscriptions.
func (n *Notifier) Detach() {
	for _, s := range n.subs {
		s.Unsubscribe()
	}
	n.subs = nil
}

// Handle implements events.Handler. Delivery failures are logged, not
// returned, so one bad chat never backs up the bus.
func (n *Notifier) Handle(ctx context.Context, event events.Event) error {
	text, ok := Format(event)
	if !ok {
		return nil
	}
	if err := n.sender.Send(ctx, text); err != nil {
		n.logger.Warn("Notification not delivered",
			zap.String("event_type", string(event.Type())),
			zap.String("user_id", event.User()),
			zap.Error(err))
	}
	return nil
}

// Format renders event as a chat message. ok is false for events that are
// not notified.
func Format(event events.Event) (text string, ok bool) {
	switch e := event.(type) {
	case events.PositionSoldEvent:
		verb := "📈 Sold"
		if e.Realized.IsNegative() {
			verb = "📉 Sold"
		}
		return fmt.Sprintf("%s %s %s for user %s at %s (%s), realized %s",
			verb, e.Quantity, e.Symbol, e.UserID, e.Price, humanReason(e.Reason), e.Realized.StringFixed(2)), true
	case events.RebuyExecutedEvent:
		return fmt.Sprintf("🔁 Rebought %s for user %s on %s: %s -> %s, notional %s",
			e.Symbol, e.UserID, e.Signal, e.Reference, e.Price, e.Notional.StringFixed(2)), true
	case events.FallbackExecutedEvent:
		return fmt.Sprintf("🔥 No rebuy on %s for user %s, bought trending %s at %s, notional %s",
			e.From, e.UserID, e.Symbol, e.Price, e.Notional.StringFixed(2)), true
	case events.MonitorDegradedEvent:
		return fmt.Sprintf("⚠️ Monitor %s for user %s degraded after %d failed polls: %s",
			e.Symbol, e.UserID, e.Failures, e.LastErr), true
	}
	return "", false
}

func humanReason(reason string) string {
	return strings.ReplaceAll(strings.TrimPrefix(reason, "sell_"), "_", " ")
}
