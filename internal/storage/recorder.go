package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rovshanmuradov/spot-trading-bot/internal/events"
	"github.com/rovshanmuradov/spot-trading-bot/internal/storage/models"
	"go.uber.org/zap"
)

// Recorder turns trading events into journal writes.
type Recorder struct {
	journal  Journal
	logger   *zap.Logger
	maxTries uint
	subs     []events.Subscription
}

// NewRecorder creates a recorder. Writes are retried up to maxTries times.
func NewRecorder(journal Journal, logger *zap.Logger, maxTries uint) *Recorder {
	if maxTries == 0 {
		maxTries = 3
	}
	return &Recorder{
		journal:  journal,
		logger:   logger.Named("journal"),
		maxTries: maxTries,
	}
}

// Attach subscribes the recorder to the bus.
func (r *Recorder) Attach(bus *events.Bus) {
	r.subs = append(r.subs,
		bus.Subscribe(events.PositionOpened, r),
		bus.Subscribe(events.PositionSold, r),
		bus.Subscribe(events.PositionClosed, r),
	)
}

// Detach removes the bus subscriptions.
func (r *Recorder) Detach() {
	for _, s := range r.subs {
		s.Unsubscribe()
	}
	r.subs = nil
}

// Handle implements events.Handler.
func (r *Recorder) Handle(ctx context.Context, event events.Event) error {
	// one id per event so a retried write stays idempotent
	id := uuid.NewString()
	var err error
	switch e := event.(type) {
	case events.PositionOpenedEvent:
		err = r.retry(ctx, func() error { return r.opened(ctx, id, e) })
	case events.PositionSoldEvent:
		err = r.retry(ctx, func() error { return r.sold(ctx, id, e) })
	case events.PositionClosedEvent:
		err = r.retry(ctx, func() error { return r.closed(ctx, e) })
	default:
		return nil
	}
	if err != nil {
		r.logger.Error("Journal write failed",
			zap.String("event_type", string(event.Type())),
			zap.String("user_id", event.User()),
			zap.Error(err))
	}
	return err
}

func (r *Recorder) retry(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithMaxElapsedTime(10*time.Second),
	)
	return err
}

func (r *Recorder) opened(ctx context.Context, id string, e events.PositionOpenedEvent) error {
	if err := r.journal.RecordTrade(ctx, &models.Trade{
		ID:        id,
		UserID:    e.UserID,
		Symbol:    e.Symbol,
		Side:      models.SideBuy,
		Source:    e.Source,
		Price:     e.Price,
		Quantity:  e.Filled,
		Notional:  e.Notional,
		CreatedAt: e.EventTime,
	}); err != nil {
		return err
	}
	return r.journal.UpsertPosition(ctx, &models.Position{
		UserID:          e.UserID,
		Symbol:          e.Symbol,
		EntryPrice:      e.EntryPrice,
		EntryTime:       e.EntryTime,
		Quantity:        e.Quantity,
		RebuyPercentage: e.RebuyPercentage,
		UpdatedAt:       e.EventTime,
	})
}

func (r *Recorder) sold(ctx context.Context, id string, e events.PositionSoldEvent) error {
	if err := r.journal.RecordTrade(ctx, &models.Trade{
		ID:        id,
		UserID:    e.UserID,
		Symbol:    e.Symbol,
		Side:      models.SideSell,
		Source:    e.Reason,
		Price:     e.Price,
		Quantity:  e.Quantity,
		Notional:  e.Price.Mul(e.Quantity),
		Realized:  e.Realized,
		CreatedAt: e.EventTime,
	}); err != nil {
		return err
	}
	return r.journal.ClosePosition(ctx, e.UserID, e.Symbol, e.EventTime)
}

func (r *Recorder) closed(ctx context.Context, e events.PositionClosedEvent) error {
	err := r.journal.ClosePosition(ctx, e.UserID, e.Symbol, e.EventTime)
	if errors.Is(err, ErrNotFound) {
		// never journaled, nothing to close
		return nil
	}
	return err
}
