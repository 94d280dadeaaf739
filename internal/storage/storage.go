// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/storage/models"
)

var ErrNotFound = errors.New("record not found")

// Journal is the durable trade record. It is written off the decision path
// and never read back into trading state.
type Journal interface {
	// Trades
	RecordTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, userID string, limit int) ([]*models.Trade, error)

	// Positions
	UpsertPosition(ctx context.Context, pos *models.Position) error
	ClosePosition(ctx context.Context, userID, symbol string, at time.Time) error
	GetPosition(ctx context.Context, userID, symbol string) (*models.Position, error)

	Close() error
}
