// internal/storage/sqlite/sqlite.go
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/storage"
	"github.com/rovshanmuradov/spot-trading-bot/internal/storage/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// fixed width so text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		side       TEXT NOT NULL,
		source     TEXT NOT NULL,
		price      TEXT NOT NULL,
		quantity   TEXT NOT NULL,
		notional   TEXT NOT NULL,
		realized   TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_user_created ON trades (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS positions (
		user_id          TEXT NOT NULL,
		symbol           TEXT NOT NULL,
		entry_price      TEXT NOT NULL,
		entry_time       TEXT NOT NULL,
		quantity         TEXT NOT NULL,
		rebuy_percentage TEXT NOT NULL,
		closed           INTEGER NOT NULL DEFAULT 0,
		updated_at       TEXT NOT NULL,
		PRIMARY KEY (user_id, symbol)
	)`,
}

// Journal implements storage.Journal on an embedded SQLite file.
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ storage.Journal = (*Journal)(nil)

// New opens (creating if needed) the database at path and applies migrations.
// ":memory:" gives a private in-memory database.
func New(path string, logger *zap.Logger) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one writer; the in-memory database also lives on a single connection
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, logger: logger.Named("sqlite")}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	j.logger.Info("Journal ready", zap.String("path", path))
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// RecordTrade inserts a trade.
func (j *Journal) RecordTrade(ctx context.Context, t *models.Trade) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trades (id, user_id, symbol, side, source, price, quantity, notional, realized, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		t.ID, t.UserID, t.Symbol, t.Side, t.Source,
		t.Price.String(), t.Quantity.String(), t.Notional.String(), t.Realized.String(),
		t.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// ListTrades returns the newest trades of userID first. limit <= 0 means 50.
func (j *Journal) ListTrades(ctx context.Context, userID string, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, user_id, symbol, side, source, price, quantity, notional, realized, created_at
		FROM trades WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []*models.Trade
	for rows.Next() {
		var (
			t                                   models.Trade
			price, qty, notional, realized, at string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Side, &t.Source,
			&price, &qty, &notional, &realized, &at); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if err := parseAll(
			parseDecimal(price, &t.Price),
			parseDecimal(qty, &t.Quantity),
			parseDecimal(notional, &t.Notional),
			parseDecimal(realized, &t.Realized),
			parseTime(at, &t.CreatedAt),
		); err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// UpsertPosition writes the open record for (user, symbol).
func (j *Journal) UpsertPosition(ctx context.Context, p *models.Position) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO positions (user_id, symbol, entry_price, entry_time, quantity, rebuy_percentage, closed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(user_id, symbol) DO UPDATE SET
			entry_price = excluded.entry_price,
			entry_time = excluded.entry_time,
			quantity = excluded.quantity,
			rebuy_percentage = excluded.rebuy_percentage,
			closed = 0,
			updated_at = excluded.updated_at`,
		p.UserID, p.Symbol, p.EntryPrice.String(), p.EntryTime.UTC().Format(timeLayout),
		p.Quantity.String(), p.RebuyPercentage.String(), p.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// ClosePosition marks the record sold.
func (j *Journal) ClosePosition(ctx context.Context, userID, symbol string, at time.Time) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE positions SET closed = 1, quantity = '0', updated_at = ?
		WHERE user_id = ? AND symbol = ?`,
		at.UTC().Format(timeLayout), userID, symbol)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("close position %s/%s: %w", userID, symbol, storage.ErrNotFound)
	}
	return nil
}

// GetPosition reads one record.
func (j *Journal) GetPosition(ctx context.Context, userID, symbol string) (*models.Position, error) {
	var (
		p                             models.Position
		entry, entryAt, qty, pct, upd string
		closed                        int
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT user_id, symbol, entry_price, entry_time, quantity, rebuy_percentage, closed, updated_at
		FROM positions WHERE user_id = ? AND symbol = ?`, userID, symbol).
		Scan(&p.UserID, &p.Symbol, &entry, &entryAt, &qty, &pct, &closed, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query position: %w", err)
	}
	p.Closed = closed != 0
	if err := parseAll(
		parseDecimal(entry, &p.EntryPrice),
		parseTime(entryAt, &p.EntryTime),
		parseDecimal(qty, &p.Quantity),
		parseDecimal(pct, &p.RebuyPercentage),
		parseTime(upd, &p.UpdatedAt),
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func parseDecimal(raw string, dst *decimal.Decimal) error {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("decimal %q: %w", raw, err)
	}
	*dst = d
	return nil
}

func parseTime(raw string, dst *time.Time) error {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return fmt.Errorf("time %q: %w", raw, err)
	}
	*dst = t
	return nil
}

func parseAll(errs ...error) error {
	return errors.Join(errs...)
}
