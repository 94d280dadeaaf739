package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/storage/models"
)

// CSVHeaders are the columns written by WriteCSV.
var CSVHeaders = []string{"id", "created_at", "user_id", "symbol", "side", "source", "price", "quantity", "notional", "realized"}

// WriteCSV writes trades as CSV with a header row.
func WriteCSV(w io.Writer, trades []*models.Trade) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(CSVHeaders); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, t := range trades {
		row := []string{
			t.ID,
			t.CreatedAt.UTC().Format(time.RFC3339),
			t.UserID,
			t.Symbol,
			t.Side,
			t.Source,
			t.Price.String(),
			t.Quantity.String(),
			t.Notional.String(),
			t.Realized.String(),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write trade %s: %w", t.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
