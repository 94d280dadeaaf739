package exchange

import (
	"fmt"
	"strings"
)

// Symbols use the BASE_QUOTE form, e.g. "BTC_USDT".

// SplitSymbol returns the base and quote currencies of symbol.
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed symbol %q, want BASE_QUOTE", symbol)
	}
	return parts[0], parts[1], nil
}

// QuoteCurrency returns the quote side of symbol or "" when malformed.
func QuoteCurrency(symbol string) string {
	_, quote, err := SplitSymbol(symbol)
	if err != nil {
		return ""
	}
	return quote
}

// NormalizeSymbol upper-cases and trims symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateSymbol rejects anything that is not BASE_QUOTE.
func ValidateSymbol(symbol string) error {
	_, _, err := SplitSymbol(symbol)
	return err
}
