package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrSymbolUnavailable is returned for unknown or halted symbols.
	ErrSymbolUnavailable = errors.New("symbol unavailable")

	// ErrInvalidPriceData is returned when the feed yields a non-positive or unparsable price.
	ErrInvalidPriceData = errors.New("invalid price data")

	// ErrInsufficientFunds is returned when the exchange rejects an order for lack of balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrExchangeRejected is returned for any other order rejection.
	ErrExchangeRejected = errors.New("exchange rejected request")

	// ErrNetwork covers transport failures and timeouts.
	ErrNetwork = errors.New("network error")

	// ErrCredentialsMissing is returned when a user has no API credentials.
	ErrCredentialsMissing = errors.New("credentials missing")
)

// Error carries the failing operation and symbol and unwraps to one of the
// sentinel kinds above.
type Error struct {
	Kind   error
	Op     string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Symbol, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Symbol, e.Kind)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an *Error.
func NewError(kind error, op, symbol string, err error) error {
	return &Error{Kind: kind, Op: op, Symbol: symbol, Err: err}
}

// IsTransient reports whether err is worth retrying on the next poll.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrInvalidPriceData)
}
