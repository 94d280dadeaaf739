package bot

import (
	"errors"
	"fmt"

	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidArgument wraps every validation failure.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInsufficientBalance is returned when the requested notional exceeds
	// the free quote balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

var hundred = decimal.NewFromInt(100)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func validateUser(userID string) error {
	if userID == "" {
		return invalid("user_id cannot be empty")
	}
	return nil
}

func validateSymbol(symbol string) error {
	if err := exchange.ValidateSymbol(symbol); err != nil {
		return invalid("%v", err)
	}
	return nil
}

func validateNotional(notional decimal.Decimal) error {
	if !notional.IsPositive() {
		return invalid("notional must be positive, got %s", notional)
	}
	return nil
}

func validateRebuyPct(pct decimal.Decimal) error {
	if !pct.IsPositive() || pct.GreaterThan(hundred) {
		return invalid("rebuy percentage must be in (0, 100], got %s", pct)
	}
	return nil
}

func validateProfitTarget(target decimal.Decimal) error {
	if !target.IsPositive() {
		return invalid("profit target must be positive, got %s", target)
	}
	return nil
}
