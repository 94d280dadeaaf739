// internal/bot/commands.go
package bot

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradingCommand is a request to the orchestrator.
type TradingCommand interface {
	GetType() string
	GetUserID() string
	Validate() error
}

// StartTradeCommand opens a position and starts monitoring it.
type StartTradeCommand struct {
	UserID       string          `json:"-"`
	Symbol       string          `json:"symbol"`
	Notional     decimal.Decimal `json:"notional"`
	RebuyPct     decimal.Decimal `json:"rebuy_percentage"`
	ProfitTarget decimal.Decimal `json:"profit_target"`
}

func (c StartTradeCommand) GetType() string   { return "start_trade" }
func (c StartTradeCommand) GetUserID() string { return c.UserID }

func (c StartTradeCommand) Validate() error {
	return firstErr(
		validateUser(c.UserID),
		validateSymbol(exchange.NormalizeSymbol(c.Symbol)),
		validateNotional(c.Notional),
		validateRebuyPct(c.RebuyPct),
		validateProfitTarget(c.ProfitTarget),
	)
}

// BuyNowCommand adds to a position without touching the profit day.
type BuyNowCommand struct {
	UserID   string          `json:"-"`
	Symbol   string          `json:"symbol"`
	Notional decimal.Decimal `json:"notional"`
}

func (c BuyNowCommand) GetType() string   { return "buy_now" }
func (c BuyNowCommand) GetUserID() string { return c.UserID }

func (c BuyNowCommand) Validate() error {
	return firstErr(
		validateUser(c.UserID),
		validateSymbol(exchange.NormalizeSymbol(c.Symbol)),
		validateNotional(c.Notional),
	)
}

// SellNowCommand sells a position immediately.
type SellNowCommand struct {
	UserID string `json:"-"`
	Symbol string `json:"symbol"`
}

func (c SellNowCommand) GetType() string   { return "sell_now" }
func (c SellNowCommand) GetUserID() string { return c.UserID }

func (c SellNowCommand) Validate() error {
	return firstErr(validateUser(c.UserID), validateSymbol(exchange.NormalizeSymbol(c.Symbol)))
}

// StopTradeCommand stops all trading for a user.
type StopTradeCommand struct {
	UserID string `json:"-"`
}

func (c StopTradeCommand) GetType() string   { return "stop_trade" }
func (c StopTradeCommand) GetUserID() string { return c.UserID }
func (c StopTradeCommand) Validate() error   { return validateUser(c.UserID) }

// CommandHandler executes one command type.
type CommandHandler interface {
	Handle(ctx context.Context, cmd TradingCommand) (any, error)
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd TradingCommand) (any, error)

func (f CommandHandlerFunc) Handle(ctx context.Context, cmd TradingCommand) (any, error) {
	return f(ctx, cmd)
}

// CommandBus routes commands to their handler by GetType.
type CommandBus struct {
	handlers map[string]CommandHandler
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewCommandBus creates an empty bus.
func NewCommandBus(logger *zap.Logger) *CommandBus {
	return &CommandBus{
		handlers: make(map[string]CommandHandler),
		logger:   logger.Named("command_bus"),
	}
}

// RegisterHandler registers handler for the type of cmd.
func (bus *CommandBus) RegisterHandler(cmd TradingCommand, handler CommandHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.handlers[cmd.GetType()] = handler
	bus.logger.Debug("Command handler registered", zap.String("command_type", cmd.GetType()))
}

// Send validates cmd and runs its handler.
func (bus *CommandBus) Send(ctx context.Context, cmd TradingCommand) (any, error) {
	if err := cmd.Validate(); err != nil {
		bus.logger.Warn("Command validation failed",
			zap.String("command_type", cmd.GetType()),
			zap.String("user_id", cmd.GetUserID()),
			zap.Error(err))
		return nil, err
	}

	bus.mu.RLock()
	handler, exists := bus.handlers[cmd.GetType()]
	bus.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no handler registered for command type: %s", cmd.GetType())
	}

	bus.logger.Info("Executing command",
		zap.String("command_type", cmd.GetType()),
		zap.String("user_id", cmd.GetUserID()))

	result, err := handler.Handle(ctx, cmd)
	if err != nil {
		bus.logger.Error("Command execution failed",
			zap.String("command_type", cmd.GetType()),
			zap.String("user_id", cmd.GetUserID()),
			zap.Error(err))
		return nil, fmt.Errorf("%s: %w", cmd.GetType(), err)
	}
	return result, nil
}

// GetRegisteredHandlers lists the command types with a handler.
func (bus *CommandBus) GetRegisteredHandlers() []string {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	out := make([]string, 0, len(bus.handlers))
	for typ := range bus.handlers {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// RegisterCommands binds every trading command to o.
func (o *Orchestrator) RegisterCommands(bus *CommandBus) {
	bus.RegisterHandler(StartTradeCommand{}, CommandHandlerFunc(func(ctx context.Context, cmd TradingCommand) (any, error) {
		c, ok := cmd.(StartTradeCommand)
		if !ok {
			return nil, fmt.Errorf("unexpected command %T", cmd)
		}
		return o.StartTrade(ctx, c.UserID, c.Symbol, c.Notional, c.RebuyPct, c.ProfitTarget)
	}))
	bus.RegisterHandler(BuyNowCommand{}, CommandHandlerFunc(func(ctx context.Context, cmd TradingCommand) (any, error) {
		c, ok := cmd.(BuyNowCommand)
		if !ok {
			return nil, fmt.Errorf("unexpected command %T", cmd)
		}
		return o.BuyNow(ctx, c.UserID, c.Symbol, c.Notional)
	}))
	bus.RegisterHandler(SellNowCommand{}, CommandHandlerFunc(func(ctx context.Context, cmd TradingCommand) (any, error) {
		c, ok := cmd.(SellNowCommand)
		if !ok {
			return nil, fmt.Errorf("unexpected command %T", cmd)
		}
		return nil, o.SellNow(ctx, c.UserID, c.Symbol)
	}))
	bus.RegisterHandler(StopTradeCommand{}, CommandHandlerFunc(func(ctx context.Context, cmd TradingCommand) (any, error) {
		return nil, o.StopTrade(ctx, cmd.GetUserID())
	}))
}
