package ui

import (
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/bot"
)

// tickMsg drives periodic refresh.
type tickMsg time.Time

// statusMsg carries freshly read state.
type statusMsg struct {
	users    []string
	statuses map[string]bot.Status
}

// sellDoneMsg reports a dashboard initiated SellNow.
type sellDoneMsg struct {
	userID string
	symbol string
	err    error
}
