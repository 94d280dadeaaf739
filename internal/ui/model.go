// Package ui is the live terminal dashboard of every user's trading state.
package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rovshanmuradov/spot-trading-bot/internal/bot"
	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/rovshanmuradov/spot-trading-bot/internal/logger"
	"github.com/rovshanmuradov/spot-trading-bot/internal/strategy"
	"github.com/shopspring/decimal"
)

// StatusSource reads trading state.
type StatusSource interface {
	Users() []string
	GetStatus(ctx context.Context, userID string) bot.Status
}

// Seller closes a position on request.
type Seller interface {
	SellNow(ctx context.Context, userID, symbol string) error
}

// Options configure the dashboard. Only Source is required.
type Options struct {
	Source  StatusSource
	Seller  Seller
	Prices  exchange.PriceFeed // enables the price and unrealized columns
	Logs    *logger.LogBuffer
	Refresh time.Duration
}

// Model is the bubbletea model of the dashboard.
type Model struct {
	opts     Options
	keys     KeyMap
	help     help.Model
	table    table.Model
	users    []string
	statuses map[string]bot.Status
	prices   map[string]decimal.Decimal
	current  int
	showLogs bool
	notice   string
	width    int
	height   int
}

var columns = []table.Column{
	{Title: "Symbol", Width: 12},
	{Title: "Phase", Width: 12},
	{Title: "Entry", Width: 12},
	{Title: "Qty", Width: 12},
	{Title: "Price", Width: 12},
	{Title: "Unrealized", Width: 12},
	{Title: "Failures", Width: 9},
	{Title: "Rebuy %", Width: 8},
}

// New creates the dashboard model.
func New(opts Options) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = time.Second
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(muted).
		BorderBottom(true).
		Foreground(magenta).
		Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("#1B1D23")).Background(cyan).Bold(false)
	t.SetStyles(s)

	return Model{
		opts:     opts,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		table:    t,
		statuses: make(map[string]bot.Status),
		prices:   make(map[string]decimal.Decimal),
		showLogs: opts.Logs != nil,
	}
}

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// refresh reads every user's status off the UI goroutine.
func (m Model) refresh() tea.Cmd {
	src := m.opts.Source
	return func() tea.Msg {
		ctx := context.Background()
		users := src.Users()
		sort.Strings(users)
		out := statusMsg{users: users, statuses: make(map[string]bot.Status, len(users))}
		for _, u := range users {
			out.statuses[u] = src.GetStatus(ctx, u)
		}
		return out
	}
}

// quotes fetches prices for the open positions of user.
func (m Model) quotes(st bot.Status) tea.Cmd {
	feed := m.opts.Prices
	if feed == nil {
		return nil
	}
	var symbols []string
	for _, p := range st.Positions {
		if !p.Sold {
			symbols = append(symbols, p.Symbol)
		}
	}
	if len(symbols) == 0 {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		msg := priceMsg{}
		for _, sym := range symbols {
			if p, err := feed.GetLastPrice(ctx, sym); err == nil {
				msg[sym] = p
			}
		}
		return msg
	}
}

// priceMsg maps symbols to their last price.
type priceMsg map[string]decimal.Decimal

func (m Model) sell(userID, symbol string) tea.Cmd {
	seller := m.opts.Seller
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return sellDoneMsg{userID: userID, symbol: symbol, err: seller.SellNow(ctx, userID, symbol)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.table.SetHeight(max(3, msg.Height/2))
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())

	case statusMsg:
		m.users = msg.users
		m.statuses = msg.statuses
		if m.current >= len(m.users) {
			m.current = 0
		}
		m.rebuildRows()
		if u, ok := m.currentUser(); ok {
			return m, m.quotes(m.statuses[u])
		}
		return m, nil

	case priceMsg:
		for sym, p := range msg {
			m.prices[sym] = p
		}
		m.rebuildRows()
		return m, nil

	case sellDoneMsg:
		if msg.err != nil {
			m.notice = errorStyle.Render(fmt.Sprintf("sell %s failed: %v", msg.symbol, msg.err))
		} else {
			m.notice = profitStyle.Render(fmt.Sprintf("sell %s submitted", msg.symbol))
		}
		return m, m.refresh()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.NextUser):
			m.switchUser(1)
			return m, m.refresh()
		case key.Matches(msg, m.keys.PrevUser):
			m.switchUser(-1)
			return m, m.refresh()
		case key.Matches(msg, m.keys.Refresh):
			return m, m.refresh()
		case key.Matches(msg, m.keys.ToggleLogs):
			m.showLogs = !m.showLogs && m.opts.Logs != nil
			return m, nil
		case key.Matches(msg, m.keys.Sell):
			return m, m.sellSelected()
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) switchUser(delta int) {
	if len(m.users) == 0 {
		return
	}
	m.current = (m.current + delta + len(m.users)) % len(m.users)
	m.table.SetCursor(0)
	m.rebuildRows()
}

func (m *Model) sellSelected() tea.Cmd {
	if m.opts.Seller == nil {
		m.notice = warnStyle.Render("selling is disabled")
		return nil
	}
	u, ok := m.currentUser()
	row := m.table.SelectedRow()
	if !ok || row == nil {
		return nil
	}
	m.notice = warnStyle.Render("selling " + row[0] + "…")
	return m.sell(u, row[0])
}

func (m Model) currentUser() (string, bool) {
	if len(m.users) == 0 {
		return "", false
	}
	return m.users[m.current], true
}

func (m *Model) rebuildRows() {
	u, ok := m.currentUser()
	if !ok {
		m.table.SetRows(nil)
		return
	}
	m.table.SetRows(rows(m.statuses[u], m.prices))
}

// rows renders the open positions of st. Sold positions are hidden.
func rows(st bot.Status, prices map[string]decimal.Decimal) []table.Row {
	var out []table.Row
	for _, p := range st.Positions {
		if p.Sold {
			continue
		}
		phase, failures := "-", "0"
		if mon, ok := st.Monitor(p.Symbol); ok {
			phase = mon.Phase
			failures = fmt.Sprint(mon.Failures)
			if mon.Degraded {
				failures += "!"
			}
		}
		price, unrealized := "-", "-"
		if cur, ok := prices[p.Symbol]; ok {
			price = cur.String()
			unrealized = strategy.UnrealizedProfit(p.EntryPrice, cur, p.Quantity).StringFixed(2)
		}
		out = append(out, table.Row{
			p.Symbol,
			phase,
			p.EntryPrice.String(),
			p.Quantity.String(),
			price,
			unrealized,
			failures,
			p.RebuyPercentage.String(),
		})
	}
	// symbols in cooldown or rebuy watch have no open position
	for _, mon := range st.Monitors {
		if pos, ok := st.Position(mon.Symbol); ok && !pos.Sold {
			continue
		}
		out = append(out, table.Row{mon.Symbol, mon.Phase, "-", "0", "-", "-", fmt.Sprint(mon.Failures), "-"})
	}
	return out
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("SPOT TRADING BOT"))
	b.WriteString("\n")
	b.WriteString(m.userTabs())
	b.WriteString("\n\n")

	u, ok := m.currentUser()
	if !ok {
		b.WriteString(mutedStyle.Render("No users are trading yet."))
		b.WriteString("\n\n")
		b.WriteString(m.help.View(m.keys))
		return b.String()
	}

	b.WriteString(summary(m.statuses[u]))
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString(m.notice)
		b.WriteString("\n")
	}
	if m.showLogs {
		b.WriteString(m.logPane())
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) userTabs() string {
	tabs := make([]string, 0, len(m.users))
	for i, u := range m.users {
		if i == m.current {
			tabs = append(tabs, selectedUser.Render(u))
		} else {
			tabs = append(tabs, mutedStyle.Render(u))
		}
	}
	return headerStyle.Render("Users: ") + strings.Join(tabs, "  ")
}

func summary(st bot.Status) string {
	profit := st.AccumulatedProfit.StringFixed(2)
	if st.AccumulatedProfit.IsNegative() {
		profit = lossStyle.Render(profit)
	} else {
		profit = profitStyle.Render(profit)
	}
	target := "none"
	if st.ProfitTarget.IsPositive() {
		target = st.ProfitTarget.StringFixed(2)
	}
	day := "-"
	if !st.DayStart.IsZero() {
		day = st.DayStart.Format("2006-01-02 15:04")
	}
	return fmt.Sprintf("%s %s   %s %s   %s %s   %s %d",
		headerStyle.Render("Profit:"), profit,
		headerStyle.Render("Target:"), textStyle.Render(target),
		headerStyle.Render("Day start:"), textStyle.Render(day),
		headerStyle.Render("Monitors:"), len(st.ActiveMonitors))
}

func (m Model) logPane() string {
	lines := m.opts.Logs.Recent(8)
	if len(lines) == 0 {
		lines = []string{"no log lines yet"}
	}
	width := m.width - 4
	for i, l := range lines {
		if width > 10 && len(l) > width {
			lines[i] = l[:width-1] + "…"
		}
	}
	return paneStyle.Render(mutedStyle.Render(strings.Join(lines, "\n")))
}
