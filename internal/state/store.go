package state

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type monitorEntry struct {
	handle    MonitorHandle
	phase     Phase
	failures  int
	startedAt time.Time
}

type userState struct {
	mu           sync.Mutex
	positions    map[string]*Position
	profitTarget decimal.Decimal
	accumulated  decimal.Decimal
	dayStart     time.Time
	monitors     map[string]*monitorEntry
	buying       map[string]int // in-flight buys per symbol
}

// Store is the trade state of all users.
type Store struct {
	users     sync.Map // userID -> *userState
	dayLength time.Duration
	degradeAt int
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDayLength sets the profit-day length used by RollDay.
func WithDayLength(d time.Duration) Option {
	return func(s *Store) { s.dayLength = d }
}

// WithDegradeThreshold sets how many consecutive failures mark a monitor degraded.
func WithDegradeThreshold(n int) Option {
	return func(s *Store) { s.degradeAt = n }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		dayLength: 24 * time.Hour,
		degradeAt: 3,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// user returns the partition of userID, creating it on first use.
func (s *Store) user(userID string) *userState {
	if u, ok := s.users.Load(userID); ok {
		return u.(*userState)
	}
	fresh := &userState{
		positions: make(map[string]*Position),
		monitors:  make(map[string]*monitorEntry),
		buying:    make(map[string]int),
		dayStart:  s.now(),
	}
	u, _ := s.users.LoadOrStore(userID, fresh)
	return u.(*userState)
}

func (s *Store) existing(userID string) (*userState, bool) {
	u, ok := s.users.Load(userID)
	if !ok {
		return nil, false
	}
	return u.(*userState), true
}

// caller holds u.mu
func (u *userState) owns(symbol string, owner MonitorHandle) bool {
	if owner == nil {
		return true
	}
	e, ok := u.monitors[symbol]
	return ok && e.handle == owner
}

// OpenPosition records a buy. A sold record is replaced by a fresh one, an
// open one absorbs the new quantity at the weighted entry price. When owner
// is non-nil the call is rejected unless owner is the registered monitor.
func (s *Store) OpenPosition(userID, symbol string, price, qty, rebuyPct decimal.Decimal, owner MonitorHandle) (Position, error) {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.owns(symbol, owner) {
		return Position{}, ErrStaleMonitor
	}

	now := s.now()
	cur, ok := u.positions[symbol]
	if ok && !cur.Sold {
		if cur.Selling {
			return Position{}, ErrSellInProgress
		}
		total := cur.Quantity.Add(qty)
		if total.IsPositive() {
			cur.EntryPrice = cur.EntryPrice.Mul(cur.Quantity).Add(price.Mul(qty)).Div(total)
		}
		cur.Quantity = total
		cur.EntryTime = now
		if rebuyPct.IsPositive() {
			cur.RebuyPercentage = rebuyPct
		}
		return *cur, nil
	}

	p := &Position{
		Symbol:          symbol,
		EntryPrice:      price,
		EntryTime:       now,
		Quantity:        qty,
		RebuyPercentage: rebuyPct,
	}
	u.positions[symbol] = p
	return *p, nil
}

// BeginSell claims the open position of symbol for selling. Only one claim can
// be outstanding; it is settled by CompleteSell or AbortSell. No claim is
// granted while a buy of the symbol is in flight.
func (s *Store) BeginSell(userID, symbol string, owner MonitorHandle) (SellClaim, error) {
	u, ok := s.existing(userID)
	if !ok {
		return SellClaim{}, ErrNoOpenPosition
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.owns(symbol, owner) {
		return SellClaim{}, ErrStaleMonitor
	}
	p, ok := u.positions[symbol]
	if !ok || p.Sold {
		return SellClaim{}, ErrNoOpenPosition
	}
	if p.Selling {
		return SellClaim{}, ErrSellInProgress
	}
	if u.buying[symbol] > 0 {
		return SellClaim{}, ErrBuyInProgress
	}
	p.Selling = true
	return SellClaim{UserID: userID, Position: *p, claimed: p}, nil
}

// caller holds u.mu
func (u *userState) claimed(c SellClaim) (*Position, bool) {
	p, ok := u.positions[c.Position.Symbol]
	if !ok || p != c.claimed || !p.Selling || p.Sold {
		return nil, false
	}
	return p, true
}

// CompleteSell marks the claimed acquisition sold at price and books the
// realized profit. A zero price books no profit. It fails with ErrClaimLost
// when the acquisition was closed or replaced since BeginSell.
func (s *Store) CompleteSell(c SellClaim, price decimal.Decimal) (Sale, error) {
	u, ok := s.existing(c.UserID)
	if !ok {
		return Sale{}, ErrClaimLost
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	p, ok := u.claimed(c)
	if !ok {
		return Sale{}, ErrClaimLost
	}

	sale := Sale{Position: *p, Price: price}
	sale.Position.Selling = false
	if price.IsPositive() {
		sale.Realized = price.Sub(p.EntryPrice).Mul(p.Quantity)
		u.accumulated = u.accumulated.Add(sale.Realized)
	}

	p.Sold = true
	p.Selling = false
	p.Quantity = decimal.Zero
	return sale, nil
}

// AbortSell releases a claim after a failed sell order. A lost claim is left
// alone.
func (s *Store) AbortSell(c SellClaim) {
	u, ok := s.existing(c.UserID)
	if !ok {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if p, ok := u.claimed(c); ok {
		p.Selling = false
	}
}

// BeginBuy reserves symbol for a buy. While reserved no sell can be claimed,
// so the fill can always be recorded. Every successful BeginBuy is paired with
// EndBuy.
func (s *Store) BeginBuy(userID, symbol string, owner MonitorHandle) error {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.owns(symbol, owner) {
		return ErrStaleMonitor
	}
	if p, ok := u.positions[symbol]; ok && p.Selling {
		return ErrSellInProgress
	}
	u.buying[symbol]++
	return nil
}

// EndBuy releases a reservation taken by BeginBuy.
func (s *Store) EndBuy(userID, symbol string) {
	u, ok := s.existing(userID)
	if !ok {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.buying[symbol] <= 1 {
		delete(u.buying, symbol)
		return
	}
	u.buying[symbol]--
}

// ConfigureTrade sets the profit target and starts a new profit day.
func (s *Store) ConfigureTrade(userID string, profitTarget decimal.Decimal) {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.profitTarget = profitTarget
	u.accumulated = decimal.Zero
	u.dayStart = s.now()
}

// RollDay resets accumulated profit once the profit day has elapsed. It
// reports whether a rollover happened.
func (s *Store) RollDay(userID string) bool {
	u, ok := s.existing(userID)
	if !ok {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	now := s.now()
	if now.Sub(u.dayStart) < s.dayLength {
		return false
	}
	u.accumulated = decimal.Zero
	u.dayStart = now
	return true
}

// Reset marks every position sold with zero quantity and restarts the
// profit day. It returns the positions that were open, as they were.
// Monitor registrations are left to the scheduler.
func (s *Store) Reset(userID string) []Position {
	u, ok := s.existing(userID)
	if !ok {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	var closed []Position
	for _, p := range u.positions {
		if !p.Sold {
			closed = append(closed, *p)
		}
		p.Sold = true
		p.Selling = false
		p.Quantity = decimal.Zero
	}
	u.accumulated = decimal.Zero
	u.dayStart = s.now()
	sort.Slice(closed, func(i, j int) bool { return closed[i].Symbol < closed[j].Symbol })
	return closed
}

// Position returns a copy of the position of symbol.
func (s *Store) Position(userID, symbol string) (Position, bool) {
	u, ok := s.existing(userID)
	if !ok {
		return Position{}, false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	p, ok := u.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// RebuyPercentage returns the rebuy percentage recorded for symbol.
func (s *Store) RebuyPercentage(userID, symbol string) (decimal.Decimal, bool) {
	p, ok := s.Position(userID, symbol)
	if !ok || !p.RebuyPercentage.IsPositive() {
		return decimal.Zero, false
	}
	return p.RebuyPercentage, true
}

// AccumulatedProfit returns realized profit since the day start.
func (s *Store) AccumulatedProfit(userID string) decimal.Decimal {
	u, ok := s.existing(userID)
	if !ok {
		return decimal.Zero
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.accumulated
}

// ProfitTarget returns the user's daily profit target.
func (s *Store) ProfitTarget(userID string) decimal.Decimal {
	u, ok := s.existing(userID)
	if !ok {
		return decimal.Zero
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.profitTarget
}

// Snapshot copies the user's state. Unknown users yield an empty snapshot.
func (s *Store) Snapshot(userID string) Snapshot {
	snap := Snapshot{UserID: userID}
	u, ok := s.existing(userID)
	if !ok {
		return snap
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	snap.ProfitTarget = u.profitTarget
	snap.AccumulatedProfit = u.accumulated
	snap.DayStart = u.dayStart
	for _, p := range u.positions {
		snap.Positions = append(snap.Positions, *p)
	}
	for symbol, e := range u.monitors {
		snap.Monitors = append(snap.Monitors, MonitorInfo{
			Symbol:    symbol,
			Phase:     e.phase,
			Failures:  e.failures,
			Degraded:  e.failures >= s.degradeAt,
			StartedAt: e.startedAt,
		})
	}
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].Symbol < snap.Positions[j].Symbol })
	sort.Slice(snap.Monitors, func(i, j int) bool { return snap.Monitors[i].Symbol < snap.Monitors[j].Symbol })
	return snap
}

// Users lists every user with a partition.
func (s *Store) Users() []string {
	var out []string
	s.users.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}
