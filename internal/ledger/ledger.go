// Package ledger is the authoritative in-process record of exposure:
// open positions, realized PnL, the daily loss budget, and the halt flag.
// Everything the risk gate reads and everything the store persists comes
// from here.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCorrupt marks persisted ledger state that fails basic consistency
// checks. It is fatal: trading must not start over a corrupt ledger.
var ErrCorrupt = errors.New("ledger state corrupt")

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

type PositionStatus string

const (
	// StatusOpen: exposure is live on the venue.
	StatusOpen PositionStatus = "open"
	// StatusClosing: a close order is in flight; no new touches allowed.
	StatusClosing PositionStatus = "closing"
)

// Position is one open exposure. Quantity is in base asset units,
// SizeFraction is the fraction of equity committed at entry.
type Position struct {
	Symbol       string
	Side         Side
	EntryPrice   float64
	Quantity     float64
	Leverage     int
	SizeFraction float64
	StopLoss     float64
	TakeProfit   float64
	OpenedAt     time.Time
	Status       PositionStatus
	TraceID      string

	// Protective child orders resting on the venue, cancelled when the
	// position goes away.
	StopOrderID       string
	TakeProfitOrderID string
}

// View is a consistent snapshot of the ledger. It is also the shape the
// store persists and recovery restores from.
type View struct {
	EquityUSD       float64             `json:"equity_usd"`
	DayStartEquity  float64             `json:"day_start_equity"`
	Day             string              `json:"day"` // UTC date, 2006-01-02
	DailyRealized   float64             `json:"daily_realized_usd"`
	DailyLossUsed   float64             `json:"daily_loss_used_frac"`
	Halted          bool                `json:"halted"`
	HaltedSince     time.Time           `json:"halted_since,omitempty"`
	Frozen          bool                `json:"frozen,omitempty"`
	FrozenReason    string              `json:"frozen_reason,omitempty"`
	Positions       map[string]Position `json:"positions"`
	AppliedFillIDs  []string            `json:"applied_fill_ids"`
	TotalRealized   float64             `json:"total_realized_usd"`
	ClosedTradeWins int                 `json:"closed_trade_wins"`
	ClosedTrades    int                 `json:"closed_trades"`
}

// DayReport summarizes the day that just ended when the UTC date rolls.
type DayReport struct {
	Day          string
	Realized     float64
	LossUsed     float64
	ClosedTrades int
	Wins         int
	WasHalted    bool
	EquityUSD    float64
}

// Ledger is safe for concurrent use. The daily window is anchored to UTC
// midnight and rolled lazily on every entry point.
type Ledger struct {
	mu sync.Mutex

	equity         decimal.Decimal
	dayStartEquity decimal.Decimal
	day            string
	dailyRealized  decimal.Decimal
	dailyLossUsed  decimal.Decimal // fraction of day-start equity
	maxDailyLoss   decimal.Decimal // fraction, halt trigger
	halted         bool
	haltedSince    time.Time

	// frozen is the operator-scoped halt: set on persistence failures and
	// detected invariant violations, never cleared by the day roll.
	frozen       bool
	frozenReason string

	positions    map[string]*Position
	appliedFills map[string]string // fill ID -> UTC day it was booked

	totalRealized decimal.Decimal
	closedTrades  int
	closedWins    int

	now func() time.Time
}

func New(equityUSD, maxDailyLossFrac float64) *Ledger {
	l := &Ledger{
		equity:       decimal.NewFromFloat(equityUSD),
		maxDailyLoss: decimal.NewFromFloat(maxDailyLossFrac),
		positions:    map[string]*Position{},
		appliedFills: map[string]string{},
		now:          time.Now,
	}
	l.dayStartEquity = l.equity
	l.day = dayKey(l.now())
	return l
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Restore replaces all ledger state from a persisted view. Used once at
// startup before any cycle runs. A view that fails consistency checks
// returns ErrCorrupt and leaves the ledger untouched.
func (l *Ledger) Restore(v View) error {
	if err := v.check(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.equity = decimal.NewFromFloat(v.EquityUSD)
	l.dayStartEquity = decimal.NewFromFloat(v.DayStartEquity)
	if l.dayStartEquity.IsZero() {
		l.dayStartEquity = l.equity
	}
	l.day = v.Day
	if l.day == "" {
		l.day = dayKey(l.now())
	}
	l.dailyRealized = decimal.NewFromFloat(v.DailyRealized)
	l.dailyLossUsed = decimal.NewFromFloat(v.DailyLossUsed)
	l.halted = v.Halted
	l.haltedSince = v.HaltedSince
	l.frozen = v.Frozen
	l.frozenReason = v.FrozenReason
	l.totalRealized = decimal.NewFromFloat(v.TotalRealized)
	l.closedTrades = v.ClosedTrades
	l.closedWins = v.ClosedTradeWins
	l.positions = map[string]*Position{}
	for sym, p := range v.Positions {
		cp := p
		l.positions[sym] = &cp
	}
	// Restored IDs get stamped with the restored day; anything older was
	// already pruned before the snapshot was taken.
	l.appliedFills = map[string]string{}
	for _, id := range v.AppliedFillIDs {
		l.appliedFills[id] = l.day
	}
	return nil
}

func (v View) check() error {
	if v.EquityUSD < 0 {
		return fmt.Errorf("%w: negative equity %.2f", ErrCorrupt, v.EquityUSD)
	}
	if v.DailyLossUsed < 0 {
		return fmt.Errorf("%w: negative daily loss used %.4f", ErrCorrupt, v.DailyLossUsed)
	}
	for sym, p := range v.Positions {
		if p.Symbol != sym {
			return fmt.Errorf("%w: position keyed %s carries symbol %s", ErrCorrupt, sym, p.Symbol)
		}
		if p.Quantity <= 0 || p.EntryPrice <= 0 {
			return fmt.Errorf("%w: position %s has qty=%.8f entry=%.8f", ErrCorrupt, sym, p.Quantity, p.EntryPrice)
		}
		if p.Side != SideLong && p.Side != SideShort {
			return fmt.Errorf("%w: position %s has side %q", ErrCorrupt, sym, p.Side)
		}
	}
	return nil
}

// View returns a deep copy of current state, rolling the day first so
// persisted snapshots never carry a stale window.
func (l *Ledger) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()
	return l.viewLocked()
}

func (l *Ledger) viewLocked() View {
	v := View{
		EquityUSD:       l.equity.InexactFloat64(),
		DayStartEquity:  l.dayStartEquity.InexactFloat64(),
		Day:             l.day,
		DailyRealized:   l.dailyRealized.InexactFloat64(),
		DailyLossUsed:   l.dailyLossUsed.InexactFloat64(),
		Halted:          l.halted,
		HaltedSince:     l.haltedSince,
		Frozen:          l.frozen,
		FrozenReason:    l.frozenReason,
		Positions:       map[string]Position{},
		TotalRealized:   l.totalRealized.InexactFloat64(),
		ClosedTrades:    l.closedTrades,
		ClosedTradeWins: l.closedWins,
	}
	for sym, p := range l.positions {
		v.Positions[sym] = *p
	}
	for id := range l.appliedFills {
		v.AppliedFillIDs = append(v.AppliedFillIDs, id)
	}
	return v
}

// RollDay advances the daily window if the UTC date changed, returning a
// report for the day that ended. The halt flag clears with the new day.
func (l *Ledger) RollDay() (DayReport, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rollDayLocked()
}

func (l *Ledger) rollDayLocked() (DayReport, bool) {
	today := dayKey(l.now())
	if today == l.day {
		return DayReport{}, false
	}
	report := DayReport{
		Day:          l.day,
		Realized:     l.dailyRealized.InexactFloat64(),
		LossUsed:     l.dailyLossUsed.InexactFloat64(),
		ClosedTrades: l.closedTrades,
		Wins:         l.closedWins,
		WasHalted:    l.halted,
		EquityUSD:    l.equity.InexactFloat64(),
	}
	l.day = today
	l.dailyRealized = decimal.Zero
	l.dailyLossUsed = decimal.Zero
	l.dayStartEquity = l.equity
	l.halted = false
	l.haltedSince = time.Time{}

	// Fill IDs keep deduping through the day that just ended; anything
	// older is past reconciliation reach and would grow the set forever.
	for id, day := range l.appliedFills {
		if day < report.Day {
			delete(l.appliedFills, id)
		}
	}
	return report, true
}

func (l *Ledger) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equity.InexactFloat64()
}

// SyncEquity overwrites equity with a venue-reported figure.
func (l *Ledger) SyncEquity(usd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.equity = decimal.NewFromFloat(usd)
}

// SetMaxDailyLoss swaps the halt trigger, used by risk policy hot reload.
func (l *Ledger) SetMaxDailyLoss(frac float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxDailyLoss = decimal.NewFromFloat(frac)
}

func (l *Ledger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()
	return l.halted
}

// Freeze halts all new placements until an operator restarts trading.
// Unlike the daily-loss halt, the day roll never clears it.
func (l *Ledger) Freeze(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		return
	}
	l.frozen = true
	l.frozenReason = reason
}

// Unfreeze clears the operator halt and reports whether it was set.
func (l *Ledger) Unfreeze() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.frozen
	l.frozen = false
	l.frozenReason = ""
	return was
}

func (l *Ledger) Frozen() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frozen, l.frozenReason
}

func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

func (l *Ledger) OpenPositionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// ApplyOpenFill records a newly opened position. The fill ID dedupes
// replays after a reconnect; re-applying the same fill is a no-op.
func (l *Ledger) ApplyOpenFill(fillID string, pos Position) (applied bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()
	if _, dup := l.appliedFills[fillID]; dup {
		return false, nil
	}
	if existing, ok := l.positions[pos.Symbol]; ok {
		return false, fmt.Errorf("position already open on %s (%s)", pos.Symbol, existing.Side)
	}
	if pos.Status == "" {
		pos.Status = StatusOpen
	}
	cp := pos
	l.positions[pos.Symbol] = &cp
	l.appliedFills[fillID] = l.day
	return true, nil
}

// BeginClose marks the position as closing so a crashed or ambiguous close
// cannot be doubled up by the next cycle.
func (l *Ledger) BeginClose(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("no open position on %s", symbol)
	}
	p.Status = StatusClosing
	return nil
}

// AbortClose returns a closing position to open after a close order was
// confirmed not to have reached the venue.
func (l *Ledger) AbortClose(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[symbol]; ok && p.Status == StatusClosing {
		p.Status = StatusOpen
	}
}

// FinalizeClose removes the position, books realized PnL against equity
// and the daily window, and trips the halt flag when the daily loss
// budget is exhausted. Idempotent per fill ID.
func (l *Ledger) FinalizeClose(fillID, symbol string, exitPrice, quantity float64) (realized float64, halted bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()
	if _, dup := l.appliedFills[fillID]; dup {
		return 0, l.halted, nil
	}
	p, ok := l.positions[symbol]
	if !ok {
		return 0, l.halted, fmt.Errorf("no open position on %s", symbol)
	}

	exit := decimal.NewFromFloat(exitPrice)
	entry := decimal.NewFromFloat(p.EntryPrice)
	qty := decimal.NewFromFloat(quantity)
	if qty.IsZero() {
		qty = decimal.NewFromFloat(p.Quantity)
	}
	pnl := exit.Sub(entry).Mul(qty)
	if p.Side == SideShort {
		pnl = pnl.Neg()
	}

	delete(l.positions, symbol)
	l.appliedFills[fillID] = l.day
	l.equity = l.equity.Add(pnl)
	l.dailyRealized = l.dailyRealized.Add(pnl)
	l.totalRealized = l.totalRealized.Add(pnl)
	l.closedTrades++
	if pnl.IsPositive() {
		l.closedWins++
	}

	if pnl.IsNegative() && l.dayStartEquity.IsPositive() {
		l.dailyLossUsed = l.dailyLossUsed.Add(pnl.Neg().Div(l.dayStartEquity))
		if !l.halted && l.dailyLossUsed.GreaterThanOrEqual(l.maxDailyLoss) {
			l.halted = true
			l.haltedSince = l.now()
		}
	}
	return pnl.InexactFloat64(), l.halted, nil
}
