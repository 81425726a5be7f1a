package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"quorum/internal/ledger"
	"quorum/internal/market"
)

// SymbolStatus is the per-symbol slice of Status.
type SymbolStatus struct {
	Symbol          string    `json:"symbol"`
	Breaker         string    `json:"breaker"`
	LastCycle       time.Time `json:"last_cycle,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	PendingOrder    bool      `json:"pending_order"`
	HasOpenPosition bool      `json:"has_open_position"`
}

// Status is the operator view served by the HTTP API.
type Status struct {
	Running       bool           `json:"running"`
	Venue         string         `json:"venue"`
	Interval      string         `json:"interval"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	EquityUSD     float64        `json:"equity_usd"`
	DailyRealized float64        `json:"daily_realized_usd"`
	DailyLossUsed float64        `json:"daily_loss_used_frac"`
	Halted        bool           `json:"halted"`
	HaltedSince   *time.Time     `json:"halted_since,omitempty"`
	Frozen        bool           `json:"frozen"`
	FrozenReason  string         `json:"frozen_reason,omitempty"`
	OpenPositions int            `json:"open_positions"`
	Symbols       []SymbolStatus `json:"symbols"`
}

func (e *Engine) Status() Status {
	view := e.deps.Book.View()

	e.mu.Lock()
	s := Status{
		Running:       e.running,
		Venue:         e.deps.Venue.Name(),
		Interval:      e.interval.String(),
		EquityUSD:     view.EquityUSD,
		DailyRealized: view.DailyRealized,
		DailyLossUsed: view.DailyLossUsed,
		Halted:        view.Halted,
		HaltedSince:   haltedSince(view),
		Frozen:        view.Frozen,
		FrozenReason:  view.FrozenReason,
		OpenPositions: len(view.Positions),
	}
	if e.running {
		s.UptimeSeconds = int64(time.Since(e.startedAt).Seconds())
	}
	e.mu.Unlock()

	for sym, st := range e.symbols {
		_, hasPos := view.Positions[sym]
		lastCycle, lastErr := st.recent()
		s.Symbols = append(s.Symbols, SymbolStatus{
			Symbol:          sym,
			Breaker:         st.breaker.State().String(),
			LastCycle:       lastCycle,
			LastError:       lastErr,
			PendingOrder:    e.deps.Machine.NeedsReconcile(sym),
			HasOpenPosition: hasPos,
		})
	}
	sort.Slice(s.Symbols, func(i, j int) bool { return s.Symbols[i].Symbol < s.Symbols[j].Symbol })
	return s
}

// Positions lists open positions sorted by symbol.
func (e *Engine) Positions() []ledger.Position {
	view := e.deps.Book.View()
	out := make([]ledger.Position, 0, len(view.Positions))
	for _, p := range view.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// DailyStats is the current UTC day's running tally.
type DailyStats struct {
	Day           string     `json:"day"`
	RealizedUSD   float64    `json:"realized_usd"`
	LossUsedFrac  float64    `json:"loss_used_frac"`
	Halted        bool       `json:"halted"`
	HaltedSince   *time.Time `json:"halted_since,omitempty"`
	ClosedTrades  int        `json:"closed_trades"`
	Wins          int        `json:"wins"`
	EquityUSD     float64    `json:"equity_usd"`
	TotalRealized float64    `json:"total_realized_usd"`
}

func (e *Engine) DailyStats() DailyStats {
	view := e.deps.Book.View()
	return DailyStats{
		Day:           view.Day,
		RealizedUSD:   view.DailyRealized,
		LossUsedFrac:  view.DailyLossUsed,
		Halted:        view.Halted,
		HaltedSince:   haltedSince(view),
		ClosedTrades:  view.ClosedTrades,
		Wins:          view.ClosedTradeWins,
		EquityUSD:     view.EquityUSD,
		TotalRealized: view.TotalRealized,
	}
}

// haltedSince is nil unless the halt flag is up with a known start.
func haltedSince(view ledger.View) *time.Time {
	if !view.Halted || view.HaltedSince.IsZero() {
		return nil
	}
	ts := view.HaltedSince
	return &ts
}

// MarketSnapshot fetches a fresh snapshot on demand for the API. The
// symbol must be one the engine trades.
func (e *Engine) MarketSnapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	if _, ok := e.symbols[symbol]; !ok {
		return market.Snapshot{}, fmt.Errorf("unknown symbol %q", symbol)
	}
	return e.deps.Source.GetSnapshot(ctx, symbol)
}
