package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testPosition(symbol string, side Side, entry, qty float64) Position {
	return Position{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		Quantity:   qty,
		Leverage:   5,
		OpenedAt:   time.Now(),
		Status:     StatusOpen,
	}
}

func TestOpenAndCloseRealizesPnL(t *testing.T) {
	l := New(10000, 0.02)
	applied, err := l.ApplyOpenFill("fill-1", testPosition("BTCUSDT", SideLong, 50000, 0.01))
	assert.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, l.OpenPositionCount())

	assert.NoError(t, l.BeginClose("BTCUSDT"))
	realized, halted, err := l.FinalizeClose("fill-2", "BTCUSDT", 51000, 0.01)
	assert.NoError(t, err)
	assert.False(t, halted)
	assert.InDelta(t, 10.0, realized, 1e-9)
	assert.InDelta(t, 10010.0, l.Equity(), 1e-9)
	assert.Equal(t, 0, l.OpenPositionCount())
}

func TestShortSideSignFlips(t *testing.T) {
	l := New(10000, 0.02)
	_, err := l.ApplyOpenFill("f1", testPosition("ETHUSDT", SideShort, 3000, 1))
	assert.NoError(t, err)
	realized, _, err := l.FinalizeClose("f2", "ETHUSDT", 2900, 1)
	assert.NoError(t, err)
	assert.InDelta(t, 100.0, realized, 1e-9)
}

func TestDuplicateFillIsNoOp(t *testing.T) {
	l := New(10000, 0.02)
	applied, err := l.ApplyOpenFill("f1", testPosition("BTCUSDT", SideLong, 50000, 0.01))
	assert.NoError(t, err)
	assert.True(t, applied)
	applied, err = l.ApplyOpenFill("f1", testPosition("BTCUSDT", SideLong, 50000, 0.01))
	assert.NoError(t, err)
	assert.False(t, applied)

	_, _, err = l.FinalizeClose("f2", "BTCUSDT", 49000, 0.01)
	assert.NoError(t, err)
	// Replaying the close fill changes nothing.
	realized, _, err := l.FinalizeClose("f2", "BTCUSDT", 49000, 0.01)
	assert.NoError(t, err)
	assert.Zero(t, realized)
	assert.InDelta(t, 9990.0, l.Equity(), 1e-9)
}

func TestSecondPositionOnSymbolRejected(t *testing.T) {
	l := New(10000, 0.02)
	_, err := l.ApplyOpenFill("f1", testPosition("BTCUSDT", SideLong, 50000, 0.01))
	assert.NoError(t, err)
	_, err = l.ApplyOpenFill("f2", testPosition("BTCUSDT", SideShort, 50000, 0.01))
	assert.Error(t, err)
}

func TestDailyLossBudgetHalts(t *testing.T) {
	l := New(10000, 0.02) // budget: 200 USD of losses per day
	_, err := l.ApplyOpenFill("f1", testPosition("BTCUSDT", SideLong, 50000, 0.05))
	assert.NoError(t, err)

	// Lose 250 on one trade: budget exhausted, ledger halts.
	_, halted, err := l.FinalizeClose("f2", "BTCUSDT", 45000, 0.05)
	assert.NoError(t, err)
	assert.True(t, halted)
	assert.True(t, l.Halted())

	v := l.View()
	assert.True(t, v.Halted)
	assert.InDelta(t, 0.025, v.DailyLossUsed, 1e-9)
}

func TestHaltClearsOnDayRoll(t *testing.T) {
	l := New(10000, 0.02)
	_, err := l.ApplyOpenFill("f1", testPosition("BTCUSDT", SideLong, 50000, 0.05))
	assert.NoError(t, err)
	_, halted, err := l.FinalizeClose("f2", "BTCUSDT", 45000, 0.05)
	assert.NoError(t, err)
	assert.True(t, halted)

	// Jump the clock past UTC midnight.
	l.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	report, rolled := l.RollDay()
	assert.True(t, rolled)
	assert.True(t, report.WasHalted)
	assert.InDelta(t, -250.0, report.Realized, 1e-9)
	assert.Equal(t, 1, report.ClosedTrades)
	assert.False(t, l.Halted())

	v := l.View()
	assert.Zero(t, v.DailyRealized)
	assert.Zero(t, v.DailyLossUsed)
	// The new window measures losses against the reduced equity.
	assert.InDelta(t, 9750.0, v.DayStartEquity, 1e-9)
}

func TestClosingStatusBlocksAndAborts(t *testing.T) {
	l := New(10000, 0.02)
	_, err := l.ApplyOpenFill("f1", testPosition("BTCUSDT", SideLong, 50000, 0.01))
	assert.NoError(t, err)
	assert.NoError(t, l.BeginClose("BTCUSDT"))
	p, ok := l.Position("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, StatusClosing, p.Status)

	l.AbortClose("BTCUSDT")
	p, _ = l.Position("BTCUSDT")
	assert.Equal(t, StatusOpen, p.Status)
}

func TestRestoreRoundTrip(t *testing.T) {
	l := New(10000, 0.02)
	_, err := l.ApplyOpenFill("f1", testPosition("BTCUSDT", SideLong, 50000, 0.01))
	assert.NoError(t, err)
	v := l.View()

	restored := New(0, 0.02)
	assert.NoError(t, restored.Restore(v))
	assert.InDelta(t, 10000.0, restored.Equity(), 1e-9)
	p, ok := restored.Position("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, SideLong, p.Side)

	// Fill replay protection survives the round trip.
	applied, err := restored.ApplyOpenFill("f1", testPosition("ETHUSDT", SideLong, 3000, 1))
	assert.NoError(t, err)
	assert.False(t, applied)
}

func TestRestoreRejectsCorruptState(t *testing.T) {
	tests := []struct {
		name string
		view View
	}{
		{"negative equity", View{EquityUSD: -1}},
		{"negative loss used", View{EquityUSD: 100, DailyLossUsed: -0.1}},
		{"mismatched position key", View{EquityUSD: 100, Positions: map[string]Position{
			"BTCUSDT": {Symbol: "ETHUSDT", Side: SideLong, EntryPrice: 50000, Quantity: 0.01},
		}}},
		{"zero quantity position", View{EquityUSD: 100, Positions: map[string]Position{
			"BTCUSDT": {Symbol: "BTCUSDT", Side: SideLong, EntryPrice: 50000, Quantity: 0},
		}}},
		{"bad side", View{EquityUSD: 100, Positions: map[string]Position{
			"BTCUSDT": {Symbol: "BTCUSDT", Side: "sideways", EntryPrice: 50000, Quantity: 0.01},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(10000, 0.02)
			err := l.Restore(tt.view)
			assert.ErrorIs(t, err, ErrCorrupt)
			// The ledger keeps its constructor state.
			assert.InDelta(t, 10000.0, l.Equity(), 1e-9)
		})
	}
}

func TestAppliedFillIDsPruneAfterDayRoll(t *testing.T) {
	l := New(10000, 0.02)
	_, err := l.ApplyOpenFill("f1", testPosition("BTCUSDT", SideLong, 50000, 0.01))
	assert.NoError(t, err)
	_, _, err = l.FinalizeClose("f2", "BTCUSDT", 51000, 0.01)
	assert.NoError(t, err)
	assert.Len(t, l.View().AppliedFillIDs, 2)

	// One roll later the IDs still dedupe replays from the ended day.
	l.now = func() time.Time { return time.Now().UTC().Add(24 * time.Hour) }
	_, rolled := l.RollDay()
	assert.True(t, rolled)
	realized, _, err := l.FinalizeClose("f2", "BTCUSDT", 51000, 0.01)
	assert.NoError(t, err)
	assert.Zero(t, realized)
	assert.Len(t, l.View().AppliedFillIDs, 2)

	// A second roll prunes them; the set does not grow without bound.
	l.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	_, rolled = l.RollDay()
	assert.True(t, rolled)
	assert.Empty(t, l.View().AppliedFillIDs)
	applied, err := l.ApplyOpenFill("f1", testPosition("BTCUSDT", SideLong, 50000, 0.01))
	assert.NoError(t, err)
	assert.True(t, applied)
}

func TestFreezeSurvivesDayRollUntilUnfrozen(t *testing.T) {
	l := New(10000, 0.02)
	l.Freeze("persistence failure: disk full")
	frozen, reason := l.Frozen()
	assert.True(t, frozen)
	assert.Equal(t, "persistence failure: disk full", reason)

	l.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	_, rolled := l.RollDay()
	assert.True(t, rolled)
	frozen, _ = l.Frozen()
	assert.True(t, frozen)
	assert.True(t, l.View().Frozen)

	assert.True(t, l.Unfreeze())
	frozen, _ = l.Frozen()
	assert.False(t, frozen)
	assert.False(t, l.Unfreeze())
}
