package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quorum/internal/config"
	"quorum/internal/ensemble"
	"quorum/internal/execution"
	"quorum/internal/gateway/notifier"
	"quorum/internal/gateway/venue"
	"quorum/internal/ledger"
	"quorum/internal/market"
	"quorum/internal/risk"
	"quorum/internal/signal"
	"quorum/internal/store"

	"github.com/stretchr/testify/assert"
)

type stubSource struct {
	mu   sync.Mutex
	snap market.Snapshot
	err  error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) GetSnapshot(_ context.Context, symbol string) (market.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return market.Snapshot{}, s.err
	}
	snap := s.snap
	snap.Symbol = symbol
	return snap, nil
}

func (s *stubSource) set(snap market.Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

type stubProvider struct {
	id string
	op signal.Opinion
}

func (p *stubProvider) ID() string { return p.id }

func (p *stubProvider) Evaluate(context.Context, market.Snapshot) (signal.Opinion, error) {
	return p.op, nil
}

type memStore struct {
	mu      sync.Mutex
	state   *ledger.View
	audits  []store.AuditRecord
	trades  []store.ClosedTrade
	saveErr error
}

func (m *memStore) SaveState(_ context.Context, v ledger.View) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = &v
	return nil
}

func (m *memStore) LoadState(context.Context) (ledger.View, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return ledger.View{}, false, nil
	}
	return *m.state, true, nil
}

func (m *memStore) AppendAudit(_ context.Context, rec store.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, rec)
	return nil
}

func (m *memStore) RecentAudits(context.Context, string, int) ([]store.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.AuditRecord(nil), m.audits...), nil
}

func (m *memStore) RecordClosedTrade(_ context.Context, t store.ClosedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

func (m *memStore) RecentClosedTrades(context.Context, int) ([]store.ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.ClosedTrade(nil), m.trades...), nil
}

func (m *memStore) Close() error { return nil }

type captureNotifier struct {
	mu    sync.Mutex
	kinds []notifier.Kind
}

func (c *captureNotifier) Notify(kind notifier.Kind, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, kind)
	return nil
}

func (c *captureNotifier) has(kind notifier.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type fixture struct {
	engine *Engine
	source *stubSource
	paper  *venue.Paper
	book   *ledger.Ledger
	store  *memStore
	notify *captureNotifier
	p1     *stubProvider
	p2     *stubProvider
}

func freshSnap(price float64) market.Snapshot {
	return market.Snapshot{
		Timestamp:  time.Now(),
		Price:      price,
		Volume:     1000,
		Indicators: map[string]float64{market.IndRSI: 50},
	}
}

func newEngineFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		source: &stubSource{},
		paper:  venue.NewPaper(10000),
		book:   ledger.New(10000, 0.02),
		store:  &memStore{},
		notify: &captureNotifier{},
		p1:     &stubProvider{id: "a", op: signal.Opinion{Call: signal.CallLong, Confidence: 0.9}},
		p2:     &stubProvider{id: "b", op: signal.Opinion{Call: signal.CallLong, Confidence: 0.9}},
	}
	f.source.set(freshSnap(50000))

	runner := signal.NewRunner([]signal.Adapter{
		{Provider: f.p1, Weight: 1, Timeout: time.Second},
		{Provider: f.p2, Weight: 1, Timeout: time.Second},
	})
	agg := ensemble.NewAggregator(ensemble.Config{
		QuorumMinimum:       2,
		ConfidenceThreshold: 0.3,
		TieEpsilon:          0.01,
		DefaultSize:         0.05,
		DefaultLeverage:     5,
	})
	gate := risk.NewGate(risk.Policy{
		MaxPositionSize:    0.10,
		MaxDailyLoss:       0.02,
		MaxLeverage:        20,
		DefaultStopLossPct: 0.05,
	})
	machine := execution.NewMachine(f.paper, f.book, execution.Config{
		PlaceTimeout:  time.Second,
		StatusRetries: 2,
		StatusBackoff: time.Millisecond,
	})
	eng, err := New(Deps{
		Cfg: config.EngineConfig{
			Symbols:          []string{"BTCUSDT"},
			CycleInterval:    "15m",
			BreakerThreshold: 3,
		},
		Source:  f.source,
		Runner:  runner,
		Agg:     agg,
		Gate:    gate,
		Book:    f.book,
		Machine: machine,
		Venue:   f.paper,
		Store:   f.store,
		Notify:  f.notify,
	})
	assert.NoError(t, err)
	f.engine = eng
	return f
}

func (f *fixture) setCalls(call signal.Call) {
	f.p1.op = signal.Opinion{Call: call, Confidence: 0.9}
	f.p2.op = signal.Opinion{Call: call, Confidence: 0.9}
}

func TestCycleOpensPositionOnConsensus(t *testing.T) {
	f := newEngineFixture(t)
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))

	pos, ok := f.book.Position("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, ledger.SideLong, pos.Side)
	// Default stop synthesized 5% under the mark.
	assert.InDelta(t, 47500.0, pos.StopLoss, 1e-6)

	// State persisted and the cycle audited as approved.
	assert.NotNil(t, f.store.state)
	assert.Len(t, f.store.audits, 1)
	assert.Equal(t, "approved", f.store.audits[0].VerdictKind)
	assert.Eventually(t, func() bool { return f.notify.has(notifier.KindTradeExecution) },
		time.Second, 10*time.Millisecond)
}

func TestCycleFlatDecisionLeavesPositionAlone(t *testing.T) {
	f := newEngineFixture(t)
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))
	f.setCalls(signal.CallFlat)
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))
	_, ok := f.book.Position("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 1, f.book.OpenPositionCount())
}

func TestCycleOppositeDecisionClosesNotReverses(t *testing.T) {
	f := newEngineFixture(t)
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))

	f.source.set(freshSnap(52000))
	f.setCalls(signal.CallShort)
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))

	// Closed, not flipped short.
	_, ok := f.book.Position("BTCUSDT")
	assert.False(t, ok)
	assert.Len(t, f.store.trades, 1)
	assert.Greater(t, f.store.trades[0].Realized, 0.0)
}

func TestCycleSameSideDecisionIsNoOp(t *testing.T) {
	f := newEngineFixture(t)
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))
	assert.Equal(t, 1, f.book.OpenPositionCount())
	assert.Equal(t, "rejected", f.store.audits[1].VerdictKind)
}

func TestCycleStaleSnapshotFails(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.deps.Cfg.SnapshotMaxAgeSecond = 60
	snap := freshSnap(50000)
	snap.Timestamp = time.Now().Add(-10 * time.Minute)
	f.source.set(snap)
	err := f.engine.cycle(context.Background(), "BTCUSDT")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "stale")
}

func TestCycleReconcilesBeforeAnythingElse(t *testing.T) {
	f := newEngineFixture(t)
	f.paper.AmbiguousNext(errors.New("gateway timeout"))
	err := f.engine.cycle(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, execution.ErrReconcileNeeded)
	_, ok := f.book.Position("BTCUSDT")
	assert.False(t, ok)

	// Next cycle resolves the ambiguity; the fill is booked exactly once
	// and no second order goes out this cycle.
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))
	assert.Equal(t, 1, f.book.OpenPositionCount())
}

func TestCycleProtectiveTriggerTakesPrecedence(t *testing.T) {
	f := newEngineFixture(t)
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))
	pos, _ := f.book.Position("BTCUSDT")

	assert.NoError(t, f.paper.TriggerProtective(pos.StopOrderID, 47500, pos.Quantity))
	// Providers still scream long; the fired stop wins.
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))
	_, ok := f.book.Position("BTCUSDT")
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return f.notify.has(notifier.KindRiskAlert) },
		time.Second, 10*time.Millisecond)
}

func TestCycleRespectsHalt(t *testing.T) {
	f := newEngineFixture(t)
	// Burn the daily budget: open then close deep in the red.
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))
	// Position qty is 0.05, so closing at 45000 realizes -250 against a
	// 200 USD daily budget.
	f.source.set(freshSnap(45000))
	f.setCalls(signal.CallShort)
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))
	assert.True(t, f.book.Halted())

	// Halted: a fresh directional decision is rejected by the gate.
	f.setCalls(signal.CallLong)
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))
	assert.Equal(t, 0, f.book.OpenPositionCount())
	last := f.store.audits[len(f.store.audits)-1]
	assert.Equal(t, "rejected", last.VerdictKind)
	assert.Contains(t, last.VerdictReason, "halted")

	// The halt start time is surfaced in both operator views.
	s := f.engine.Status()
	assert.True(t, s.Halted)
	assert.NotNil(t, s.HaltedSince)
	stats := f.engine.DailyStats()
	assert.NotNil(t, stats.HaltedSince)
	assert.False(t, stats.HaltedSince.IsZero())
}

func TestPersistenceFailureFreezesTrading(t *testing.T) {
	f := newEngineFixture(t)
	f.store.saveErr = errors.New("disk full")
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))

	// The first position got in before the failed save, but the books are
	// now frozen and no further exposure is accepted.
	frozen, reason := f.book.Frozen()
	assert.True(t, frozen)
	assert.Contains(t, reason, "persistence failure")

	f.store.saveErr = nil
	f.setCalls(signal.CallShort)
	assert.NoError(t, f.engine.cycle(context.Background(), "ETHUSDT"))
	_, ok := f.book.Position("ETHUSDT")
	assert.False(t, ok)

	// Operator restart lifts the freeze.
	assert.NoError(t, f.engine.StartTrading(context.Background()))
	defer f.engine.StopTrading()
	frozen, _ = f.book.Frozen()
	assert.False(t, frozen)
}

func TestStartStop(t *testing.T) {
	f := newEngineFixture(t)
	assert.False(t, f.engine.Running())
	assert.NoError(t, f.engine.StartTrading(context.Background()))
	assert.True(t, f.engine.Running())
	assert.Error(t, f.engine.StartTrading(context.Background()))

	assert.NoError(t, f.engine.StopTrading())
	assert.False(t, f.engine.Running())
	assert.Error(t, f.engine.StopTrading())
}

func TestStatusAndStats(t *testing.T) {
	f := newEngineFixture(t)
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))

	s := f.engine.Status()
	assert.False(t, s.Running)
	assert.Equal(t, "paper", s.Venue)
	assert.Equal(t, 1, s.OpenPositions)
	assert.Len(t, s.Symbols, 1)
	assert.True(t, s.Symbols[0].HasOpenPosition)

	stats := f.engine.DailyStats()
	assert.Equal(t, 10000.0, stats.EquityUSD)
	assert.Equal(t, 0, stats.ClosedTrades)

	positions := f.engine.Positions()
	assert.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
}

func TestStatusReadsSafelyDuringCycles(t *testing.T) {
	f := newEngineFixture(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 30; i++ {
			f.engine.runCycle(context.Background(), "BTCUSDT")
		}
	}()

	// Poll status concurrently with the cycle loop; run with -race.
	for polling := true; polling; {
		select {
		case <-done:
			polling = false
		default:
		}
		s := f.engine.Status()
		assert.Len(t, s.Symbols, 1)
	}

	s := f.engine.Status()
	assert.False(t, s.Symbols[0].LastCycle.IsZero())
}

func TestApplyRiskPolicy(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.ApplyRiskPolicy(config.RiskConfig{
		MaxPositionSize:    0.10,
		MaxDailyLoss:       0.02,
		MaxLeverage:        2,
		DefaultStopLossPct: 0.05,
	})
	assert.NoError(t, f.engine.cycle(context.Background(), "BTCUSDT"))
	pos, _ := f.book.Position("BTCUSDT")
	assert.Equal(t, 2, pos.Leverage)
}
