// Package engine runs the trading loop: per symbol, on every interval
// tick, it builds a snapshot, collects opinions, aggregates them, passes
// the verdict through the risk gate, and hands approved decisions to the
// execution machine. One cycle per symbol at a time, always.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"quorum/internal/config"
	"quorum/internal/ensemble"
	"quorum/internal/execution"
	"quorum/internal/gateway/notifier"
	"quorum/internal/gateway/venue"
	"quorum/internal/ledger"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/pkg/circuit"
	"quorum/internal/risk"
	"quorum/internal/scheduler"
	"quorum/internal/signal"
	"quorum/internal/store"

	"golang.org/x/sync/errgroup"
)

// Deps wires the engine. Everything is constructed by the app builder.
type Deps struct {
	Cfg        config.EngineConfig
	Source     market.Source
	Runner     *signal.Runner
	Agg        *ensemble.Aggregator
	Gate       *risk.Gate
	Book       *ledger.Ledger
	Machine    *execution.Machine
	Venue      venue.Venue
	SyncEquity bool // true when the venue is authoritative for equity
	Store      store.LedgerStore
	Notify     notifier.TextNotifier
}

type symbolState struct {
	lock    sync.Mutex // at most one in-flight cycle per symbol
	breaker *circuit.Breaker

	mu        sync.Mutex // guards the fields below; Status reads them mid-cycle
	lastCycle time.Time
	lastError string
}

func (st *symbolState) recent() (time.Time, string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastCycle, st.lastError
}

func (st *symbolState) record(at time.Time, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastCycle = at
	st.lastError = ""
	if err != nil {
		st.lastError = err.Error()
	}
}

type Engine struct {
	deps     Deps
	interval time.Duration

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	startedAt time.Time

	symbols map[string]*symbolState
}

func New(deps Deps) (*Engine, error) {
	interval, ok := scheduler.ParseIntervalDuration(deps.Cfg.CycleInterval)
	if !ok {
		return nil, fmt.Errorf("invalid cycle_interval %q", deps.Cfg.CycleInterval)
	}
	if deps.Notify == nil {
		deps.Notify = notifier.Nop{}
	}
	e := &Engine{
		deps:     deps,
		interval: interval,
		symbols:  map[string]*symbolState{},
	}
	threshold := deps.Cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 3
	}
	cooldown := time.Duration(deps.Cfg.BreakerCooldownS) * time.Second
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}
	for _, sym := range deps.Cfg.Symbols {
		e.symbols[sym] = &symbolState{
			breaker: circuit.NewBreaker(sym, threshold, cooldown),
		}
	}
	return e, nil
}

// ApplyRiskPolicy swaps the live limits. Wired to the config watcher.
func (e *Engine) ApplyRiskPolicy(rc config.RiskConfig) {
	e.deps.Gate.SetPolicy(risk.Policy{
		MaxPositionSize:    rc.MaxPositionSize,
		MaxDailyLoss:       rc.MaxDailyLoss,
		MaxLeverage:        rc.MaxLeverage,
		DefaultStopLossPct: rc.DefaultStopLossPct,
		MaxOpenPositions:   rc.MaxOpenPositions,
		MinEquityUSD:       rc.MinEquityUSD,
	})
	e.deps.Book.SetMaxDailyLoss(rc.MaxDailyLoss)
	logger.Infof("risk policy updated: max_position_size=%.4f max_daily_loss=%.4f max_leverage=%d",
		rc.MaxPositionSize, rc.MaxDailyLoss, rc.MaxLeverage)
}

// StartTrading launches one cycle loop per symbol. Idempotent-hostile on
// purpose: starting a running engine is an error the API surfaces.
func (e *Engine) StartTrading(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine already running")
	}
	// Starting is the operator intervention that lifts a frozen ledger.
	if e.deps.Book.Unfreeze() {
		logger.Warnf("frozen ledger cleared by operator start")
	}
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for sym := range e.symbols {
		sym := sym
		ticker := scheduler.NewAlignedTicker(sym, e.interval, 5*time.Second, e.deps.Cfg.RunImmediately)
		g.Go(func() error {
			ticker.Run(gctx, func() { e.runCycle(gctx, sym) })
			return nil
		})
	}
	e.cancel = cancel
	e.group = g
	e.running = true
	e.startedAt = time.Now()
	logger.Infof("engine started: %d symbols, interval=%s, venue=%s",
		len(e.symbols), e.interval, e.deps.Venue.Name())
	e.send(notifier.KindSystemStatus, fmt.Sprintf("trading started: %d symbols @ %s", len(e.symbols), e.interval))
	return nil
}

// StopTrading halts the loops and waits for in-flight cycles to finish.
// Open positions stay open; their protective orders remain on the venue.
func (e *Engine) StopTrading() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine not running")
	}
	cancel, group := e.cancel, e.group
	e.mu.Unlock()

	cancel()
	_ = group.Wait()

	e.mu.Lock()
	e.running = false
	e.cancel = nil
	e.group = nil
	e.mu.Unlock()
	logger.Infof("engine stopped")
	e.send(notifier.KindSystemStatus, "trading stopped")
	return nil
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// runCycle guards one cycle invocation with the symbol lock and breaker.
// If the previous cycle is still running the tick is skipped, never queued.
func (e *Engine) runCycle(ctx context.Context, symbol string) {
	st := e.symbols[symbol]
	if !st.lock.TryLock() {
		logger.Warnf("cycle %s: previous cycle still in flight, skipping tick", symbol)
		return
	}
	defer st.lock.Unlock()

	if !st.breaker.Allow() {
		logger.Warnf("cycle %s: circuit open, skipping tick", symbol)
		return
	}

	started := time.Now()
	if err := e.cycle(ctx, symbol); err != nil {
		st.record(started, err)
		st.breaker.RecordFailure()
		logger.Errorf("cycle %s failed: %v", symbol, err)
		return
	}
	st.record(started, nil)
	st.breaker.RecordSuccess()
}

// cycle is one full pass for one symbol.
func (e *Engine) cycle(ctx context.Context, symbol string) error {
	// Unresolved placements block everything else on the symbol.
	if e.deps.Machine.NeedsReconcile(symbol) {
		if err := e.deps.Machine.Reconcile(ctx, symbol); err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		e.checkExposure()
		e.persist(ctx)
	}

	if report, rolled := e.deps.Book.RollDay(); rolled && e.deps.Cfg.NotifyDailyReport {
		e.send(notifier.KindDailyReport, formatDayReport(report))
	}

	snap, err := e.deps.Source.GetSnapshot(ctx, symbol)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if maxAge := e.deps.Cfg.SnapshotMaxAgeSecond; maxAge > 0 {
		if age := time.Since(snap.Timestamp); age > time.Duration(maxAge)*time.Second {
			return fmt.Errorf("snapshot for %s is stale: age=%s", symbol, age.Truncate(time.Second))
		}
	}

	// A protective order that fired takes precedence over any fresh
	// decision: the venue has already changed our exposure, so this cycle
	// only brings the ledger in line.
	if fill, closed, err := e.deps.Machine.CheckProtectiveTriggers(ctx, symbol); err != nil {
		return fmt.Errorf("protective check: %w", err)
	} else if closed {
		e.persist(ctx)
		e.recordClose(ctx, symbol, fill, "protective order triggered")
		e.send(notifier.KindRiskAlert, fmt.Sprintf("%s protective order filled @ %.4f, realized %.2f", symbol, fill.AvgPrice, fill.Realized))
		if fill.Halted {
			e.send(notifier.KindRiskAlert, "daily loss budget exhausted, trading halted until next UTC day")
		}
		return nil
	}

	if e.deps.SyncEquity {
		if equity, err := e.deps.Venue.Equity(ctx); err != nil {
			logger.Warnf("cycle %s: equity sync failed: %v", symbol, err)
		} else {
			e.deps.Book.SyncEquity(equity)
		}
	}

	results := e.deps.Runner.Collect(ctx, snap)
	decision := e.deps.Agg.Aggregate(symbol, snap.Timestamp, results)
	logger.Infof("cycle %s: decision=%s confidence=%.3f (%s)", symbol, decision.Action, decision.Confidence, decision.Annotation)

	verdict, err := e.act(ctx, decision, snap)
	e.audit(ctx, decision, verdict, snap.Price)
	e.persist(ctx)
	return err
}

// act applies the decision against current exposure. The returned verdict
// is whatever the risk gate said, or a synthetic one for paths that never
// reached the gate.
func (e *Engine) act(ctx context.Context, d ensemble.Decision, snap market.Snapshot) (risk.Verdict, error) {
	if !d.Directional() {
		// Flat keeps whatever exposure exists; the resting stops guard it.
		return risk.Verdict{Kind: risk.Rejected, Reason: "no directional decision"}, nil
	}

	pos, exists := e.deps.Book.Position(d.Symbol)
	if exists {
		sameSide := (pos.Side == ledger.SideLong && d.Action == ensemble.ActionLong) ||
			(pos.Side == ledger.SideShort && d.Action == ensemble.ActionShort)
		if sameSide {
			return risk.Verdict{Kind: risk.Rejected, Reason: fmt.Sprintf("position already open on %s", d.Symbol)}, nil
		}
		// Opposite call closes the position; it never reverses in one step.
		fill, err := e.deps.Machine.ExecuteClose(ctx, d.Symbol, "ensemble flipped "+string(d.Action), snap.Price)
		if err != nil {
			return risk.Verdict{Kind: risk.Rejected, Reason: "close failed: " + err.Error()}, closeErr(err)
		}
		e.recordClose(ctx, d.Symbol, fill, "ensemble flipped "+string(d.Action))
		e.send(notifier.KindTradeExecution, fmt.Sprintf("%s closed @ %.4f, realized %.2f (ensemble flipped %s)",
			d.Symbol, fill.AvgPrice, fill.Realized, d.Action))
		if fill.Halted {
			e.send(notifier.KindRiskAlert, "daily loss budget exhausted, trading halted until next UTC day")
		}
		return risk.Verdict{Kind: risk.Approved, Reason: "closed opposite position"}, nil
	}

	verdict := e.deps.Gate.Check(d, snap.Price, e.deps.Book.View())
	if !verdict.Allowed() {
		logger.Infof("cycle %s: risk gate rejected: %s", d.Symbol, verdict.Reason)
		return verdict, nil
	}
	if verdict.Kind == risk.Resized {
		logger.Infof("cycle %s: risk gate resized: %s", d.Symbol, verdict.Reason)
	}

	fill, err := e.deps.Machine.ExecuteOpen(ctx, d, verdict, snap.Price)
	if err != nil {
		return verdict, closeErr(err)
	}
	e.send(notifier.KindTradeExecution, fmt.Sprintf("%s opened %s qty=%.6f @ %.4f lev=%dx stop=%.4f",
		d.Symbol, d.Action, fill.Quantity, fill.AvgPrice, verdict.Leverage, verdict.StopLoss))
	return verdict, nil
}

// closeErr downgrades expected execution outcomes so they fail the cycle
// (and feed the breaker) without double-logging stack-worthy errors.
func closeErr(err error) error {
	if errors.Is(err, execution.ErrReconcileNeeded) || errors.Is(err, execution.ErrPlacementFailed) {
		return err
	}
	return fmt.Errorf("execution: %w", err)
}

func (e *Engine) recordClose(ctx context.Context, symbol string, fill execution.Fill, reason string) {
	if e.deps.Store == nil {
		return
	}
	err := e.deps.Store.RecordClosedTrade(ctx, store.ClosedTrade{
		Symbol:    symbol,
		ExitPrice: fill.AvgPrice,
		Quantity:  fill.Quantity,
		Realized:  fill.Realized,
		Reason:    reason,
		ClosedAt:  time.Now(),
	})
	if err != nil {
		logger.Warnf("record closed trade %s: %v", symbol, err)
	}
}

func (e *Engine) audit(ctx context.Context, d ensemble.Decision, v risk.Verdict, price float64) {
	if e.deps.Store == nil {
		return
	}
	contrib, _ := json.Marshal(d.Contributions)
	err := e.deps.Store.AppendAudit(ctx, store.AuditRecord{
		TraceID:       d.TraceID,
		Symbol:        d.Symbol,
		Action:        string(d.Action),
		Confidence:    d.Confidence,
		VerdictKind:   string(v.Kind),
		VerdictReason: v.Reason,
		Annotation:    d.Annotation,
		Contributions: contrib,
		Price:         price,
		CreatedAt:     d.Timestamp,
	})
	if err != nil {
		logger.Warnf("audit %s: %v", d.Symbol, err)
	}
}

// persist saves the ledger snapshot. A store failure means the books can
// no longer be trusted across a restart, so it freezes trading until an
// operator restarts after fixing the store.
func (e *Engine) persist(ctx context.Context) {
	if e.deps.Store == nil {
		return
	}
	if err := e.deps.Store.SaveState(context.WithoutCancel(ctx), e.deps.Book.View()); err != nil {
		logger.Errorf("persist ledger state: %v", err)
		e.deps.Book.Freeze("persistence failure: " + err.Error())
		e.send(notifier.KindRiskAlert, "ledger persistence failed, trading frozen until operator restart: "+err.Error())
	}
}

// checkExposure freezes trading when reconciled exposure exceeds the
// configured cap, which means the books and the venue disagreed.
func (e *Engine) checkExposure() {
	p := e.deps.Gate.Policy()
	if p.MaxPositionSize <= 0 {
		return
	}
	committed := 0.0
	for _, pos := range e.deps.Book.View().Positions {
		committed += pos.SizeFraction
	}
	if committed > p.MaxPositionSize+1e-9 {
		reason := fmt.Sprintf("exposure %.4f exceeds cap %.4f after reconciliation", committed, p.MaxPositionSize)
		logger.Errorf("%s", reason)
		e.deps.Book.Freeze(reason)
		e.send(notifier.KindRiskAlert, "trading frozen: "+reason)
	}
}

// send delivers a notification without blocking the cycle.
func (e *Engine) send(kind notifier.Kind, text string) {
	go func() {
		if err := e.deps.Notify.Notify(kind, text); err != nil {
			logger.Warnf("notify %s: %v", kind, err)
		}
	}()
}

func formatDayReport(r ledger.DayReport) string {
	winRate := 0.0
	if r.ClosedTrades > 0 {
		winRate = float64(r.Wins) / float64(r.ClosedTrades) * 100
	}
	return fmt.Sprintf("daily report %s\nrealized: %.2f USD\nloss budget used: %.2f%%\ntrades: %d (win rate %.0f%%)\nhalted: %v\nequity: %.2f USD",
		r.Day, r.Realized, r.LossUsed*100, r.ClosedTrades, winRate, r.WasHalted, r.EquityUSD)
}
