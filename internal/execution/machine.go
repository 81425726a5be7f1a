// Package execution drives orders through their lifecycle against the
// venue and keeps the ledger consistent with what actually filled. Its
// central obligation: a placement error proves nothing, so every failed
// submission is resolved by explicit reconciliation before the symbol can
// be touched again.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quorum/internal/ensemble"
	"quorum/internal/gateway/venue"
	"quorum/internal/ledger"
	"quorum/internal/logger"
	"quorum/internal/risk"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrPlacementFailed: the venue definitively rejected or cancelled the
	// order. No exposure changed.
	ErrPlacementFailed = errors.New("order placement failed")
	// ErrReconcileNeeded: a placement outcome is unknown. The symbol is
	// locked for new orders until Reconcile resolves it.
	ErrReconcileNeeded = errors.New("symbol has an unresolved order, reconcile first")
)

type Config struct {
	PlaceTimeout  time.Duration
	StatusRetries int
	StatusBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.PlaceTimeout <= 0 {
		c.PlaceTimeout = 10 * time.Second
	}
	if c.StatusRetries <= 0 {
		c.StatusRetries = 5
	}
	if c.StatusBackoff <= 0 {
		c.StatusBackoff = 500 * time.Millisecond
	}
	return c
}

type pendingKind string

const (
	pendingOpen  pendingKind = "open"
	pendingClose pendingKind = "close"
)

// pendingOrder remembers enough about an ambiguous submission to either
// book it or discard it once the venue tells us what happened.
type pendingOrder struct {
	Kind          pendingKind
	ClientOrderID string
	Symbol        string
	Side          ledger.Side
	Quantity      float64
	Leverage      int
	SizeFraction  float64
	StopLoss      float64
	TakeProfit    float64
	TraceID       string
	Since         time.Time
}

// Fill is what the machine reports back to the orchestrator.
type Fill struct {
	ClientOrderID string
	Symbol        string
	Quantity      float64
	AvgPrice      float64
	Realized      float64 // set on closes
	Halted        bool    // daily loss budget tripped by this close
}

// Machine is safe for concurrent use across symbols; the orchestrator
// additionally guarantees at most one in-flight cycle per symbol.
type Machine struct {
	venue venue.Venue
	book  *ledger.Ledger
	cfg   Config

	mu      sync.Mutex
	pending map[string]pendingOrder // by symbol
}

func NewMachine(v venue.Venue, book *ledger.Ledger, cfg Config) *Machine {
	return &Machine{
		venue:   v,
		book:    book,
		cfg:     cfg.withDefaults(),
		pending: map[string]pendingOrder{},
	}
}

// NeedsReconcile reports whether the symbol has an unresolved placement.
func (m *Machine) NeedsReconcile(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[symbol]
	return ok
}

func (m *Machine) setPending(p pendingOrder) {
	m.mu.Lock()
	m.pending[p.Symbol] = p
	m.mu.Unlock()
}

func (m *Machine) clearPending(symbol string) {
	m.mu.Lock()
	delete(m.pending, symbol)
	m.mu.Unlock()
}

// ExecuteOpen turns an approved directional decision into a venue order
// and, on fill, a ledger position with protective orders around it.
func (m *Machine) ExecuteOpen(ctx context.Context, d ensemble.Decision, verdict risk.Verdict, price float64) (Fill, error) {
	if m.NeedsReconcile(d.Symbol) {
		return Fill{}, ErrReconcileNeeded
	}
	if !verdict.Allowed() || !d.Directional() {
		return Fill{}, fmt.Errorf("decision for %s is not executable", d.Symbol)
	}
	if price <= 0 {
		return Fill{}, fmt.Errorf("invalid reference price %.4f", price)
	}

	side := ledger.SideLong
	orderSide := venue.SideBuy
	if d.Action == ensemble.ActionShort {
		side = ledger.SideShort
		orderSide = venue.SideSell
	}
	qty := orderQuantity(m.book.Equity(), verdict.Size, verdict.Leverage, price)
	if qty <= 0 {
		return Fill{}, fmt.Errorf("computed quantity is zero for %s", d.Symbol)
	}

	clientID := uuid.NewString()
	req := venue.OrderRequest{
		Symbol:         d.Symbol,
		Side:           orderSide,
		Kind:           venue.KindMarket,
		ClientOrderID:  clientID,
		Quantity:       qty,
		ReferencePrice: price,
		Leverage:       verdict.Leverage,
	}
	pend := pendingOrder{
		Kind:          pendingOpen,
		ClientOrderID: clientID,
		Symbol:        d.Symbol,
		Side:          side,
		Quantity:      qty,
		Leverage:      verdict.Leverage,
		SizeFraction:  verdict.Size,
		StopLoss:      verdict.StopLoss,
		TakeProfit:    d.TakeProfit,
		TraceID:       d.TraceID,
		Since:         time.Now(),
	}

	st, err := m.placeAndSettle(ctx, req, pend)
	if err != nil {
		return Fill{}, err
	}

	pos := ledger.Position{
		Symbol:       d.Symbol,
		Side:         side,
		EntryPrice:   st.AvgFillPrice,
		Quantity:     st.FilledQuantity,
		Leverage:     verdict.Leverage,
		SizeFraction: verdict.Size,
		StopLoss:     verdict.StopLoss,
		TakeProfit:   d.TakeProfit,
		OpenedAt:     time.Now(),
		Status:       ledger.StatusOpen,
		TraceID:      d.TraceID,
	}
	m.placeProtective(ctx, &pos)
	if _, err := m.book.ApplyOpenFill(fillID(clientID), pos); err != nil {
		return Fill{}, err
	}
	return Fill{
		ClientOrderID: clientID,
		Symbol:        d.Symbol,
		Quantity:      pos.Quantity,
		AvgPrice:      pos.EntryPrice,
	}, nil
}

// ExecuteClose flattens the position with a reduce-only market order and
// books realized PnL. reason only feeds logs and the audit trail.
func (m *Machine) ExecuteClose(ctx context.Context, symbol, reason string, price float64) (Fill, error) {
	if m.NeedsReconcile(symbol) {
		return Fill{}, ErrReconcileNeeded
	}
	pos, ok := m.book.Position(symbol)
	if !ok {
		return Fill{}, fmt.Errorf("no open position on %s", symbol)
	}
	if pos.Status == ledger.StatusClosing {
		return Fill{}, fmt.Errorf("%s close already in flight", symbol)
	}
	if err := m.book.BeginClose(symbol); err != nil {
		return Fill{}, err
	}
	logger.Infof("closing %s %s qty=%.6f: %s", pos.Side, symbol, pos.Quantity, reason)
	m.cancelProtective(ctx, pos)

	orderSide := venue.SideSell
	if pos.Side == ledger.SideShort {
		orderSide = venue.SideBuy
	}
	clientID := uuid.NewString()
	req := venue.OrderRequest{
		Symbol:         symbol,
		Side:           orderSide,
		Kind:           venue.KindMarket,
		ClientOrderID:  clientID,
		Quantity:       pos.Quantity,
		ReferencePrice: price,
		ReduceOnly:     true,
	}
	pend := pendingOrder{
		Kind:          pendingClose,
		ClientOrderID: clientID,
		Symbol:        symbol,
		Side:          pos.Side,
		Quantity:      pos.Quantity,
		TraceID:       pos.TraceID,
		Since:         time.Now(),
	}

	st, err := m.placeAndSettle(ctx, req, pend)
	if err != nil {
		if errors.Is(err, ErrPlacementFailed) {
			m.book.AbortClose(symbol)
		}
		return Fill{}, err
	}
	realized, halted, err := m.book.FinalizeClose(fillID(clientID), symbol, st.AvgFillPrice, st.FilledQuantity)
	if err != nil {
		return Fill{}, err
	}
	return Fill{
		ClientOrderID: clientID,
		Symbol:        symbol,
		Quantity:      st.FilledQuantity,
		AvgPrice:      st.AvgFillPrice,
		Realized:      realized,
		Halted:        halted,
	}, nil
}

// placeAndSettle submits the order and waits for a terminal status. An
// ambiguous outcome parks the symbol behind a reconcile. Once the order is
// accepted, settlement continues even if the cycle's context dies; an
// order on the wire cannot be un-sent.
func (m *Machine) placeAndSettle(ctx context.Context, req venue.OrderRequest, pend pendingOrder) (venue.OrderStatus, error) {
	placeCtx, cancel := context.WithTimeout(ctx, m.cfg.PlaceTimeout)
	ack, err := m.venue.PlaceOrder(placeCtx, req)
	cancel()
	if err != nil {
		m.setPending(pend)
		logger.Warnf("ambiguous placement on %s (%s): %v", req.Symbol, pend.ClientOrderID, err)
		return venue.OrderStatus{}, fmt.Errorf("%w: %v", ErrReconcileNeeded, err)
	}

	settleCtx := context.WithoutCancel(ctx)
	if ack.State == venue.StateFilled {
		st, err := m.venue.OrderStatus(settleCtx, req.Symbol, req.ClientOrderID)
		if err == nil {
			return st, nil
		}
		// Trust the ack; fills from simulators report exact quantities.
		return venue.OrderStatus{
			ClientOrderID:  req.ClientOrderID,
			VenueOrderID:   ack.VenueOrderID,
			State:          venue.StateFilled,
			FilledQuantity: req.Quantity,
			AvgFillPrice:   req.ReferencePrice,
		}, nil
	}

	st, err := m.awaitTerminal(settleCtx, req.Symbol, req.ClientOrderID)
	if err != nil {
		m.setPending(pend)
		return venue.OrderStatus{}, fmt.Errorf("%w: %v", ErrReconcileNeeded, err)
	}
	switch st.State {
	case venue.StateFilled:
		return st, nil
	case venue.StatePending, venue.StatePartiallyFilled:
		// Retries exhausted with the order still live at the venue; cancel
		// the remainder before booking, or a later fill would be exposure
		// the ledger never sees.
		if err := m.venue.CancelOrder(settleCtx, req.Symbol, req.ClientOrderID); err != nil {
			m.setPending(pend)
			return venue.OrderStatus{}, fmt.Errorf("%w: cancel partial: %v", ErrReconcileNeeded, err)
		}
		st, err = m.venue.OrderStatus(settleCtx, req.Symbol, req.ClientOrderID)
		if err != nil {
			m.setPending(pend)
			return venue.OrderStatus{}, fmt.Errorf("%w: %v", ErrReconcileNeeded, err)
		}
		if st.FilledQuantity > 0 {
			return st, nil
		}
		return venue.OrderStatus{}, fmt.Errorf("%w: order %s cancelled with no fill", ErrPlacementFailed, req.ClientOrderID)
	default:
		return venue.OrderStatus{}, fmt.Errorf("%w: order %s ended %s", ErrPlacementFailed, req.ClientOrderID, st.State)
	}
}

// awaitTerminal polls with bounded backoff. It never polls forever.
func (m *Machine) awaitTerminal(ctx context.Context, symbol, clientOrderID string) (venue.OrderStatus, error) {
	var last venue.OrderStatus
	for i := 0; i < m.cfg.StatusRetries; i++ {
		st, err := m.venue.OrderStatus(ctx, symbol, clientOrderID)
		if err == nil {
			last = st
			if st.State.Terminal() {
				return st, nil
			}
		} else if !errors.Is(err, venue.ErrOrderUnknown) {
			logger.Warnf("order status %s/%s: %v", symbol, clientOrderID, err)
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(m.cfg.StatusBackoff):
		}
	}
	if last.ClientOrderID != "" {
		return last, nil
	}
	return last, fmt.Errorf("no terminal status for %s after %d polls", clientOrderID, m.cfg.StatusRetries)
}

// Reconcile resolves an ambiguous placement by asking the venue what
// became of the client order ID. It either books the outcome or proves
// the order never existed, and only then unlocks the symbol.
func (m *Machine) Reconcile(ctx context.Context, symbol string) error {
	m.mu.Lock()
	pend, ok := m.pending[symbol]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	st, err := m.venue.OrderStatus(ctx, symbol, pend.ClientOrderID)
	if errors.Is(err, venue.ErrOrderUnknown) {
		// The order never reached the venue.
		logger.Infof("reconcile %s: order %s never placed", symbol, pend.ClientOrderID)
		if pend.Kind == pendingClose {
			m.book.AbortClose(symbol)
		}
		m.clearPending(symbol)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", symbol, err)
	}

	if !st.State.Terminal() {
		// Still live: cancel and look again, the cancel may race a fill.
		if err := m.venue.CancelOrder(ctx, symbol, pend.ClientOrderID); err != nil {
			return fmt.Errorf("reconcile %s: cancel: %w", symbol, err)
		}
		st, err = m.venue.OrderStatus(ctx, symbol, pend.ClientOrderID)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", symbol, err)
		}
	}

	filled := st.State == venue.StateFilled ||
		(st.State == venue.StatePartiallyFilled && st.FilledQuantity > 0) ||
		(st.State == venue.StateCancelled && st.FilledQuantity > 0)
	if !filled {
		logger.Infof("reconcile %s: order %s ended %s with no fill", symbol, pend.ClientOrderID, st.State)
		if pend.Kind == pendingClose {
			m.book.AbortClose(symbol)
		}
		m.clearPending(symbol)
		return nil
	}

	switch pend.Kind {
	case pendingOpen:
		pos := ledger.Position{
			Symbol:       symbol,
			Side:         pend.Side,
			EntryPrice:   st.AvgFillPrice,
			Quantity:     st.FilledQuantity,
			Leverage:     pend.Leverage,
			SizeFraction: pend.SizeFraction,
			StopLoss:     pend.StopLoss,
			TakeProfit:   pend.TakeProfit,
			OpenedAt:     pend.Since,
			Status:       ledger.StatusOpen,
			TraceID:      pend.TraceID,
		}
		m.placeProtective(ctx, &pos)
		if _, err := m.book.ApplyOpenFill(fillID(pend.ClientOrderID), pos); err != nil {
			return fmt.Errorf("reconcile %s: %w", symbol, err)
		}
		logger.Infof("reconcile %s: booked open %s qty=%.6f @ %.4f", symbol, pend.Side, pos.Quantity, pos.EntryPrice)
	case pendingClose:
		realized, halted, err := m.book.FinalizeClose(fillID(pend.ClientOrderID), symbol, st.AvgFillPrice, st.FilledQuantity)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", symbol, err)
		}
		logger.Infof("reconcile %s: booked close realized=%.2f halted=%v", symbol, realized, halted)
	}
	m.clearPending(symbol)
	return nil
}

// CheckProtectiveTriggers looks at the position's resting stop and
// take-profit orders. A filled protective order means the venue already
// flattened us; the ledger is brought in line and the sibling cancelled.
func (m *Machine) CheckProtectiveTriggers(ctx context.Context, symbol string) (Fill, bool, error) {
	pos, ok := m.book.Position(symbol)
	if !ok || pos.Status != ledger.StatusOpen {
		return Fill{}, false, nil
	}
	type protective struct{ id, sibling string }
	checks := []protective{}
	if pos.StopOrderID != "" {
		checks = append(checks, protective{pos.StopOrderID, pos.TakeProfitOrderID})
	}
	if pos.TakeProfitOrderID != "" {
		checks = append(checks, protective{pos.TakeProfitOrderID, pos.StopOrderID})
	}
	for _, c := range checks {
		st, err := m.venue.OrderStatus(ctx, symbol, c.id)
		if err != nil {
			if errors.Is(err, venue.ErrOrderUnknown) {
				continue
			}
			return Fill{}, false, err
		}
		if st.State != venue.StateFilled {
			continue
		}
		if c.sibling != "" {
			if err := m.venue.CancelOrder(ctx, symbol, c.sibling); err != nil {
				logger.Warnf("cancel sibling protective %s/%s: %v", symbol, c.sibling, err)
			}
		}
		realized, halted, err := m.book.FinalizeClose(fillID(c.id), symbol, st.AvgFillPrice, st.FilledQuantity)
		if err != nil {
			return Fill{}, false, err
		}
		return Fill{
			ClientOrderID: c.id,
			Symbol:        symbol,
			Quantity:      st.FilledQuantity,
			AvgPrice:      st.AvgFillPrice,
			Realized:      realized,
			Halted:        halted,
		}, true, nil
	}
	return Fill{}, false, nil
}

// placeProtective rests stop and take-profit orders around a new
// position. Failures degrade the position to unprotected rather than
// unwinding the fill.
func (m *Machine) placeProtective(ctx context.Context, pos *ledger.Position) {
	exitSide := venue.SideSell
	if pos.Side == ledger.SideShort {
		exitSide = venue.SideBuy
	}
	ctx = context.WithoutCancel(ctx)
	if pos.StopLoss > 0 {
		id := uuid.NewString()
		_, err := m.venue.PlaceOrder(ctx, venue.OrderRequest{
			Symbol:        pos.Symbol,
			Side:          exitSide,
			Kind:          venue.KindStopMarket,
			ClientOrderID: id,
			Quantity:      pos.Quantity,
			StopPrice:     pos.StopLoss,
			ReduceOnly:    true,
		})
		if err != nil {
			logger.Errorf("stop order on %s failed, position unprotected: %v", pos.Symbol, err)
		} else {
			pos.StopOrderID = id
		}
	}
	if pos.TakeProfit > 0 {
		id := uuid.NewString()
		_, err := m.venue.PlaceOrder(ctx, venue.OrderRequest{
			Symbol:        pos.Symbol,
			Side:          exitSide,
			Kind:          venue.KindTakeProfit,
			ClientOrderID: id,
			Quantity:      pos.Quantity,
			StopPrice:     pos.TakeProfit,
			ReduceOnly:    true,
		})
		if err != nil {
			logger.Errorf("take-profit order on %s failed: %v", pos.Symbol, err)
		} else {
			pos.TakeProfitOrderID = id
		}
	}
}

func (m *Machine) cancelProtective(ctx context.Context, pos ledger.Position) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range []string{pos.StopOrderID, pos.TakeProfitOrderID} {
		if id == "" {
			continue
		}
		if err := m.venue.CancelOrder(ctx, pos.Symbol, id); err != nil && !errors.Is(err, venue.ErrOrderUnknown) {
			logger.Warnf("cancel protective %s/%s: %v", pos.Symbol, id, err)
		}
	}
}

func fillID(clientOrderID string) string { return "fill:" + clientOrderID }

// orderQuantity sizes the order: equity fraction times leverage worth of
// notional at the reference price.
func orderQuantity(equityUSD, sizeFraction float64, leverage int, price float64) float64 {
	if price <= 0 || sizeFraction <= 0 || equityUSD <= 0 {
		return 0
	}
	if leverage < 1 {
		leverage = 1
	}
	notional := decimal.NewFromFloat(equityUSD).
		Mul(decimal.NewFromFloat(sizeFraction)).
		Mul(decimal.NewFromInt(int64(leverage)))
	return notional.Div(decimal.NewFromFloat(price)).Round(6).InexactFloat64()
}
