package venue

import (
	"context"
	"fmt"
	"sync"
)

// Paper simulates an execution venue in process. Market orders fill
// immediately at the reference price; stop and take-profit orders rest
// until cancelled or manually triggered. Failure and ambiguity can be
// injected, which the execution tests lean on heavily.
type Paper struct {
	mu     sync.Mutex
	equity float64
	orders map[string]*OrderStatus // by client order ID

	// fault injection for the next PlaceOrder call
	nextErr       error
	nextAmbiguous bool
	nextPartial   float64
}

func NewPaper(equityUSD float64) *Paper {
	return &Paper{
		equity: equityUSD,
		orders: map[string]*OrderStatus{},
	}
}

func (p *Paper) Name() string { return "paper" }

// FailNext makes the next placement return err without creating an order.
func (p *Paper) FailNext(err error) {
	p.mu.Lock()
	p.nextErr = err
	p.mu.Unlock()
}

// PartialNext makes the next market order fill only fraction of its
// quantity and then sit live until cancelled.
func (p *Paper) PartialNext(fraction float64) {
	p.mu.Lock()
	p.nextPartial = fraction
	p.mu.Unlock()
}

// AmbiguousNext makes the next placement return err AFTER the order was
// accepted and filled, mimicking a response lost on the wire.
func (p *Paper) AmbiguousNext(err error) {
	p.mu.Lock()
	p.nextErr = err
	p.nextAmbiguous = true
	p.mu.Unlock()
}

func (p *Paper) PlaceOrder(_ context.Context, req OrderRequest) (Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.nextErr != nil && !p.nextAmbiguous {
		err := p.nextErr
		p.nextErr = nil
		return Ack{}, err
	}

	if req.ClientOrderID == "" {
		return Ack{}, fmt.Errorf("client order id is required")
	}
	if _, dup := p.orders[req.ClientOrderID]; dup {
		return Ack{}, fmt.Errorf("duplicate client order id %s", req.ClientOrderID)
	}
	if req.Quantity <= 0 {
		return Ack{}, fmt.Errorf("quantity must be positive")
	}

	st := &OrderStatus{
		ClientOrderID: req.ClientOrderID,
		VenueOrderID:  fmt.Sprintf("paper-%d", len(p.orders)+1),
	}
	switch req.Kind {
	case KindMarket:
		if p.nextPartial > 0 {
			st.State = StatePartiallyFilled
			st.FilledQuantity = req.Quantity * p.nextPartial
			st.AvgFillPrice = req.ReferencePrice
			p.nextPartial = 0
		} else {
			st.State = StateFilled
			st.FilledQuantity = req.Quantity
			st.AvgFillPrice = req.ReferencePrice
		}
	case KindStopMarket, KindTakeProfit:
		st.State = StatePending
	default:
		return Ack{}, fmt.Errorf("unsupported order kind %q", req.Kind)
	}
	p.orders[req.ClientOrderID] = st

	if p.nextAmbiguous {
		err := p.nextErr
		p.nextErr = nil
		p.nextAmbiguous = false
		return Ack{}, err
	}
	return Ack{VenueOrderID: st.VenueOrderID, State: st.State}, nil
}

func (p *Paper) OrderStatus(_ context.Context, _ string, clientOrderID string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[clientOrderID]
	if !ok {
		return OrderStatus{}, ErrOrderUnknown
	}
	return *st, nil
}

func (p *Paper) CancelOrder(_ context.Context, _ string, clientOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[clientOrderID]
	if !ok {
		return ErrOrderUnknown
	}
	if st.State.Terminal() {
		return fmt.Errorf("order %s already %s", clientOrderID, st.State)
	}
	st.State = StateCancelled
	return nil
}

func (p *Paper) Equity(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equity, nil
}

// TriggerProtective fills a resting stop or take-profit order at price.
// Test helper for protective-trigger flows.
func (p *Paper) TriggerProtective(clientOrderID string, price, qty float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[clientOrderID]
	if !ok {
		return ErrOrderUnknown
	}
	if st.State.Terminal() {
		return fmt.Errorf("order %s already %s", clientOrderID, st.State)
	}
	st.State = StateFilled
	st.FilledQuantity = qty
	st.AvgFillPrice = price
	return nil
}
