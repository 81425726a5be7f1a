package venue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func marketOrder(id string) OrderRequest {
	return OrderRequest{
		Symbol:         "BTCUSDT",
		Side:           SideBuy,
		Kind:           KindMarket,
		ClientOrderID:  id,
		Quantity:       0.01,
		ReferencePrice: 50000,
	}
}

func TestPaperMarketOrderFillsImmediately(t *testing.T) {
	p := NewPaper(10000)
	ack, err := p.PlaceOrder(context.Background(), marketOrder("c1"))
	assert.NoError(t, err)
	assert.Equal(t, StateFilled, ack.State)

	st, err := p.OrderStatus(context.Background(), "BTCUSDT", "c1")
	assert.NoError(t, err)
	assert.Equal(t, StateFilled, st.State)
	assert.Equal(t, 0.01, st.FilledQuantity)
	assert.Equal(t, 50000.0, st.AvgFillPrice)
}

func TestPaperProtectiveOrdersRest(t *testing.T) {
	p := NewPaper(10000)
	req := marketOrder("stop1")
	req.Kind = KindStopMarket
	req.Side = SideSell
	req.StopPrice = 47500
	req.ReduceOnly = true
	ack, err := p.PlaceOrder(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, StatePending, ack.State)

	assert.NoError(t, p.TriggerProtective("stop1", 47400, 0.01))
	st, _ := p.OrderStatus(context.Background(), "BTCUSDT", "stop1")
	assert.Equal(t, StateFilled, st.State)
	assert.Equal(t, 47400.0, st.AvgFillPrice)
}

func TestPaperFailNextLeavesNoOrder(t *testing.T) {
	p := NewPaper(10000)
	p.FailNext(errors.New("rejected"))
	_, err := p.PlaceOrder(context.Background(), marketOrder("c1"))
	assert.Error(t, err)
	_, err = p.OrderStatus(context.Background(), "BTCUSDT", "c1")
	assert.ErrorIs(t, err, ErrOrderUnknown)
}

func TestPaperAmbiguousNextRecordsOrder(t *testing.T) {
	p := NewPaper(10000)
	p.AmbiguousNext(errors.New("timeout"))
	_, err := p.PlaceOrder(context.Background(), marketOrder("c1"))
	assert.Error(t, err)
	// The order exists and filled even though the caller saw an error.
	st, err := p.OrderStatus(context.Background(), "BTCUSDT", "c1")
	assert.NoError(t, err)
	assert.Equal(t, StateFilled, st.State)
}

func TestPaperDuplicateClientOrderID(t *testing.T) {
	p := NewPaper(10000)
	_, err := p.PlaceOrder(context.Background(), marketOrder("c1"))
	assert.NoError(t, err)
	_, err = p.PlaceOrder(context.Background(), marketOrder("c1"))
	assert.Error(t, err)
}

func TestPaperCancel(t *testing.T) {
	p := NewPaper(10000)
	req := marketOrder("stop1")
	req.Kind = KindStopMarket
	req.StopPrice = 47000
	_, err := p.PlaceOrder(context.Background(), req)
	assert.NoError(t, err)
	assert.NoError(t, p.CancelOrder(context.Background(), "BTCUSDT", "stop1"))
	st, _ := p.OrderStatus(context.Background(), "BTCUSDT", "stop1")
	assert.Equal(t, StateCancelled, st.State)
	// Cancelling a terminal order is an error.
	assert.Error(t, p.CancelOrder(context.Background(), "BTCUSDT", "stop1"))
}

func TestOrderStateTerminal(t *testing.T) {
	assert.True(t, StateFilled.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StatePartiallyFilled.Terminal())
}
