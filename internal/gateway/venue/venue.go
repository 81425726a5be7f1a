// Package venue abstracts the execution endpoint. The engine talks to a
// Venue; behind it sits either the Binance futures API or the in-process
// paper simulator.
package venue

import (
	"context"
	"errors"
)

type OrderState string

const (
	StatePending         OrderState = "pending"
	StatePartiallyFilled OrderState = "partially_filled"
	StateFilled          OrderState = "filled"
	StateCancelled       OrderState = "cancelled"
	StateFailed          OrderState = "failed"
)

// Terminal reports whether the order can no longer change state.
func (s OrderState) Terminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateFailed
}

type OrderKind string

const (
	KindMarket     OrderKind = "market"
	KindStopMarket OrderKind = "stop_market"
	KindTakeProfit OrderKind = "take_profit_market"
)

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderRequest is one order submission. ClientOrderID is caller-generated
// and is the idempotency key for status lookups after a lost response.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Kind          OrderKind
	ClientOrderID string
	Quantity      float64
	// ReferencePrice is the mark at decision time; simulators fill at it,
	// real venues ignore it for market orders.
	ReferencePrice float64
	// StopPrice triggers stop and take-profit kinds.
	StopPrice  float64
	ReduceOnly bool
	Leverage   int
}

// Ack is the immediate placement response.
type Ack struct {
	VenueOrderID string
	State        OrderState
}

// OrderStatus is a point-in-time report fetched by client order ID.
type OrderStatus struct {
	ClientOrderID  string
	VenueOrderID   string
	State          OrderState
	FilledQuantity float64
	AvgFillPrice   float64
}

// ErrOrderUnknown: the venue has no record of the client order ID. After
// an ambiguous placement this is the proof the order never made it.
var ErrOrderUnknown = errors.New("order unknown to venue")

type Venue interface {
	Name() string
	// PlaceOrder submits an order. An error return does NOT guarantee the
	// order was rejected; callers must treat transport errors as ambiguous
	// and resolve them via OrderStatus.
	PlaceOrder(ctx context.Context, req OrderRequest) (Ack, error)
	OrderStatus(ctx context.Context, symbol, clientOrderID string) (OrderStatus, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	// Equity reports the account's current USD margin balance.
	Equity(ctx context.Context) (float64, error)
}
