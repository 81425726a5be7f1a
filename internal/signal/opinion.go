// Package signal defines the advisory provider contract and the concurrent
// runner that collects one opinion per provider for each evaluation cycle.
package signal

import (
	"context"
	"errors"
	"time"

	"quorum/internal/market"
)

// Call is one provider's directional view.
type Call string

const (
	CallLong  Call = "long"
	CallShort Call = "short"
	CallFlat  Call = "flat"
)

// ParseCall normalizes a provider-supplied call string. Unknown values are
// rejected rather than defaulted: a broken provider must surface as absent.
func ParseCall(s string) (Call, bool) {
	switch Call(s) {
	case CallLong, CallShort, CallFlat:
		return Call(s), true
	}
	return "", false
}

// Opposite returns the reverse directional call; flat has no opposite.
func (c Call) Opposite() Call {
	switch c {
	case CallLong:
		return CallShort
	case CallShort:
		return CallLong
	}
	return CallFlat
}

// Opinion is one provider's structured view of one snapshot.
// Confidence is within [0,1]. Size, StopLoss and TakeProfit are optional
// (zero when the provider expresses no preference).
type Opinion struct {
	ProviderID string
	Symbol     string
	Timestamp  time.Time
	Call       Call
	Confidence float64
	Size       float64 // fraction of equity
	StopLoss   float64
	TakeProfit float64
	Rationale  string
}

// Provider is the uniform capability every advisory source implements.
// Evaluate must respect ctx; the runner additionally enforces a hard
// timeout so a misbehaving provider cannot stall the cycle.
type Provider interface {
	ID() string
	Evaluate(ctx context.Context, snap market.Snapshot) (Opinion, error)
}

// Adapter couples one provider with its static weight and timeout.
type Adapter struct {
	Provider Provider
	Weight   float64
	Timeout  time.Duration
}

// Result is one adapter's outcome for one cycle. Opinion is nil when the
// provider failed or timed out; an absent opinion never defaults to flat.
type Result struct {
	ProviderID string
	Weight     float64
	Opinion    *Opinion
	Err        error
	Elapsed    time.Duration
}

// Absent reports whether the adapter produced no usable opinion.
func (r Result) Absent() bool { return r.Opinion == nil }

// ErrAdapterTimeout marks a provider that exceeded its evaluation budget.
var ErrAdapterTimeout = errors.New("adapter evaluation timed out")
