// Package risk stands between a decision and the venue. Every directional
// decision passes the gate's ordered checks; the gate can approve, resize,
// or reject, and its policy can be swapped at runtime.
package risk

import (
	"fmt"
	"sync"

	"quorum/internal/ensemble"
	"quorum/internal/ledger"

	"github.com/shopspring/decimal"
)

// Policy is the active set of limits. Fractions are of account equity.
type Policy struct {
	MaxPositionSize    float64 // total exposure cap across open positions
	MaxDailyLoss       float64
	MaxLeverage        int
	DefaultStopLossPct float64
	MaxOpenPositions   int     // 0 disables the check
	MinEquityUSD       float64 // 0 disables the check
}

type VerdictKind string

const (
	Approved VerdictKind = "approved"
	Resized  VerdictKind = "resized"
	Rejected VerdictKind = "rejected"
)

// Verdict carries the (possibly adjusted) trade parameters. Size, Leverage
// and StopLoss are authoritative when the kind is not Rejected.
type Verdict struct {
	Kind     VerdictKind
	Reason   string
	Size     float64
	Leverage int
	StopLoss float64
}

func (v Verdict) Allowed() bool { return v.Kind != Rejected }

// Gate evaluates decisions against the current policy and a ledger view.
// It holds no position state itself so checks are pure given the view.
type Gate struct {
	mu     sync.RWMutex
	policy Policy
}

func NewGate(p Policy) *Gate {
	return &Gate{policy: p}
}

// SetPolicy atomically replaces the limits. Called on config hot reload.
func (g *Gate) SetPolicy(p Policy) {
	g.mu.Lock()
	g.policy = p
	g.mu.Unlock()
}

func (g *Gate) Policy() Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy
}

// Check runs the ordered checks against a directional decision. price is
// the current mark used for stop synthesis. The checks run in a fixed
// order so a rejection reason is always the first limit hit.
func (g *Gate) Check(d ensemble.Decision, price float64, view ledger.View) Verdict {
	g.mu.RLock()
	p := g.policy
	g.mu.RUnlock()

	if !d.Directional() {
		return Verdict{Kind: Rejected, Reason: "decision is not directional"}
	}
	if view.Frozen {
		return Verdict{Kind: Rejected, Reason: "trading frozen: " + view.FrozenReason}
	}
	if view.Halted {
		return Verdict{Kind: Rejected, Reason: "trading halted: daily loss budget exhausted"}
	}
	if _, exists := view.Positions[d.Symbol]; exists {
		return Verdict{Kind: Rejected, Reason: fmt.Sprintf("position already open on %s", d.Symbol)}
	}
	if p.MaxOpenPositions > 0 && len(view.Positions) >= p.MaxOpenPositions {
		return Verdict{Kind: Rejected, Reason: fmt.Sprintf("open position limit reached (%d)", p.MaxOpenPositions)}
	}
	if p.MinEquityUSD > 0 && view.EquityUSD < p.MinEquityUSD {
		return Verdict{Kind: Rejected, Reason: fmt.Sprintf("equity %.2f below minimum %.2f", view.EquityUSD, p.MinEquityUSD)}
	}

	v := Verdict{Kind: Approved, Size: d.Size, Leverage: d.Leverage, StopLoss: d.StopLoss}

	// Exposure headroom: committed fractions of all open positions plus
	// this request must stay under the cap. Oversized requests shrink to
	// the headroom rather than bouncing.
	size := decimal.NewFromFloat(d.Size)
	limit := decimal.NewFromFloat(p.MaxPositionSize)
	committed := decimal.Zero
	for _, pos := range view.Positions {
		committed = committed.Add(decimal.NewFromFloat(pos.SizeFraction))
	}
	headroom := limit.Sub(committed)
	if !headroom.IsPositive() {
		return Verdict{Kind: Rejected, Reason: fmt.Sprintf("no exposure headroom: %s of %s committed",
			committed.StringFixed(4), limit.StringFixed(4))}
	}
	if size.GreaterThan(headroom) {
		v.Kind = Resized
		v.Size = headroom.InexactFloat64()
		v.Reason = fmt.Sprintf("size %s resized to headroom %s", size.StringFixed(4), headroom.StringFixed(4))
	}
	if v.Size <= 0 {
		return Verdict{Kind: Rejected, Reason: "requested size is zero"}
	}

	if p.MaxLeverage > 0 && v.Leverage > p.MaxLeverage {
		if v.Kind != Resized {
			v.Kind = Resized
			v.Reason = fmt.Sprintf("leverage %d clamped to %d", v.Leverage, p.MaxLeverage)
		}
		v.Leverage = p.MaxLeverage
	}
	if v.Leverage < 1 {
		v.Leverage = 1
	}

	// Every exposure leaves the gate with a stop. Decisions without one
	// get the default distance from the current price.
	if v.StopLoss <= 0 && price > 0 && p.DefaultStopLossPct > 0 {
		pct := decimal.NewFromFloat(p.DefaultStopLossPct)
		mark := decimal.NewFromFloat(price)
		if d.Action == ensemble.ActionLong {
			v.StopLoss = mark.Mul(decimal.NewFromInt(1).Sub(pct)).InexactFloat64()
		} else {
			v.StopLoss = mark.Mul(decimal.NewFromInt(1).Add(pct)).InexactFloat64()
		}
	}
	return v
}
