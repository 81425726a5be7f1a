package providers

import (
	"context"
	"fmt"
	"math"

	"quorum/internal/market"
	"quorum/internal/signal"
)

// Momentum follows the EMA(12/26) cross confirmed by rate of change. It is
// the trend-following counterpart to Technical's mean reversion.
type Momentum struct {
	id string

	// MinROC is the minimum absolute 10-bar rate of change (percent) for a
	// directional call; below it the provider stays flat.
	MinROC float64
}

func NewMomentum(id string) *Momentum {
	return &Momentum{id: id, MinROC: 0.5}
}

func (m *Momentum) ID() string { return m.id }

func (m *Momentum) Evaluate(_ context.Context, snap market.Snapshot) (signal.Opinion, error) {
	fast, ok := snap.Indicators[market.IndEMA12]
	if !ok {
		return signal.Opinion{}, fmt.Errorf("snapshot missing %s", market.IndEMA12)
	}
	slow, ok := snap.Indicators[market.IndEMA26]
	if !ok {
		return signal.Opinion{}, fmt.Errorf("snapshot missing %s", market.IndEMA26)
	}
	roc := snap.Indicators[market.IndROC]

	op := signal.Opinion{Call: signal.CallFlat, Confidence: 0.2, Rationale: "no established trend"}
	if slow <= 0 {
		return op, nil
	}
	spreadPct := (fast - slow) / slow * 100

	switch {
	case spreadPct > 0 && roc >= m.MinROC:
		op.Call = signal.CallLong
		op.Confidence = trendConfidence(spreadPct, roc)
		op.Rationale = fmt.Sprintf("ema12 above ema26 (%.2f%%) with roc %.2f%%", spreadPct, roc)
	case spreadPct < 0 && roc <= -m.MinROC:
		op.Call = signal.CallShort
		op.Confidence = trendConfidence(-spreadPct, -roc)
		op.Rationale = fmt.Sprintf("ema12 below ema26 (%.2f%%) with roc %.2f%%", spreadPct, roc)
	}

	if op.Call != signal.CallFlat {
		atr := snap.Indicators[market.IndATR]
		if atr > 0 && snap.Price > 0 {
			// Trend trades keep a wider 3×ATR stop.
			if op.Call == signal.CallLong {
				op.StopLoss = snap.Price - 3*atr
			} else {
				op.StopLoss = snap.Price + 3*atr
			}
		}
	}
	return op, nil
}

func trendConfidence(spreadPct, rocPct float64) float64 {
	// Saturating blend of trend strength and momentum.
	strength := 1 - math.Exp(-(spreadPct+rocPct)/2)
	if strength < 0 {
		strength = 0
	}
	return 0.4 + 0.55*strength
}
