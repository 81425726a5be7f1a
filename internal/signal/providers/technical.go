// Package providers carries the built-in advisory providers that feed the
// ensemble: two local rule engines and a remote HTTP advisor.
package providers

import (
	"context"
	"fmt"

	"quorum/internal/market"
	"quorum/internal/signal"
)

// Technical votes on RSI extremes confirmed by MACD momentum. It is
// intentionally simple; its value to the ensemble is that it disagrees with
// trend followers near exhaustion points.
type Technical struct {
	id string

	// RSI bands; outside them the provider considers the market stretched.
	Oversold   float64
	Overbought float64
}

func NewTechnical(id string) *Technical {
	return &Technical{id: id, Oversold: 30, Overbought: 70}
}

func (t *Technical) ID() string { return t.id }

func (t *Technical) Evaluate(_ context.Context, snap market.Snapshot) (signal.Opinion, error) {
	rsi, ok := snap.Indicators[market.IndRSI]
	if !ok {
		return signal.Opinion{}, fmt.Errorf("snapshot missing %s", market.IndRSI)
	}
	hist, ok := snap.Indicators[market.IndMACDHist]
	if !ok {
		return signal.Opinion{}, fmt.Errorf("snapshot missing %s", market.IndMACDHist)
	}

	op := signal.Opinion{Call: signal.CallFlat, Confidence: 0.2, Rationale: "rsi neutral"}
	switch {
	case rsi <= t.Oversold && hist > 0:
		op.Call = signal.CallLong
		op.Confidence = scaleDistance(t.Oversold-rsi, t.Oversold)
		op.Rationale = fmt.Sprintf("rsi oversold (%.1f) with macd histogram turning up", rsi)
	case rsi >= t.Overbought && hist < 0:
		op.Call = signal.CallShort
		op.Confidence = scaleDistance(rsi-t.Overbought, 100-t.Overbought)
		op.Rationale = fmt.Sprintf("rsi overbought (%.1f) with macd histogram turning down", rsi)
	}

	if op.Call != signal.CallFlat {
		atr := snap.Indicators[market.IndATR]
		if atr > 0 && snap.Price > 0 {
			// 2×ATR stop, 3×ATR target.
			if op.Call == signal.CallLong {
				op.StopLoss = snap.Price - 2*atr
				op.TakeProfit = snap.Price + 3*atr
			} else {
				op.StopLoss = snap.Price + 2*atr
				op.TakeProfit = snap.Price - 3*atr
			}
		}
	}
	return op, nil
}

// scaleDistance maps how far past the band the oscillator sits onto a
// confidence in [0.5, 0.95].
func scaleDistance(past, span float64) float64 {
	if span <= 0 {
		return 0.5
	}
	frac := past / span
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return 0.5 + 0.45*frac
}
