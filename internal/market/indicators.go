package market

import (
	talib "github.com/markcheno/go-talib"
)

// Indicator names published into Snapshot.Indicators.
const (
	IndRSI        = "rsi_14"
	IndMACD       = "macd"
	IndMACDSignal = "macd_signal"
	IndMACDHist   = "macd_hist"
	IndEMA12      = "ema_12"
	IndEMA26      = "ema_26"
	IndSMA20      = "sma_20"
	IndSMA50      = "sma_50"
	IndBollUpper  = "boll_upper"
	IndBollMiddle = "boll_middle"
	IndBollLower  = "boll_lower"
	IndATR        = "atr_14"
	IndROC        = "roc_10"
)

// minIndicatorBars is the smallest history that lets every indicator warm up.
const minIndicatorBars = 60

// ComputeIndicators derives the standard indicator set from candle history.
// Returns nil when the history is too short for a stable read.
func ComputeIndicators(candles []Candle) map[string]float64 {
	n := len(candles)
	if n < minIndicatorBars {
		return nil
	}
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	last := n - 1

	out := make(map[string]float64, 13)
	out[IndRSI] = talib.Rsi(closes, 14)[last]
	macd, sig, hist := talib.Macd(closes, 12, 26, 9)
	out[IndMACD] = macd[last]
	out[IndMACDSignal] = sig[last]
	out[IndMACDHist] = hist[last]
	out[IndEMA12] = talib.Ema(closes, 12)[last]
	out[IndEMA26] = talib.Ema(closes, 26)[last]
	out[IndSMA20] = talib.Sma(closes, 20)[last]
	out[IndSMA50] = talib.Sma(closes, 50)[last]
	upper, middle, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
	out[IndBollUpper] = upper[last]
	out[IndBollMiddle] = middle[last]
	out[IndBollLower] = lower[last]
	out[IndATR] = talib.Atr(highs, lows, closes, 14)[last]
	out[IndROC] = talib.Roc(closes, 10)[last]
	return out
}
