package market

import (
	"context"
	"time"
)

// Snapshot is one immutable view of a symbol's market state, identified by
// (Symbol, Timestamp). Indicators maps indicator name to its latest value.
type Snapshot struct {
	Symbol     string
	Timestamp  time.Time
	Price      float64
	Volume     float64
	Indicators map[string]float64
}

// Candle is one OHLCV bar; times are epoch milliseconds.
type Candle struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Source produces snapshots on demand. Implementations may fail transiently;
// callers retry on the next cycle.
type Source interface {
	Name() string
	GetSnapshot(ctx context.Context, symbol string) (Snapshot, error)
}
