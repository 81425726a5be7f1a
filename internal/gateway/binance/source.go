// Package binance adapts Binance USDⓈ-M futures endpoints to the market
// and venue interfaces.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quorum/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

// SourceConfig describes the market data side of the gateway.
type SourceConfig struct {
	RESTBaseURL  string
	Interval     string
	HistoryLimit int
	HTTPTimeout  time.Duration
}

func (c SourceConfig) withDefaults() SourceConfig {
	if strings.TrimSpace(c.RESTBaseURL) == "" {
		c.RESTBaseURL = "https://fapi.binance.com"
	}
	if strings.TrimSpace(c.Interval) == "" {
		c.Interval = "15m"
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 200
	}
	if c.HistoryLimit > maxHistoryLimit {
		c.HistoryLimit = maxHistoryLimit
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	return c
}

// Source implements market.Source on top of the go-binance futures client.
type Source struct {
	cfg    SourceConfig
	client *futures.Client
}

func NewSource(cfg SourceConfig) *Source {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

func (s *Source) Name() string { return "binance" }

// GetSnapshot fetches recent klines and derives the indicator set.
func (s *Source) GetSnapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return market.Snapshot{}, fmt.Errorf("symbol is required")
	}
	candles, err := s.fetchHistory(ctx, symbol)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("fetch klines %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return market.Snapshot{}, fmt.Errorf("no klines returned for %s", symbol)
	}
	last := candles[len(candles)-1]
	return market.Snapshot{
		Symbol:     symbol,
		Timestamp:  time.UnixMilli(last.CloseTime).UTC(),
		Price:      last.Close,
		Volume:     last.Volume,
		Indicators: market.ComputeIndicators(candles),
	}, nil
}

func (s *Source) fetchHistory(ctx context.Context, symbol string) ([]market.Candle, error) {
	svc := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(s.cfg.Interval).
		Limit(s.cfg.HistoryLimit)
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
