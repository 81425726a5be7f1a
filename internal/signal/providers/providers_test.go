package providers

import (
	"context"
	"testing"
	"time"

	"quorum/internal/market"
	"quorum/internal/signal"

	"github.com/stretchr/testify/assert"
)

func snapWith(ind map[string]float64) market.Snapshot {
	return market.Snapshot{
		Symbol:     "BTCUSDT",
		Timestamp:  time.Now(),
		Price:      50000,
		Volume:     1200,
		Indicators: ind,
	}
}

func TestTechnicalOversoldGoesLong(t *testing.T) {
	p := NewTechnical("ta")
	op, err := p.Evaluate(context.Background(), snapWith(map[string]float64{
		market.IndRSI:      22,
		market.IndMACDHist: 1.5,
		market.IndATR:      400,
	}))
	assert.NoError(t, err)
	assert.Equal(t, signal.CallLong, op.Call)
	assert.Greater(t, op.Confidence, 0.5)
	assert.Equal(t, 50000-2*400.0, op.StopLoss)
	assert.Equal(t, 50000+3*400.0, op.TakeProfit)
}

func TestTechnicalNeutralStaysFlat(t *testing.T) {
	p := NewTechnical("ta")
	op, err := p.Evaluate(context.Background(), snapWith(map[string]float64{
		market.IndRSI:      55,
		market.IndMACDHist: 0.3,
	}))
	assert.NoError(t, err)
	assert.Equal(t, signal.CallFlat, op.Call)
	assert.InDelta(t, 0.2, op.Confidence, 1e-9)
}

func TestTechnicalExtremeWithoutConfirmationStaysFlat(t *testing.T) {
	p := NewTechnical("ta")
	// Overbought but histogram still rising: no short.
	op, err := p.Evaluate(context.Background(), snapWith(map[string]float64{
		market.IndRSI:      82,
		market.IndMACDHist: 0.8,
	}))
	assert.NoError(t, err)
	assert.Equal(t, signal.CallFlat, op.Call)
}

func TestTechnicalMissingIndicator(t *testing.T) {
	p := NewTechnical("ta")
	_, err := p.Evaluate(context.Background(), snapWith(map[string]float64{
		market.IndMACDHist: 0.8,
	}))
	assert.Error(t, err)
}

func TestMomentumUptrend(t *testing.T) {
	p := NewMomentum("mom")
	op, err := p.Evaluate(context.Background(), snapWith(map[string]float64{
		market.IndEMA12: 50500,
		market.IndEMA26: 49500,
		market.IndROC:   2.1,
		market.IndATR:   350,
	}))
	assert.NoError(t, err)
	assert.Equal(t, signal.CallLong, op.Call)
	assert.GreaterOrEqual(t, op.Confidence, 0.4)
	assert.Equal(t, 50000-3*350.0, op.StopLoss)
}

func TestMomentumWeakROCStaysFlat(t *testing.T) {
	p := NewMomentum("mom")
	op, err := p.Evaluate(context.Background(), snapWith(map[string]float64{
		market.IndEMA12: 50100,
		market.IndEMA26: 50000,
		market.IndROC:   0.1,
	}))
	assert.NoError(t, err)
	assert.Equal(t, signal.CallFlat, op.Call)
}

func TestParseRemoteOpinion(t *testing.T) {
	op, err := ParseRemoteOpinion([]byte(`{"call":"short","confidence":0.72,"size":0.05,"stop_loss":51000,"rationale":"funding crowded"}`))
	assert.NoError(t, err)
	assert.Equal(t, signal.CallShort, op.Call)
	assert.InDelta(t, 0.72, op.Confidence, 1e-9)
	assert.InDelta(t, 0.05, op.Size, 1e-9)
	assert.Equal(t, 51000.0, op.StopLoss)
}

func TestParseRemoteOpinionEnvelope(t *testing.T) {
	op, err := ParseRemoteOpinion([]byte(`{"opinion":{"call":"long","confidence":0.4}}`))
	assert.NoError(t, err)
	assert.Equal(t, signal.CallLong, op.Call)
}

func TestParseRemoteOpinionRejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `hold with conviction`,
		"unknown call":    `{"call":"hold","confidence":0.5}`,
		"missing fields":  `{"call":"long"}`,
		"confidence >1":   `{"call":"long","confidence":1.4}`,
		"confidence type": `{"call":"long","confidence":"high"}`,
	}
	for name, payload := range cases {
		_, err := ParseRemoteOpinion([]byte(payload))
		assert.Error(t, err, name)
	}
}
