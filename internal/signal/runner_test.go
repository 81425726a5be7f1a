package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"quorum/internal/market"

	"github.com/stretchr/testify/assert"
)

type fakeProvider struct {
	id    string
	op    Opinion
	err   error
	delay time.Duration
	panic bool
}

func (p *fakeProvider) ID() string { return p.id }

func (p *fakeProvider) Evaluate(ctx context.Context, _ market.Snapshot) (Opinion, error) {
	if p.panic {
		panic("boom")
	}
	if p.delay > 0 {
		// Deliberately ignores ctx; the runner must not care.
		time.Sleep(p.delay)
	}
	return p.op, p.err
}

func testSnap() market.Snapshot {
	return market.Snapshot{Symbol: "BTCUSDT", Timestamp: time.Now(), Price: 50000}
}

func TestCollectPreservesOrderAndStamps(t *testing.T) {
	r := NewRunner([]Adapter{
		{Provider: &fakeProvider{id: "a", op: Opinion{Call: CallLong, Confidence: 0.8}}, Weight: 2, Timeout: time.Second},
		{Provider: &fakeProvider{id: "b", op: Opinion{Call: CallFlat, Confidence: 0.2}}, Weight: 1, Timeout: time.Second},
	})
	results := r.Collect(context.Background(), testSnap())
	assert.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ProviderID)
	assert.Equal(t, "b", results[1].ProviderID)
	assert.Equal(t, 2.0, results[0].Weight)

	op := results[0].Opinion
	assert.NotNil(t, op)
	assert.Equal(t, "a", op.ProviderID)
	assert.Equal(t, "BTCUSDT", op.Symbol)
	assert.False(t, op.Timestamp.IsZero())
}

func TestCollectTimeoutIsAbsentNotFatal(t *testing.T) {
	r := NewRunner([]Adapter{
		{Provider: &fakeProvider{id: "slow", op: Opinion{Call: CallLong, Confidence: 0.9}, delay: time.Second}, Weight: 1, Timeout: 20 * time.Millisecond},
		{Provider: &fakeProvider{id: "fast", op: Opinion{Call: CallShort, Confidence: 0.7}}, Weight: 1, Timeout: time.Second},
	})
	results := r.Collect(context.Background(), testSnap())
	assert.True(t, results[0].Absent())
	assert.ErrorIs(t, results[0].Err, ErrAdapterTimeout)
	assert.False(t, results[1].Absent())
}

func TestCollectErrorAndPanicAreAbsent(t *testing.T) {
	r := NewRunner([]Adapter{
		{Provider: &fakeProvider{id: "bad", err: errors.New("upstream 500")}, Weight: 1, Timeout: time.Second},
		{Provider: &fakeProvider{id: "panicky", panic: true}, Weight: 1, Timeout: time.Second},
	})
	results := r.Collect(context.Background(), testSnap())
	assert.True(t, results[0].Absent())
	assert.True(t, results[1].Absent())
	assert.Contains(t, results[1].Err.Error(), "panicked")
}

func TestCollectRejectsInvalidCall(t *testing.T) {
	r := NewRunner([]Adapter{
		{Provider: &fakeProvider{id: "odd", op: Opinion{Call: Call("hold"), Confidence: 0.5}}, Weight: 1, Timeout: time.Second},
	})
	results := r.Collect(context.Background(), testSnap())
	assert.True(t, results[0].Absent())
}

func TestCollectClampsConfidence(t *testing.T) {
	r := NewRunner([]Adapter{
		{Provider: &fakeProvider{id: "hot", op: Opinion{Call: CallLong, Confidence: 1.7}}, Weight: 1, Timeout: time.Second},
	})
	results := r.Collect(context.Background(), testSnap())
	assert.Equal(t, 1.0, results[0].Opinion.Confidence)
}

func TestParseCall(t *testing.T) {
	for _, s := range []string{"long", "short", "flat"} {
		c, ok := ParseCall(s)
		assert.True(t, ok)
		assert.Equal(t, Call(s), c)
	}
	_, ok := ParseCall("hold")
	assert.False(t, ok)
	assert.Equal(t, CallShort, CallLong.Opposite())
	assert.Equal(t, CallLong, CallShort.Opposite())
	assert.Equal(t, CallFlat, CallFlat.Opposite())
}
