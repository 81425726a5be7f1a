package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func frozenClock(b *Breaker) *time.Time {
	now := time.Now()
	b.now = func() time.Time { return now }
	return &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("BTCUSDT", 3, time.Hour)
	assert.True(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker("BTCUSDT", 1, time.Minute)
	now := frozenClock(b)
	b.RecordFailure()
	assert.False(t, b.Allow())

	// Cooldown elapsed: one probe allowed.
	*now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("BTCUSDT", 1, time.Minute)
	now := frozenClock(b)
	b.RecordFailure()
	*now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := NewBreaker("BTCUSDT", 2, time.Hour)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}
