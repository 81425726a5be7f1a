// Package circuit keeps a failing symbol loop from hammering a broken
// dependency: after enough consecutive cycle failures the breaker opens
// and ticks are skipped until the cooldown lets a single probe through.
package circuit

import (
	"sync"
	"time"

	"quorum/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a consecutive-failure circuit breaker. One per symbol.
type Breaker struct {
	symbol    string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time

	now func() time.Time
}

func NewBreaker(symbol string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		symbol:    symbol,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether the next cycle may run. While open it returns
// false until the cooldown has elapsed, then admits exactly one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return true
	}
	if b.now().Sub(b.openedAt) < b.cooldown {
		return false
	}
	b.shift(StateHalfOpen)
	return true
}

// RecordSuccess closes the breaker and resets the failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == StateHalfOpen {
		b.shift(StateClosed)
	}
}

// RecordFailure counts one failed cycle. A failed half-open probe reopens
// immediately; a closed breaker opens once the streak hits the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	switch b.state {
	case StateHalfOpen:
		b.openedAt = b.now()
		b.shift(StateOpen)
	case StateClosed:
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.shift(StateOpen)
		}
	}
}

func (b *Breaker) shift(to State) {
	from := b.state
	b.state = to
	logger.Warnf("breaker %s: %s -> %s (failures=%d/%d, cooldown=%s)",
		b.symbol, from, to, b.failures, b.threshold, b.cooldown)
}
