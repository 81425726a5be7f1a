package scheduler

import (
	"context"
	"time"

	"quorum/internal/logger"
)

// AlignedTicker fires aligned to interval boundaries (candle closes),
// optionally after an offset that lets the venue finalize the bar. It
// runs the task in the calling goroutine so at most one run is in
// flight per ticker.
type AlignedTicker struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedTicker(name string, interval, offset time.Duration, runImmediately bool) *AlignedTicker {
	return &AlignedTicker{
		Name:           name,
		Interval:       interval,
		Offset:         offset,
		RunImmediately: runImmediately,
		nowFn:          time.Now,
	}
}

// Run blocks until ctx is done, invoking task on every aligned tick.
func (t *AlignedTicker) Run(ctx context.Context, task func()) {
	if task == nil || t.Interval <= 0 {
		logger.Warnf("AlignedTicker[%s]: nothing to run (interval=%s)", t.Name, t.Interval)
		return
	}
	if t.Offset < 0 {
		t.Offset = 0
	}
	if t.nowFn == nil {
		t.nowFn = time.Now
	}

	if t.RunImmediately {
		task()
	}
	for {
		now := t.nowFn().UTC()
		next := now.Truncate(t.Interval).Add(t.Interval).Add(t.Offset)
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			task()
		}
	}
}
