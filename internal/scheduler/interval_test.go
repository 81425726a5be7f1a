package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
		" 5M ": 5 * time.Minute,
	}
	for in, want := range cases {
		got, ok := ParseIntervalDuration(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "m", "15", "0m", "-1h", "1x", "abch"} {
		_, ok := ParseIntervalDuration(in)
		assert.False(t, ok, in)
	}
}

func TestAlignedTickerRunImmediately(t *testing.T) {
	ticker := NewAlignedTicker("test", time.Hour, 0, true)
	ctx, cancel := context.WithCancel(context.Background())
	ran := 0
	go ticker.Run(ctx, func() {
		ran++
		cancel()
	})
	assert.Eventually(t, func() bool { return ran == 1 }, time.Second, 10*time.Millisecond)
}

func TestAlignedTickerStopsOnCancel(t *testing.T) {
	ticker := NewAlignedTicker("test", time.Hour, 0, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		ticker.Run(ctx, func() { t.Error("task should not run") })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop")
	}
}
