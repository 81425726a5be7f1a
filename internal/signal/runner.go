package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quorum/internal/logger"
	"quorum/internal/market"
)

// Runner fans one snapshot out to every adapter concurrently and joins the
// results. A slow or failing adapter is reported absent; it never delays or
// poisons the others.
type Runner struct {
	adapters []Adapter
}

func NewRunner(adapters []Adapter) *Runner {
	return &Runner{adapters: adapters}
}

// Adapters exposes the configured adapter set (for status reporting).
func (r *Runner) Adapters() []Adapter {
	return append([]Adapter(nil), r.adapters...)
}

// Collect queries every adapter in parallel and returns one Result per
// adapter, in configuration order (the order is part of the deterministic
// aggregation contract).
func (r *Runner) Collect(ctx context.Context, snap market.Snapshot) []Result {
	results := make([]Result, len(r.adapters))
	var wg sync.WaitGroup
	for i, a := range r.adapters {
		wg.Add(1)
		go func(idx int, a Adapter) {
			defer wg.Done()
			results[idx] = r.evaluateOne(ctx, a, snap)
		}(i, a)
	}
	wg.Wait()
	return results
}

// evaluateOne runs a single provider under its hard timeout. The provider
// call happens in its own goroutine so that even a provider ignoring ctx
// cannot hold the cycle past the budget; a late result is discarded.
func (r *Runner) evaluateOne(ctx context.Context, a Adapter, snap market.Snapshot) Result {
	id := a.Provider.ID()
	res := Result{ProviderID: id, Weight: a.Weight}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		op  Opinion
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("provider %s panicked: %v", id, rec)}
			}
		}()
		op, err := a.Provider.Evaluate(cctx, snap)
		done <- outcome{op: op, err: err}
	}()

	select {
	case out := <-done:
		res.Elapsed = time.Since(start)
		if out.err != nil {
			res.Err = out.err
			logger.Warnf("signal: adapter=%s symbol=%s failed after %s: %v", id, snap.Symbol, res.Elapsed.Truncate(time.Millisecond), out.err)
			return res
		}
		op := out.op
		if _, ok := ParseCall(string(op.Call)); !ok {
			res.Err = fmt.Errorf("provider %s returned invalid call %q", id, op.Call)
			logger.Warnf("signal: %v", res.Err)
			return res
		}
		op.ProviderID = id
		op.Symbol = snap.Symbol
		op.Timestamp = snap.Timestamp
		op.Confidence = clamp01(op.Confidence)
		res.Opinion = &op
		return res
	case <-cctx.Done():
		res.Elapsed = time.Since(start)
		res.Err = fmt.Errorf("%w: adapter=%s budget=%s", ErrAdapterTimeout, id, timeout)
		logger.Warnf("signal: adapter=%s symbol=%s timed out after %s", id, snap.Symbol, timeout)
		return res
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
