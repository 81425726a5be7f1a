package ensemble

import (
	"fmt"
	"math"
	"time"

	"quorum/internal/signal"

	"github.com/google/uuid"
)

// Config bounds the vote. Weights live on the adapters themselves; the
// aggregator only needs the acceptance rules.
type Config struct {
	// QuorumMinimum is the least number of usable opinions required to
	// emit a directional decision.
	QuorumMinimum int
	// ConfidenceThreshold demotes weak directional winners to flat.
	ConfidenceThreshold float64
	// TieEpsilon: two distinct calls scoring within this of each other is
	// a contested vote, which resolves to flat.
	TieEpsilon float64
	// Defaults applied when no winning voter supplied a value.
	DefaultSize     float64
	DefaultLeverage int
}

// Aggregator is a pure function of its inputs; the same results always
// produce the same decision.
type Aggregator struct {
	cfg Config
}

func NewAggregator(cfg Config) *Aggregator {
	if cfg.QuorumMinimum < 1 {
		cfg.QuorumMinimum = 1
	}
	if cfg.DefaultLeverage < 1 {
		cfg.DefaultLeverage = 1
	}
	return &Aggregator{cfg: cfg}
}

// voteOrder fixes iteration order so scoring and tie detection are
// deterministic regardless of map layout.
var voteOrder = []signal.Call{signal.CallLong, signal.CallShort, signal.CallFlat}

// traceID is a v5 UUID over (symbol, timestamp), so identical inputs
// yield byte-identical decisions and replays share their trace.
func traceID(symbol string, at time.Time) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(symbol+"@"+at.UTC().Format(time.RFC3339Nano))).String()
}

// Aggregate folds provider results into one decision for the symbol.
// Results arrive in adapter configuration order and that order is kept in
// the contribution list.
func (a *Aggregator) Aggregate(symbol string, at time.Time, results []signal.Result) Decision {
	d := Decision{
		Symbol:    symbol,
		Timestamp: at,
		TraceID:   traceID(symbol, at),
		Action:    ActionFlat,
		Leverage:  a.cfg.DefaultLeverage,
	}

	scores := map[signal.Call]float64{}
	var contributingWeight float64
	var present int
	for _, r := range results {
		c := Contribution{ProviderID: r.ProviderID, Weight: r.Weight, ElapsedMS: r.Elapsed.Milliseconds()}
		if r.Absent() {
			c.Absent = true
			if r.Err != nil {
				c.Error = r.Err.Error()
			}
			d.Contributions = append(d.Contributions, c)
			continue
		}
		op := *r.Opinion
		c.Call = string(op.Call)
		c.Confidence = op.Confidence
		c.Rationale = op.Rationale
		d.Contributions = append(d.Contributions, c)

		scores[op.Call] += r.Weight * op.Confidence
		contributingWeight += r.Weight
		present++
	}

	if present < a.cfg.QuorumMinimum {
		d.Annotation = fmt.Sprintf("insufficient quorum: %d of %d opinions", present, a.cfg.QuorumMinimum)
		return d
	}

	winner := signal.CallFlat
	best := math.Inf(-1)
	for _, call := range voteOrder {
		if s := scores[call]; s > best {
			winner, best = call, s
		}
	}
	for _, call := range voteOrder {
		if call == winner {
			continue
		}
		if s, ok := scores[call]; ok && best-s <= a.cfg.TieEpsilon {
			d.Annotation = fmt.Sprintf("contested vote: %s %.4f vs %s %.4f", winner, best, call, s)
			return d
		}
	}

	conf := 0.0
	if contributingWeight > 0 {
		conf = best / contributingWeight
	}
	conf = clamp01(conf)

	if winner == signal.CallFlat {
		d.Confidence = conf
		d.Annotation = "ensemble votes flat"
		return d
	}
	if conf < a.cfg.ConfidenceThreshold {
		d.Annotation = fmt.Sprintf("confidence %.3f below threshold %.3f", conf, a.cfg.ConfidenceThreshold)
		return d
	}

	d.Action = Action(winner)
	d.Confidence = conf
	d.Size, d.StopLoss, d.TakeProfit = a.winnerLevels(winner, results)
	d.Annotation = fmt.Sprintf("weighted vote %s score=%.4f", winner, best)
	return d
}

// winnerLevels averages size and protective levels over the voters that
// backed the winning call, weighted like the vote itself. Voters that left
// a field zero do not dilute it.
func (a *Aggregator) winnerLevels(winner signal.Call, results []signal.Result) (size, stop, take float64) {
	var sizeW, stopW, takeW float64
	for _, r := range results {
		if r.Absent() || r.Opinion.Call != winner {
			continue
		}
		op := r.Opinion
		if op.Size > 0 {
			size += r.Weight * op.Size
			sizeW += r.Weight
		}
		if op.StopLoss > 0 {
			stop += r.Weight * op.StopLoss
			stopW += r.Weight
		}
		if op.TakeProfit > 0 {
			take += r.Weight * op.TakeProfit
			takeW += r.Weight
		}
	}
	if sizeW > 0 {
		size /= sizeW
	} else {
		size = a.cfg.DefaultSize
	}
	if stopW > 0 {
		stop /= stopW
	} else {
		stop = 0
	}
	if takeW > 0 {
		take /= takeW
	} else {
		take = 0
	}
	return size, stop, take
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
