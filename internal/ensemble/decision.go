// Package ensemble folds independent advisory opinions into one
// per-symbol decision by weighted vote.
package ensemble

import "time"

// Action is what the engine should do with the symbol this cycle.
type Action string

const (
	ActionLong  Action = "long"
	ActionShort Action = "short"
	ActionFlat  Action = "flat"
	// ActionClose is synthesized downstream when a directional decision
	// opposes an open position; the aggregator itself never emits it.
	ActionClose Action = "close"
)

// Contribution records how one provider influenced the vote. The full set
// is kept on the decision so the audit trail can explain any trade.
type Contribution struct {
	ProviderID string  `json:"provider_id"`
	Call       string  `json:"call"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
	Absent     bool    `json:"absent,omitempty"`
	Error      string  `json:"error,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
	ElapsedMS  int64   `json:"elapsed_ms"`
}

// Decision is the aggregated verdict for one symbol at one instant.
type Decision struct {
	Symbol        string
	Timestamp     time.Time
	TraceID       string
	Action        Action
	Confidence    float64
	Size          float64 // fraction of equity, 0 means caller default
	Leverage      int
	StopLoss      float64
	TakeProfit    float64
	Annotation    string
	Contributions []Contribution
}

// Directional reports whether the decision asks for a new exposure.
func (d Decision) Directional() bool {
	return d.Action == ActionLong || d.Action == ActionShort
}
