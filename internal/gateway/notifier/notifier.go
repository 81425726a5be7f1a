// Package notifier pushes operator-facing events out of process.
package notifier

// Kind routes a notification; receivers may filter on it.
type Kind string

const (
	KindTradeExecution Kind = "trade_execution"
	KindRiskAlert      Kind = "risk_alert"
	KindSystemStatus   Kind = "system_status"
	KindDailyReport    Kind = "daily_report"
)

// TextNotifier delivers a formatted message. Implementations must not
// block the trading loop for long; delivery is best effort.
type TextNotifier interface {
	Notify(kind Kind, text string) error
}

// Nop discards everything. Used when no notifier is configured.
type Nop struct{}

func (Nop) Notify(Kind, string) error { return nil }
