// Package store persists what must survive a restart: the ledger view,
// closed trades, and the per-cycle audit trail.
package store

import (
	"context"
	"time"

	"quorum/internal/ledger"
)

// AuditRecord is one cycle outcome for one symbol, kept verbatim enough
// to reconstruct why a trade did or did not happen.
type AuditRecord struct {
	ID            int64
	TraceID       string
	Symbol        string
	Action        string
	Confidence    float64
	VerdictKind   string
	VerdictReason string
	Annotation    string
	Contributions []byte // JSON, the full contribution list
	Price         float64
	CreatedAt     time.Time
}

// ClosedTrade is the durable record of one round trip.
type ClosedTrade struct {
	ID         int64
	TraceID    string
	Symbol     string
	Side       string
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Leverage   int
	Realized   float64
	Reason     string
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// LedgerStore is the persistence boundary the engine and HTTP API use.
type LedgerStore interface {
	SaveState(ctx context.Context, view ledger.View) error
	// LoadState returns ok=false when no state was ever saved.
	LoadState(ctx context.Context) (view ledger.View, ok bool, err error)
	AppendAudit(ctx context.Context, rec AuditRecord) error
	RecentAudits(ctx context.Context, symbol string, limit int) ([]AuditRecord, error)
	RecordClosedTrade(ctx context.Context, trade ClosedTrade) error
	RecentClosedTrades(ctx context.Context, limit int) ([]ClosedTrade, error)
	Close() error
}
