// Package gormstore backs store.LedgerStore with Gorm over SQLite.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quorum/internal/ledger"
	"quorum/internal/store"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type ledgerStateModel struct {
	ID        uint           `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"type:json"`
	UpdatedAt time.Time
}

func (ledgerStateModel) TableName() string { return "ledger_state" }

type auditModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	TraceID       string `gorm:"size:64;index"`
	Symbol        string `gorm:"size:32;index"`
	Action        string `gorm:"size:16"`
	Confidence    float64
	VerdictKind   string `gorm:"size:16"`
	VerdictReason string
	Annotation    string
	Contributions datatypes.JSON `gorm:"type:json"`
	Price         float64
	CreatedAt     time.Time `gorm:"index"`
}

func (auditModel) TableName() string { return "cycle_audits" }

type closedTradeModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	TraceID    string `gorm:"size:64;index"`
	Symbol     string `gorm:"size:32;index"`
	Side       string `gorm:"size:8"`
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Leverage   int
	Realized   float64
	Reason     string
	OpenedAt   time.Time
	ClosedAt   time.Time `gorm:"index"`
}

func (closedTradeModel) TableName() string { return "closed_trades" }

// GormStore implements store.LedgerStore on SQLite in WAL mode.
type GormStore struct {
	db *gorm.DB
}

var _ store.LedgerStore = (*GormStore)(nil)

func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ledgerStateModel{}, &auditModel{}, &closedTradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a little parallelism for HTTP reads while the
	// engine writes, without piling up lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveState upserts the single ledger snapshot row.
func (s *GormStore) SaveState(ctx context.Context, view ledger.View) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return err
	}
	rec := ledgerStateModel{ID: 1, Payload: payload, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&rec).Error
}

func (s *GormStore) LoadState(ctx context.Context) (ledger.View, bool, error) {
	var rec ledgerStateModel
	err := s.db.WithContext(ctx).First(&rec, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.View{}, false, nil
	}
	if err != nil {
		return ledger.View{}, false, err
	}
	var view ledger.View
	if err := json.Unmarshal(rec.Payload, &view); err != nil {
		return ledger.View{}, false, fmt.Errorf("decode ledger state: %w", err)
	}
	return view, true, nil
}

func (s *GormStore) AppendAudit(ctx context.Context, rec store.AuditRecord) error {
	m := auditModel{
		TraceID:       rec.TraceID,
		Symbol:        rec.Symbol,
		Action:        rec.Action,
		Confidence:    rec.Confidence,
		VerdictKind:   rec.VerdictKind,
		VerdictReason: rec.VerdictReason,
		Annotation:    rec.Annotation,
		Contributions: datatypes.JSON(rec.Contributions),
		Price:         rec.Price,
		CreatedAt:     rec.CreatedAt,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) RecentAudits(ctx context.Context, symbol string, limit int) ([]store.AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&auditModel{}).Order("id DESC").Limit(limit)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var models []auditModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.AuditRecord, 0, len(models))
	for _, m := range models {
		out = append(out, store.AuditRecord{
			ID:            m.ID,
			TraceID:       m.TraceID,
			Symbol:        m.Symbol,
			Action:        m.Action,
			Confidence:    m.Confidence,
			VerdictKind:   m.VerdictKind,
			VerdictReason: m.VerdictReason,
			Annotation:    m.Annotation,
			Contributions: []byte(m.Contributions),
			Price:         m.Price,
			CreatedAt:     m.CreatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) RecordClosedTrade(ctx context.Context, trade store.ClosedTrade) error {
	m := closedTradeModel{
		TraceID:    trade.TraceID,
		Symbol:     trade.Symbol,
		Side:       trade.Side,
		EntryPrice: trade.EntryPrice,
		ExitPrice:  trade.ExitPrice,
		Quantity:   trade.Quantity,
		Leverage:   trade.Leverage,
		Realized:   trade.Realized,
		Reason:     trade.Reason,
		OpenedAt:   trade.OpenedAt,
		ClosedAt:   trade.ClosedAt,
	}
	if m.ClosedAt.IsZero() {
		m.ClosedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) RecentClosedTrades(ctx context.Context, limit int) ([]store.ClosedTrade, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []closedTradeModel
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.ClosedTrade, 0, len(models))
	for _, m := range models {
		out = append(out, store.ClosedTrade{
			ID:         m.ID,
			TraceID:    m.TraceID,
			Symbol:     m.Symbol,
			Side:       m.Side,
			EntryPrice: m.EntryPrice,
			ExitPrice:  m.ExitPrice,
			Quantity:   m.Quantity,
			Leverage:   m.Leverage,
			Realized:   m.Realized,
			Reason:     m.Reason,
			OpenedAt:   m.OpenedAt,
			ClosedAt:   m.ClosedAt,
		})
	}
	return out, nil
}
