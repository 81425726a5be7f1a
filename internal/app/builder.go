package app

import (
	"context"
	"fmt"
	"time"

	"quorum/internal/config"
	"quorum/internal/engine"
	"quorum/internal/ensemble"
	"quorum/internal/execution"
	binancesrc "quorum/internal/gateway/binance"
	"quorum/internal/gateway/notifier"
	"quorum/internal/gateway/venue"
	"quorum/internal/ledger"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/risk"
	"quorum/internal/signal"
	"quorum/internal/signal/providers"
	"quorum/internal/store"
	"quorum/internal/store/gormstore"
	httpapi "quorum/internal/transport/http"
)

// buildAdapters instantiates the configured advisory providers.
// defaultTimeoutS applies to adapters that don't set their own.
func buildAdapters(cfgs []config.AdapterConfig, defaultTimeoutS int) ([]signal.Adapter, error) {
	adapters := make([]signal.Adapter, 0, len(cfgs))
	for _, ac := range cfgs {
		if ac.TimeoutS <= 0 {
			ac.TimeoutS = defaultTimeoutS
		}
		var p signal.Provider
		switch ac.Type {
		case "technical":
			p = providers.NewTechnical(ac.ID)
		case "momentum":
			p = providers.NewMomentum(ac.ID)
		case "remote":
			p = providers.NewRemote(ac.ID, ac.URL, ac.APIKey, ac.Headers)
		default:
			return nil, fmt.Errorf("adapter %s: unknown type %q", ac.ID, ac.Type)
		}
		adapters = append(adapters, signal.Adapter{
			Provider: p,
			Weight:   ac.Weight,
			Timeout:  time.Duration(ac.TimeoutS) * time.Second,
		})
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no enabled adapters")
	}
	return adapters, nil
}

func buildSource(cfg *config.Config) market.Source {
	return binancesrc.NewSource(binancesrc.SourceConfig{
		RESTBaseURL:  cfg.Market.RESTBaseURL,
		Interval:     cfg.Market.Interval,
		HistoryLimit: cfg.Market.HistoryLimit,
	})
}

// buildVenue returns the execution venue and whether it is authoritative
// for account equity.
func buildVenue(cfg *config.Config) (venue.Venue, bool, error) {
	switch cfg.Venue.Mode {
	case "paper":
		return venue.NewPaper(cfg.Venue.EquityUSD), false, nil
	case "binance":
		return venue.NewBinance(cfg.Venue.APIKey, cfg.Venue.APISecret, cfg.Venue.RESTBaseURL), true, nil
	default:
		return nil, false, fmt.Errorf("unknown venue mode %q", cfg.Venue.Mode)
	}
}

func buildNotifier(cfg *config.Config) notifier.TextNotifier {
	tg := cfg.Notify.Telegram
	if tg.Enabled && tg.BotToken != "" && tg.ChatID != "" {
		return notifier.NewTelegram(tg.BotToken, tg.ChatID)
	}
	return notifier.Nop{}
}

// buildLedger constructs the ledger and restores persisted state if any.
func buildLedger(ctx context.Context, cfg *config.Config, db store.LedgerStore) (*ledger.Ledger, error) {
	book := ledger.New(cfg.Venue.EquityUSD, cfg.Risk.MaxDailyLoss)
	view, ok, err := db.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}
	if ok {
		if err := book.Restore(view); err != nil {
			return nil, fmt.Errorf("restore ledger state: %w", err)
		}
		logger.Infof("ledger restored: equity=%.2f positions=%d halted=%v",
			view.EquityUSD, len(view.Positions), view.Halted)
	}
	return book, nil
}

func buildEngine(ctx context.Context, cfg *config.Config, configPath string) (*engine.Engine, *httpapi.Server, store.LedgerStore, error) {
	db, err := gormstore.New(cfg.Store.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	book, err := buildLedger(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	adapters, err := buildAdapters(cfg.EnabledAdapters(), cfg.Engine.AdapterTimeoutS)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	vn, syncEquity, err := buildVenue(cfg)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	machine := execution.NewMachine(vn, book, execution.Config{
		PlaceTimeout:  time.Duration(cfg.Venue.PlaceTimeoutS) * time.Second,
		StatusRetries: cfg.Venue.StatusRetries,
		StatusBackoff: time.Duration(cfg.Venue.StatusBackoffS) * time.Second,
	})

	eng, err := engine.New(engine.Deps{
		Cfg:    cfg.Engine,
		Source: buildSource(cfg),
		Runner: signal.NewRunner(adapters),
		Agg: ensemble.NewAggregator(ensemble.Config{
			QuorumMinimum:       cfg.Ensemble.QuorumMinimum,
			ConfidenceThreshold: cfg.Ensemble.ConfidenceThreshold,
			TieEpsilon:          cfg.Ensemble.TieEpsilon,
			DefaultSize:         cfg.Ensemble.DefaultSize,
			DefaultLeverage:     cfg.Ensemble.DefaultLeverage,
		}),
		Gate: risk.NewGate(risk.Policy{
			MaxPositionSize:    cfg.Risk.MaxPositionSize,
			MaxDailyLoss:       cfg.Risk.MaxDailyLoss,
			MaxLeverage:        cfg.Risk.MaxLeverage,
			DefaultStopLossPct: cfg.Risk.DefaultStopLossPct,
			MaxOpenPositions:   cfg.Risk.MaxOpenPositions,
			MinEquityUSD:       cfg.Risk.MinEquityUSD,
		}),
		Book:       book,
		Machine:    machine,
		Venue:      vn,
		SyncEquity: syncEquity,
		Store:      db,
		Notify:     buildNotifier(cfg),
	})
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	if cfg.Engine.WatchRiskPolicy && configPath != "" {
		watcher, err := config.NewWatcher(configPath, cfg.Risk)
		if err != nil {
			logger.Warnf("risk policy watcher disabled: %v", err)
		} else {
			watcher.OnRiskChange(eng.ApplyRiskPolicy)
		}
	}

	srv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Engine: eng,
		Store:  db,
	})
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return eng, srv, db, nil
}
