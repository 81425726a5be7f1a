// Package app assembles the process: store, ledger, adapters, engine and
// the HTTP control surface.
package app

import (
	"context"
	"os/signal"
	"syscall"

	"quorum/internal/config"
	"quorum/internal/engine"
	"quorum/internal/logger"
	"quorum/internal/store"
	httpapi "quorum/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg    *config.Config
	engine *engine.Engine
	http   *httpapi.Server
	db     store.LedgerStore
}

// NewApp builds everything from the loaded config. configPath enables the
// risk policy hot reload; pass "" to disable it.
func NewApp(cfg *config.Config, configPath string) (*App, error) {
	eng, srv, db, err := buildEngine(context.Background(), cfg, configPath)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, engine: eng, http: srv, db: db}, nil
}

// Run starts the engine and the HTTP server and blocks until a signal or
// a fatal server error. The engine is drained before the store closes.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.db.Close()

	if err := a.engine.StartTrading(ctx); err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("http api listening on %s", a.http.Addr())
		return a.http.Start(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		if a.engine.Running() {
			return a.engine.StopTrading()
		}
		return nil
	})
	return group.Wait()
}
