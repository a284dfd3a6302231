// Package app wires configuration, storage, the exchange gateway, the
// strategy manager and the HTTP API into a runnable unit.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"helmsman/internal/config"
	"helmsman/internal/logger"
	"helmsman/internal/manager"
	"helmsman/internal/store"
	apihttp "helmsman/internal/transport/http/api"
)

type App struct {
	cfg     *config.Config
	store   store.Store
	manager *manager.Manager
	httpSrv *apihttp.Server
}

// NewApp builds the application from configuration without starting it.
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg, opts...).Build()
}

// Run starts the HTTP API and the strategy tick loop and blocks until the
// context is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	logger.Infow("starting runner",
		"env", a.cfg.App.Env,
		"http_addr", a.cfg.App.HTTPAddr,
		"tick_interval", a.cfg.Manager.TickInterval.String(),
	)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return a.manager.Run(ctx)
	})

	err := group.Wait()
	if closeErr := a.store.Close(); closeErr != nil {
		logger.Warnf("closing store: %v", closeErr)
	}
	return err
}

// Manager exposes the runtime manager, for test harnesses.
func (a *App) Manager() *manager.Manager {
	if a == nil {
		return nil
	}
	return a.manager
}
