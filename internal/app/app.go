package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"sentinel/internal/cache"
	sncfg "sentinel/internal/config"
	"sentinel/internal/engine"
	"sentinel/internal/logger"
	"sentinel/internal/market"
	"sentinel/internal/store/gormstore"
	opshttp "sentinel/internal/transport/http/ops"
)

// App owns application-level orchestration: build the dependency graph from
// config, run the scheduler and HTTP server, tear everything down on exit.
type App struct {
	cfg       *sncfg.Config
	cache     cache.Store
	sources   []market.Source
	triggers  *gormstore.GormStore
	scheduler *engine.Scheduler
	server    *opshttp.Server
}

// NewApp constructs the application without starting it.
func NewApp(cfg *sncfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(context.Background(), cfg)
}

// Run starts the scheduler and the ops HTTP server, blocking until ctx is
// cancelled or either fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("ops http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.scheduler.Run(ctx)
	})
	logger.Infof("sentinel running (env=%s, http=%s)", a.cfg.App.Env, a.server.Addr())
	return group.Wait()
}

// Scheduler exposes the engine for test and replay harnesses.
func (a *App) Scheduler() *engine.Scheduler {
	if a == nil {
		return nil
	}
	return a.scheduler
}

func (a *App) close() {
	for _, src := range a.sources {
		if src != nil {
			src.Close()
		}
	}
	if a.triggers != nil {
		if err := a.triggers.Close(); err != nil {
			logger.Warnf("closing trigger store: %v", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warnf("closing cache: %v", err)
		}
	}
}
