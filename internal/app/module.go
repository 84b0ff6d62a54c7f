// Package app composes the whole application with fx: session lock,
// config, logging, store, transport adapter and the TUI shell.
package app

import (
	"context"

	"github.com/lfcamargo/atendo/internal/bus"
	"github.com/lfcamargo/atendo/internal/cache"
	"github.com/lfcamargo/atendo/internal/config"
	"github.com/lfcamargo/atendo/internal/lock"
	"github.com/lfcamargo/atendo/internal/logging"
	"github.com/lfcamargo/atendo/internal/session"
	"github.com/lfcamargo/atendo/internal/store"
	"github.com/lfcamargo/atendo/internal/tui"
	"github.com/lfcamargo/atendo/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("atendo",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideCache,
			provideLock,
			provideStore,
			provideAdapter,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig() *config.Config {
	return config.LoadOrDefault(session.ConfigPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideCache() *cache.Cache {
	return cache.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
	db, err := store.Open(dbPath, b)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAdapter(p Params, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.SessionName, b, logger)
}

func provideApp(p Params, db *store.DB, adapter *wa.Adapter, b *bus.Bus, c *cache.Cache, cfg *config.Config, logger *zap.Logger) *tui.App {
	return tui.NewApp(db, adapter, b, c, cfg, logger, p.SessionName)
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, ui *tui.App, lk *lock.Lock, adapter *wa.Adapter, db *store.DB, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Inbound messages flow adapter -> store -> change stream.
			handler := wa.NewEventHandler(db, adapter, b, logger)
			adapter.RegisterEventHandler(handler.Handle)

			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("tui error", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			ui.Stop()
			adapter.Disconnect()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("stopped")
			return nil
		},
	})
}
