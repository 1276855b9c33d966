// Package cli wires configuration, storage and the reconciliation service
// for the reconcile command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/charter-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/config"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/locker"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/storage"
)

// App holds everything a subcommand needs.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   *storage.Storage
	Service *reconcile.Service

	closers []func() error
}

// NewApp opens storage, picks the lock backend and builds the service.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	svcCfg, err := reconcile.ConfigFrom(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := storage.NewStorage(cfg.Storage.DatabasePath, logger.With("system", "storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	app.Store = store
	app.closers = append(app.closers, store.Close)

	lock, closeLock, err := NewLocker(ctx, cfg.Locker, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if closeLock != nil {
		app.closers = append(app.closers, closeLock)
	}

	svc, err := reconcile.NewService(store, lock, svcCfg, logger.With("system", "reconcile"))
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Service = svc
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewLocker builds the per-charter lock backend. The returned close func
// is nil for the in-process backend.
func NewLocker(ctx context.Context, cfg config.LockerConfig, logger *slog.Logger) (ledger.Locker, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return locker.NewMemoryLocker(), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		opts := locker.DefaultRedisOptions()
		if cfg.Expiry > 0 {
			opts.Expiry = cfg.Expiry
		}
		if cfg.Tries > 0 {
			opts.Tries = cfg.Tries
		}
		logger.Info("using redis locker", "addr", cfg.RedisAddr)
		return locker.NewRedisLocker(client, opts, logger.With("system", "locker")), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown locker backend %q", cfg.Backend)
	}
}
