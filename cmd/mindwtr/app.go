package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindwtr/mindwtr/internal/config"
	"github.com/mindwtr/mindwtr/internal/logging"
	"github.com/mindwtr/mindwtr/internal/storage"
	"github.com/mindwtr/mindwtr/internal/storage/sqlite"
	"github.com/mindwtr/mindwtr/internal/syncer"
	"github.com/mindwtr/mindwtr/internal/watcher"
)

// App holds what commands share: configuration, logs, the local store and
// the backend configuration.
type App struct {
	Config   *config.Config
	Logs     *logging.Sink
	DB       *sqlite.DB
	Backends *config.BackendStore
	Resolver syncer.StoreResolver
	Store    *storage.AppStore
	// File is the local data file; nil when the store is SQLite.
	File *storage.FileStore
	// Guard remembers writes to the file backend's shared document.
	Guard *watcher.WriteGuard
}

type appOptions struct {
	// LongRunning tees logs to a terminal.
	LongRunning bool
}

type runFunc func(app *App, cmd *cobra.Command, args []string) error

// withApp wraps a command's run function with config loading and store
// setup. Pending edits are flushed and everything closed on return.
func withApp(opts appOptions, fn runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := openApp(cmd.Context(), cfg, opts)
		if err != nil {
			return err
		}
		runErr := fn(app, cmd, args)
		if err := app.Close(); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	}
}

// loadConfig reads the configuration and applies global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	if storeFlag != "" {
		cfg.Store = storeFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp opens the database, migrates legacy backend settings and loads
// the local document.
func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logOpts := logging.Options{Path: cfg.LogPath()}
	if !opts.LongRunning {
		off := false
		logOpts.Tee = &off
	}
	logs, err := logging.Open(logOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	app := &App{Config: cfg, Logs: logs}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	app.DB, err = sqlite.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	kv, err := config.OpenSQLiteKV(ctx, app.DB)
	if err != nil {
		return nil, err
	}
	migrated, err := config.MigrateLegacy(config.NewTOMLKV(cfg.LegacyConfigPath()), kv)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate legacy config: %w", err)
	}
	if migrated {
		logs.Logger("config").Printf("Moved backend settings from %s into the managed store", cfg.LegacyConfigPath())
	}
	app.Backends, err = config.NewBackendStore(kv, nil)
	if err != nil {
		return nil, err
	}
	app.Resolver = syncer.StoreResolver{Store: app.Backends}

	var adapter storage.Adapter
	switch cfg.Store {
	case config.StoreSQLite:
		adapter = app.DB
	default:
		app.File = storage.NewFileStore(cfg.DataPath())
		adapter = app.File
	}
	app.Store, err = storage.NewAppStoreWithConfig(adapter, &storage.AppStoreConfig{
		SaveDelay: 500 * time.Millisecond,
		Logger:    logs.Logger("store"),
	})
	if err != nil {
		return nil, err
	}
	if err := app.Store.Load(ctx); err != nil {
		return nil, err
	}
	app.Guard = watcher.NewWriteGuard(cfg.Watcher.IgnoreWindow, nil)

	ok = true
	return app, nil
}

// NewOrchestrator returns an orchestrator over the app's store and backend
// configuration. events may be nil.
func (a *App) NewOrchestrator(events syncer.EventSink) (*syncer.Orchestrator, error) {
	opts := syncer.Options{
		Store:                  a.Store,
		Backends:               a.Resolver,
		Marker:                 a.Guard,
		Logger:                 a.Logs.Logger("sync"),
		LogPath:                a.Logs.Path(),
		TombstoneRetentionDays: a.Config.Sync.TombstoneRetentionDays,
		HistoryLimit:           a.Config.Sync.HistoryLimit,
		Events:                 events,
	}
	return syncer.New(opts)
}

// Close flushes pending edits and releases resources. Safe to call more
// than once.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, a.Store.Close(ctx))
		cancel()
		a.Store = nil
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
		a.DB = nil
	}
	if a.Logs != nil {
		errs = append(errs, a.Logs.Close())
	}
	return errors.Join(errs...)
}
