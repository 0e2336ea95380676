package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mindwtr/mindwtr/internal/daemon"
	"github.com/mindwtr/mindwtr/internal/dashboard"
	"github.com/mindwtr/mindwtr/internal/syncer"
	"github.com/mindwtr/mindwtr/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Keep the local document in sync in the background",
	Long: `Run the sync daemon in the foreground.

The daemon syncs shortly after start, a few seconds after each local edit,
whenever the file backend's shared document changes, and periodically.
Edits other programs make to the local data file are merged in as they
happen.

With --dashboard, sync progress is also broadcast over a WebSocket:
  ws://localhost:8080/ws

Examples:
  mindwtr watch
  mindwtr watch --dashboard --port 9000`,
	Args: cobra.NoArgs,
	RunE: withApp(appOptions{LongRunning: true}, func(app *App, cmd *cobra.Command, args []string) error {
		return runWatch(app, cmd, watchDashboard, watchPort)
	}),
}

var (
	watchDashboard bool
	watchPort      int
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchDashboard, "dashboard", false, "Also serve the sync dashboard")
	watchCmd.Flags().IntVarP(&watchPort, "port", "p", 0, "Dashboard port (default from config)")
}

// runWatch starts the daemon and, if asked, the dashboard, and blocks until
// interrupted.
func runWatch(app *App, cmd *cobra.Command, withDashboard bool, port int) error {
	out := cmd.OutOrStdout()
	if port == 0 {
		port = app.Config.Dashboard.Port
	}

	var (
		server  *dashboard.Server
		handler *dashboard.Handler
		events  syncer.EventSink
	)
	if withDashboard {
		server = dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: app.Logs.Logger("dashboard"),
		})
		handler = dashboard.NewHandler(server, app.Logs.Logger("dashboard"))
		events = handler
	}

	orch, err := app.NewOrchestrator(events)
	if err != nil {
		return err
	}
	defer orch.Close()

	// d is assigned below; the watcher only calls OnMerge after the daemon
	// has started it.
	var d *daemon.Daemon
	var local *watcher.LocalDataWatcher
	dataPath := ""
	if app.File != nil {
		deps := watcher.StoreDeps(app.Store, app.File)
		deps.Logger = app.Logs.Logger("watcher")
		deps.OnMerge = func(ev watcher.MergeEvent) {
			if handler != nil {
				handler.OnMerge(ev)
			}
			d.DataChanged()
		}
		local, err = watcher.New(deps, watcher.Options{
			IgnoreWindow: app.Config.Watcher.IgnoreWindow,
			Debounce:     app.Config.Watcher.Debounce,
			DrainPadding: app.Config.Watcher.DrainPadding,
		})
		if err != nil {
			return err
		}
		app.File.SetWriteMarker(local)
		dataPath = app.File.Path()
	}

	cfg := daemon.DefaultConfig()
	cfg.AutoInterval = app.Config.Sync.AutoInterval
	cfg.SharedGuard = app.Guard
	cfg.Logger = app.Logs.Logger("daemon")
	d, err = daemon.NewWithConfig(app.Store, orch, app.Resolver, local, dataPath, cfg)
	if err != nil {
		return err
	}

	if server != nil {
		server.SetStatus(func() any { return d.Status() })
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer func() {
			if err := server.Stop(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error stopping dashboard: %v\n", err)
			}
		}()
		fmt.Fprintf(out, "Dashboard: http://%s\n", server.GetAddr())
		fmt.Fprintf(out, "WebSocket: ws://%s/ws\n", server.GetAddr())
	}

	if dataPath != "" {
		fmt.Fprintf(out, "Watching %s\n", dataPath)
	}
	fmt.Fprintf(out, "Logging to %s\n", app.Logs.Path())
	fmt.Fprintln(out, "Press Ctrl+C to stop...")

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return d.Start(ctx)
}
