package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindwtr/mindwtr/internal/config"
	"github.com/mindwtr/mindwtr/internal/remote"
	"github.com/mindwtr/mindwtr/internal/schema"
	"github.com/mindwtr/mindwtr/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the active backend and the last sync outcome",
	Args:    cobra.NoArgs,
	RunE:    withApp(appOptions{}, runStatus),
}

var statusFormat string

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusFormat, "format", formatText, "Output format: text, json or yaml")
}

// statusReport is what `mindwtr status` prints.
type statusReport struct {
	Backend      string `json:"backend" yaml:"backend"`
	Target       string `json:"target,omitempty" yaml:"target,omitempty"`
	Store        string `json:"store" yaml:"store"`
	DataPath     string `json:"dataPath" yaml:"dataPath"`
	LastSyncAt   string `json:"lastSyncAt,omitempty" yaml:"lastSyncAt,omitempty"`
	LastStatus   string `json:"lastSyncStatus,omitempty" yaml:"lastSyncStatus,omitempty"`
	LastError    string `json:"lastSyncError,omitempty" yaml:"lastSyncError,omitempty"`
	Tasks        int    `json:"tasks" yaml:"tasks"`
	Projects     int    `json:"projects" yaml:"projects"`
	Tombstones   int    `json:"tombstones" yaml:"tombstones"`
	HistoryCount int    `json:"historyCount" yaml:"historyCount"`
}

func runStatus(app *App, cmd *cobra.Command, args []string) error {
	if err := checkFormat(statusFormat); err != nil {
		return err
	}
	report, err := buildStatus(app)
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), report, statusFormat, time.Now())
}

func buildStatus(app *App) (statusReport, error) {
	backend, target, err := describeBackend(app.Backends)
	if err != nil {
		return statusReport{}, err
	}
	data := app.Store.Snapshot()
	view := app.Store.Visible()

	tombstones := 0
	for _, name := range schema.Collections {
		tombstones += len(data.Collection(name)) - len(schema.FilterDeleted(data.Collection(name)))
	}
	dataPath := app.Config.DataPath()
	if app.Config.Store == config.StoreSQLite {
		dataPath = app.Config.DatabasePath()
	}

	return statusReport{
		Backend:      string(backend),
		Target:       target,
		Store:        app.Config.Store,
		DataPath:     dataPath,
		LastSyncAt:   data.Settings.String(schema.KeyLastSyncAt),
		LastStatus:   data.Settings.String(schema.KeyLastSyncStatus),
		LastError:    data.Settings.String(schema.KeyLastSyncError),
		Tasks:        len(view.Tasks),
		Projects:     len(view.Projects),
		Tombstones:   tombstones,
		HistoryCount: len(data.Settings.History()),
	}, nil
}

// describeBackend returns the active backend and where it points. Secrets
// are never included.
func describeBackend(store *config.BackendStore) (config.Backend, string, error) {
	backend, err := store.Backend()
	if err != nil {
		return "", "", fmt.Errorf("failed to read backend: %w", err)
	}
	switch backend {
	case config.BackendWebDAV:
		cfg, err := store.WebDAV()
		if err != nil {
			return backend, "", err
		}
		return backend, cfg.URL, nil
	case config.BackendCloud:
		cfg, err := store.Cloud()
		if err != nil {
			return backend, "", err
		}
		return backend, cfg.URL, nil
	case config.BackendFile:
		path, err := store.SyncPath()
		if err != nil || path == "" {
			return backend, "", err
		}
		return backend, remote.ResolveSyncFile(path), nil
	}
	return backend, "", nil
}

func printStatus(w io.Writer, r statusReport, format string, now time.Time) error {
	if format != formatText {
		return writeStructured(w, r, format)
	}

	target := r.Target
	if target == "" {
		target = ui.RenderMuted("(not configured)")
	}
	lastSync := "never"
	if at, ok := schema.ParseTime(r.LastSyncAt); ok {
		lastSync = ui.RelativeTime(at, now)
	}

	rows := []ui.Row{
		{Key: "Backend", Value: ui.RenderAccent(r.Backend)},
		{Key: "Target", Value: target},
		{Key: "Local store", Value: fmt.Sprintf("%s (%s)", r.Store, r.DataPath)},
		{Key: "Last sync", Value: lastSync},
		{Key: "Result", Value: ui.RenderStatus(r.LastStatus)},
	}
	if r.LastError != "" {
		rows = append(rows, ui.Row{Key: "Error", Value: ui.RenderFail(r.LastError)})
	}
	rows = append(rows,
		ui.Row{Key: "Tasks", Value: ui.Count(r.Tasks, "task")},
		ui.Row{Key: "Projects", Value: ui.Count(r.Projects, "project")},
		ui.Row{Key: "Tombstones", Value: ui.Count(r.Tombstones, "tombstone")},
		ui.Row{Key: "History", Value: ui.Count(r.HistoryCount, "run")},
	)
	fmt.Fprintln(w, ui.Table(rows))
	return nil
}
