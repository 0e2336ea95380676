package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// TestLoadFiles_Defaults verifies the built-in configuration.
func TestLoadFiles_Defaults(t *testing.T) {
	cfg, err := LoadFiles()
	if err != nil {
		t.Fatalf("LoadFiles() failed: %v", err)
	}
	want := DefaultConfig()
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("LoadFiles() mismatch (-want +got):\n%s", diff)
	}
}

// TestLoadFiles_Precedence verifies later files and the environment win.
func TestLoadFiles_Precedence(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "global.yaml")
	project := filepath.Join(dir, "project.yaml")

	writeFile(t, global, "data_dir: /srv/mindwtr\nwatcher:\n  debounce: 2s\nsync:\n  history_limit: 10\n")
	writeFile(t, project, "sync:\n  history_limit: 20\n")
	t.Setenv("MINDWTR_STORE", "sqlite")

	cfg, err := LoadFiles(global, project, filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFiles() failed: %v", err)
	}

	if cfg.DataDir != "/srv/mindwtr" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Watcher.Debounce != 2*time.Second {
		t.Errorf("Debounce = %v, want 2s", cfg.Watcher.Debounce)
	}
	if cfg.Watcher.IgnoreWindow != 2*time.Second {
		t.Errorf("IgnoreWindow = %v, want default 2s", cfg.Watcher.IgnoreWindow)
	}
	if cfg.Sync.HistoryLimit != 20 {
		t.Errorf("HistoryLimit = %d, want 20", cfg.Sync.HistoryLimit)
	}
	if cfg.Store != StoreSQLite {
		t.Errorf("Store = %q, want sqlite from environment", cfg.Store)
	}
	if got := cfg.DataPath(); got != filepath.Join("/srv/mindwtr", "data.json") {
		t.Errorf("DataPath() = %q", got)
	}
}

// TestLoadFiles_Invalid verifies validation errors are reported.
func TestLoadFiles_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad store", content: "store: postgres\n"},
		{name: "zero history", content: "sync:\n  history_limit: 0\n"},
		{name: "negative interval", content: "sync:\n  auto_interval: -1m\n"},
		{name: "not yaml", content: "store: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, tt.content)
			if _, err := LoadFiles(path); err == nil {
				t.Error("LoadFiles() succeeded, want error")
			}
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
}
