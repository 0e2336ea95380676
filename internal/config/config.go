// Package config holds mindwtr configuration.
//
// # Application config
//
// Load reads settings with viper from, in increasing precedence:
//
//   - built-in defaults
//   - ~/.mindwtr/config.yaml
//   - ./.mindwtr/config.yaml
//   - MINDWTR_* environment variables (a .env.local file found in the
//     working directory or a parent is loaded into the environment first)
//
// # Backend config
//
// Which sync backend is active, and its URL and credentials, live in a
// key/value store rather than the YAML file so the desktop app and the CLI
// share them. BackendStore reads and writes those keys; MigrateLegacy moves
// them from the old TOML file into the managed SQLite store.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MINDWTR"

// Config is the application configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	DataFile  string          `mapstructure:"data_file"`
	Store     string          `mapstructure:"store"`
	LogFile   string          `mapstructure:"log_file"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Cloud     CloudServer     `mapstructure:"cloud"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// WatcherConfig tunes the local file watcher.
type WatcherConfig struct {
	IgnoreWindow time.Duration `mapstructure:"ignore_window"`
	Debounce     time.Duration `mapstructure:"debounce"`
	DrainPadding time.Duration `mapstructure:"drain_padding"`
}

// SyncConfig tunes the sync orchestrator.
type SyncConfig struct {
	TombstoneRetentionDays int           `mapstructure:"tombstone_retention_days"`
	AutoInterval           time.Duration `mapstructure:"auto_interval"`
	HistoryLimit           int           `mapstructure:"history_limit"`
}

// CloudServer configures `mindwtr cloud serve`.
type CloudServer struct {
	Listen  string `mapstructure:"listen"`
	DataDir string `mapstructure:"data_dir"`
}

// DashboardConfig configures the status dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// Store kinds.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// DefaultDataDir returns ~/.mindwtr, or .mindwtr when the home directory is
// unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mindwtr"
	}
	return filepath.Join(home, ".mindwtr")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  DefaultDataDir(),
		DataFile: "data.json",
		Store:    StoreFile,
		Watcher: WatcherConfig{
			IgnoreWindow: 2000 * time.Millisecond,
			Debounce:     750 * time.Millisecond,
			DrainPadding: 25 * time.Millisecond,
		},
		Sync: SyncConfig{
			TombstoneRetentionDays: 90,
			HistoryLimit:           50,
		},
		Cloud: CloudServer{
			Listen: ":8787",
		},
		Dashboard: DashboardConfig{
			Port: 8080,
		},
	}
}

// DataPath returns the local data file path.
func (c *Config) DataPath() string {
	if filepath.IsAbs(c.DataFile) {
		return c.DataFile
	}
	return filepath.Join(c.DataDir, c.DataFile)
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "mindwtr.db")
}

// LegacyConfigPath returns the TOML file backend keys were kept in before
// the managed store existed.
func (c *Config) LegacyConfigPath() string {
	return filepath.Join(c.DataDir, "config.toml")
}

// LogPath returns the log file path.
func (c *Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "logs", "mindwtr.log")
}

// CloudDataDir returns where `cloud serve` stores documents.
func (c *Config) CloudDataDir() string {
	if c.Cloud.DataDir != "" {
		return c.Cloud.DataDir
	}
	return filepath.Join(c.DataDir, "cloud")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.DataFile == "" {
		return fmt.Errorf("data_file is required")
	}
	if c.Store != StoreFile && c.Store != StoreSQLite {
		return fmt.Errorf("invalid store %q (must be %s or %s)", c.Store, StoreFile, StoreSQLite)
	}
	if c.Watcher.IgnoreWindow <= 0 || c.Watcher.Debounce <= 0 || c.Watcher.DrainPadding < 0 {
		return fmt.Errorf("watcher timings must be positive")
	}
	if c.Sync.HistoryLimit < 1 {
		return fmt.Errorf("sync.history_limit must be at least 1")
	}
	if c.Sync.AutoInterval < 0 {
		return fmt.Errorf("sync.auto_interval cannot be negative")
	}
	return nil
}

// Load reads the configuration from the standard locations.
func Load() (*Config, error) {
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".mindwtr", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".mindwtr", "config.yaml"))
	}
	return LoadFiles(paths...)
}

// LoadFiles reads defaults, then each existing file in order, then the
// environment.
func LoadFiles(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.LogFile = expandHome(cfg.LogFile)
	cfg.Cloud.DataDir = expandHome(cfg.Cloud.DataDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("data_file", d.DataFile)
	v.SetDefault("store", d.Store)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("watcher.ignore_window", d.Watcher.IgnoreWindow)
	v.SetDefault("watcher.debounce", d.Watcher.Debounce)
	v.SetDefault("watcher.drain_padding", d.Watcher.DrainPadding)
	v.SetDefault("sync.tombstone_retention_days", d.Sync.TombstoneRetentionDays)
	v.SetDefault("sync.auto_interval", d.Sync.AutoInterval)
	v.SetDefault("sync.history_limit", d.Sync.HistoryLimit)
	v.SetDefault("cloud.listen", d.Cloud.Listen)
	v.SetDefault("cloud.data_dir", d.Cloud.DataDir)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// findEnvLocal walks up from the working directory looking for .env.local.
func findEnvLocal() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
