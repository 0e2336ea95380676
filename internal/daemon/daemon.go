// Package daemon keeps a mindwtr data directory in sync in the background.
//
// The daemon:
//  1. Merges external edits of the local data file (watcher.LocalDataWatcher)
//  2. Syncs shortly after local edits and external merges
//  3. Syncs periodically and once shortly after start
//  4. Syncs when the shared file of the file backend changes
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/mindwtr/mindwtr/internal/clock"
	"github.com/mindwtr/mindwtr/internal/config"
	"github.com/mindwtr/mindwtr/internal/remote"
	"github.com/mindwtr/mindwtr/internal/storage"
	"github.com/mindwtr/mindwtr/internal/syncer"
	"github.com/mindwtr/mindwtr/internal/watcher"
)

// Config holds configuration for the daemon.
type Config struct {
	// InitialSyncDelay is how long after Start the first sync runs.
	InitialSyncDelay time.Duration

	// ChangeSyncDelay debounces syncs triggered by data changes.
	ChangeSyncDelay time.Duration

	// MinSyncInterval is the minimum gap between two automatic syncs.
	MinSyncInterval time.Duration

	// AutoInterval is the period of background syncs. Zero disables them.
	AutoInterval time.Duration

	// SharedGuard suppresses shared-file events caused by our own writes.
	// It should be the orchestrator's Marker.
	SharedGuard *watcher.WriteGuard

	Clock     clock.Clock
	Scheduler clock.Scheduler

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		InitialSyncDelay: 1500 * time.Millisecond,
		ChangeSyncDelay:  5 * time.Second,
		MinSyncInterval:  5 * time.Second,
		AutoInterval:     5 * time.Minute,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Status is a snapshot of the daemon state.
type Status struct {
	Running     bool          `json:"running" yaml:"running"`
	DataPath    string        `json:"dataPath" yaml:"dataPath"`
	SharedPath  string        `json:"sharedPath,omitempty" yaml:"sharedPath,omitempty"`
	LastTrigger time.Time     `json:"lastTrigger,omitempty" yaml:"lastTrigger,omitempty"`
	Triggers    int           `json:"triggers" yaml:"triggers"`
	Sync        syncer.Status `json:"sync" yaml:"sync"`
}

// Daemon schedules sync runs around data changes.
type Daemon struct {
	store    *storage.AppStore
	orch     *syncer.Orchestrator
	backends syncer.BackendResolver
	local    *watcher.LocalDataWatcher
	dataPath string
	config   *Config

	mu          sync.Mutex
	running     bool
	syncTimer   clock.Timer
	autoTimer   clock.Timer
	lastTrigger time.Time
	triggers    int
	shared      *watcher.FileWatcher
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - store: the application store holding the local document
//   - orch: the sync orchestrator running over store
//   - backends: the resolver orch uses, consulted before every automatic sync
//
// local may be nil, in which case external edits of the data file are not
// merged. Use Start() to begin.
func New(store *storage.AppStore, orch *syncer.Orchestrator, backends syncer.BackendResolver, local *watcher.LocalDataWatcher, dataPath string) (*Daemon, error) {
	return NewWithConfig(store, orch, backends, local, dataPath, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(store *storage.AppStore, orch *syncer.Orchestrator, backends syncer.BackendResolver, local *watcher.LocalDataWatcher, dataPath string, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if backends == nil {
		return nil, fmt.Errorf("backend resolver cannot be nil")
	}
	if local != nil && dataPath == "" {
		return nil, fmt.Errorf("dataPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Clock == nil {
		config.Clock = clock.Real{}
	}
	if config.Scheduler == nil {
		config.Scheduler = clock.Real{}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		store:    store,
		orch:     orch,
		backends: backends,
		local:    local,
		dataPath: dataPath,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Start merging external edits of the data file
//  2. Schedule an initial sync
//  3. Watch the file backend's shared file, if any
//  4. Sync after local edits and on the auto-sync period
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.Run(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Run starts the daemon without blocking.
func (d *Daemon) Run() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	if d.ctx.Err() != nil {
		d.mu.Unlock()
		return fmt.Errorf("daemon is stopped")
	}
	d.running = true
	d.mu.Unlock()

	d.config.Logger.Println("Starting daemon")

	if d.local != nil {
		if err := d.local.Start(d.ctx, d.dataPath); err != nil {
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			return fmt.Errorf("failed to watch data file: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", d.dataPath)
	}

	unsubscribe := d.store.Subscribe(func(c storage.Change) {
		if c.Source == storage.ChangeEdit {
			d.DataChanged()
		}
	})

	d.mu.Lock()
	d.unsubscribe = unsubscribe
	d.mu.Unlock()

	d.watchShared()
	d.ScheduleSync(d.config.InitialSyncDelay)
	d.scheduleAuto()
	return nil
}

// Stop gracefully shuts down the daemon and flushes pending edits.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	d.mu.Lock()
	wasRunning := d.running
	d.running = false
	stopTimer(&d.syncTimer)
	stopTimer(&d.autoTimer)
	shared, unsubscribe := d.shared, d.unsubscribe
	d.shared, d.unsubscribe = nil, nil
	d.mu.Unlock()

	if !wasRunning {
		return nil
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if d.local != nil {
		if err := d.local.Stop(); err != nil {
			d.config.Logger.Printf("Error stopping data watcher: %v", err)
		}
	}
	if shared != nil {
		if err := shared.Stop(); err != nil {
			d.config.Logger.Printf("Error stopping shared file watcher: %v", err)
		}
	}

	d.wg.Wait()

	if err := d.store.FlushPendingSave(context.Background()); err != nil {
		d.config.Logger.Printf("Error saving pending edits: %v", err)
	}

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// DataChanged schedules a sync after ChangeSyncDelay, pushing back any
// change-triggered sync already scheduled.
func (d *Daemon) DataChanged() {
	d.ScheduleSync(d.config.ChangeSyncDelay)
}

// ScheduleSync arms the sync timer for delay, or for the end of the minimum
// interval since the last automatic sync if that is later.
func (d *Daemon) ScheduleSync(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}

	if !d.lastTrigger.IsZero() {
		since := d.config.Clock.Now().Sub(d.lastTrigger)
		if wait := d.config.MinSyncInterval - since; wait > delay {
			delay = wait
		}
	}
	stopTimer(&d.syncTimer)
	d.syncTimer = d.config.Scheduler.AfterFunc(delay, func() {
		d.mu.Lock()
		d.syncTimer = nil
		d.mu.Unlock()
		d.trigger()
	})
}

// Status reports the daemon state.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{
		Running:     d.running,
		DataPath:    d.dataPath,
		LastTrigger: d.lastTrigger,
		Triggers:    d.triggers,
		Sync:        d.orch.Status(),
	}
	if d.shared != nil {
		st.SharedPath = d.shared.Path()
	}
	return st
}

// trigger starts a sync if a backend is usable.
func (d *Daemon) trigger() {
	if d.ctx.Err() != nil {
		return
	}
	if _, err := d.backends.Resolve(d.ctx); err != nil {
		d.config.Logger.Printf("Skipping sync: %v", err)
		return
	}

	d.mu.Lock()
	d.lastTrigger = d.config.Clock.Now()
	d.triggers++
	d.mu.Unlock()

	flight := d.orch.Start()
	d.wg.Go(func() {
		res := flight.Wait(d.ctx)
		if !res.Success && res.Err != nil && d.ctx.Err() == nil {
			d.config.Logger.Printf("Sync failed: %v", res.Err)
		}
	})
}

func (d *Daemon) scheduleAuto() {
	if d.config.AutoInterval <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	stopTimer(&d.autoTimer)
	d.autoTimer = d.config.Scheduler.AfterFunc(d.config.AutoInterval, func() {
		d.mu.Lock()
		d.autoTimer = nil
		d.mu.Unlock()
		d.ScheduleSync(0)
		d.scheduleAuto()
	})
}

// watchShared watches the file backend's shared document when it is a
// different file from the local one.
func (d *Daemon) watchShared() {
	target, err := d.backends.Resolve(d.ctx)
	if err != nil || target.Backend != config.BackendFile {
		return
	}
	client, ok := target.Client.(*remote.FileClient)
	if !ok {
		return
	}
	fw, err := watcher.NewFileWatcher(client.Path())
	if err != nil {
		d.config.Logger.Printf("Cannot watch shared file: %v", err)
		return
	}
	if fw.Path() == d.absDataPath() {
		return
	}
	if err := fw.Start(); err != nil {
		d.config.Logger.Printf("Cannot watch shared file: %v", err)
		return
	}

	d.mu.Lock()
	d.shared = fw
	d.mu.Unlock()
	d.config.Logger.Printf("Watching shared file: %s", fw.Path())

	events, errs := fw.Events(), fw.Errors()
	d.wg.Go(func() {
		for {
			select {
			case <-d.ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				if d.config.SharedGuard != nil && d.config.SharedGuard.Suppressed() {
					continue
				}
				d.DataChanged()
			case err, ok := <-errs:
				if !ok {
					return
				}
				d.config.Logger.Printf("Shared file watcher error: %v", err)
			}
		}
	})
}

func (d *Daemon) absDataPath() string {
	if d.dataPath == "" {
		return ""
	}
	abs, err := filepath.Abs(d.dataPath)
	if err != nil {
		return d.dataPath
	}
	return abs
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
