// Package watcher merges external edits of the local data file into the
// in-memory store.
//
// The process writes the same file it watches, so LocalDataWatcher ignores
// change events for a short window after every local write
// (MarkLocalWrite). A change seen inside the window is not lost: it is
// re-examined once the window closes. Bursts of external writes are
// collapsed by a debounce, and merges are applied one at a time.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mindwtr/mindwtr/internal/canonical"
	"github.com/mindwtr/mindwtr/internal/clock"
	"github.com/mindwtr/mindwtr/internal/merge"
	"github.com/mindwtr/mindwtr/internal/schema"
	"github.com/mindwtr/mindwtr/internal/storage"
)

// Default timings.
const (
	DefaultIgnoreWindow = 2000 * time.Millisecond
	DefaultDebounce     = 750 * time.Millisecond
	DefaultDrainPadding = 25 * time.Millisecond
)

// Timer purposes reported by Timers.
const (
	TimerDebounce = "debounce"
	TimerDrain    = "ignore-drain"
)

// Options holds the watcher timings.
type Options struct {
	// IgnoreWindow is how long after a local write change events are
	// treated as the process's own.
	IgnoreWindow time.Duration
	// Debounce collapses bursts of external changes.
	Debounce time.Duration
	// DrainPadding is added to the remaining window before a change seen
	// inside it is re-examined.
	DrainPadding time.Duration
}

// DefaultOptions returns the default timings.
func DefaultOptions() Options {
	return Options{
		IgnoreWindow: DefaultIgnoreWindow,
		Debounce:     DefaultDebounce,
		DrainPadding: DefaultDrainPadding,
	}
}

// MergeEvent describes an external change that was merged into the store.
type MergeEvent struct {
	Path  string
	Hash  string
	Stats merge.Stats
}

// Deps are the capabilities the watcher uses. Read, Snapshot and Persist
// are required.
type Deps struct {
	// Read loads the data file as it is on disk.
	Read func(ctx context.Context) (schema.AppData, error)
	// Snapshot returns the current in-memory document.
	Snapshot func() schema.AppData
	// Persist installs a merged document through the application store.
	Persist func(ctx context.Context, data schema.AppData) error
	// FlushPendingSave writes unsaved local edits before a merge.
	FlushPendingSave func(ctx context.Context) error
	// BeginMerge serializes merges with other writers of the store.
	BeginMerge func() (end func())

	Normalize func(schema.AppData) schema.AppData
	Merge     func(local, incoming schema.AppData) merge.Result

	Clock     clock.Clock
	Scheduler clock.Scheduler
	Logger    *log.Logger

	// OnMerge is called after an external change was persisted.
	OnMerge func(MergeEvent)
}

// StoreDeps returns Deps that read file and write back through store.
func StoreDeps(store *storage.AppStore, file *storage.FileStore) Deps {
	return Deps{
		Read:             file.GetData,
		Snapshot:         store.Snapshot,
		Persist:          store.Replace,
		FlushPendingSave: store.FlushPendingSave,
		BeginMerge:       store.BeginMerge,
	}
}

// LocalDataWatcher applies external edits of the data file to the store.
type LocalDataWatcher struct {
	deps Deps
	opts Options

	mu            sync.Mutex
	ctx           context.Context
	path          string
	ignoreUntil   time.Time
	lastKnownHash string
	debounce      clock.Timer
	drain         clock.Timer
	debounceID    uint64
	drainID       uint64
	nextTimerID   uint64
	pendingChange bool
	pending       *schema.AppData
	mergeInFlight bool
	merges        int

	// gen changes on Stop. Work started under an older generation is
	// dropped instead of being merged.
	gen uint64

	files   *FileWatcher
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New creates a LocalDataWatcher. Zero timings take their defaults.
func New(deps Deps, opts Options) (*LocalDataWatcher, error) {
	if deps.Read == nil || deps.Snapshot == nil || deps.Persist == nil {
		return nil, fmt.Errorf("read, snapshot and persist are required")
	}
	if deps.Normalize == nil {
		deps.Normalize = schema.Normalize
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Merge == nil {
		now := deps.Clock.Now
		deps.Merge = func(local, incoming schema.AppData) merge.Result {
			return merge.MergeAt(local, incoming, now())
		}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = log.New(os.Stderr, "[watcher] ", log.LstdFlags)
	}

	def := DefaultOptions()
	if opts.IgnoreWindow <= 0 {
		opts.IgnoreWindow = def.IgnoreWindow
	}
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}
	if opts.DrainPadding < 0 {
		opts.DrainPadding = def.DrainPadding
	}

	return &LocalDataWatcher{
		deps: deps,
		opts: opts,
		ctx:  context.Background(),
	}, nil
}

// Start watches path and handles every change event until Stop. It is a
// no-op when already started.
func (w *LocalDataWatcher) Start(ctx context.Context, path string) error {
	w.mu.Lock()
	if w.files != nil {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	files, err := NewFileWatcher(path)
	if err != nil {
		return err
	}
	if err := files.Start(); err != nil {
		return err
	}

	w.mu.Lock()
	w.ctx = ctx
	w.path = files.Path()
	w.files = files
	w.stopped = make(chan struct{})
	stopped := w.stopped
	w.mu.Unlock()

	w.wg.Add(1)
	go w.consume(ctx, files, stopped)

	w.deps.Logger.Printf("Started watching %s", files.Path())
	return nil
}

func (w *LocalDataWatcher) consume(ctx context.Context, files *FileWatcher, stopped <-chan struct{}) {
	defer w.wg.Done()
	events, errs := files.Events(), files.Errors()
	for {
		select {
		case <-stopped:
			return
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			w.HandleChange(ctx)
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.deps.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// Stop cancels both timers, discards pending state and stops watching the
// file. A stopped watcher may be started again.
func (w *LocalDataWatcher) Stop() error {
	w.mu.Lock()
	w.gen++
	w.stopTimerLocked(&w.debounce)
	w.stopTimerLocked(&w.drain)
	w.debounceID, w.drainID = 0, 0
	w.pendingChange = false
	w.pending = nil
	files, stopped := w.files, w.stopped
	w.files = nil
	w.stopped = nil
	w.mu.Unlock()

	if files == nil {
		return nil
	}
	close(stopped)
	w.wg.Wait()
	if err := files.Stop(); err != nil {
		return err
	}
	w.deps.Logger.Printf("Stopped")
	return nil
}

// MarkLocalWrite opens the ignore window. It implements storage.WriteMarker.
func (w *LocalDataWatcher) MarkLocalWrite() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.deps.Clock.Now()
	w.ignoreUntil = now.Add(w.opts.IgnoreWindow)
	w.scheduleDrainLocked(now)
}

// HandleChange processes one change notification for the data file.
func (w *LocalDataWatcher) HandleChange(ctx context.Context) {
	w.mu.Lock()
	gen := w.gen
	w.mu.Unlock()
	w.handleChange(ctx, gen)
}

func (w *LocalDataWatcher) handleChange(ctx context.Context, gen uint64) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	now := w.deps.Clock.Now()
	if now.Before(w.ignoreUntil) {
		w.pendingChange = true
		w.scheduleDrainLocked(now)
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	raw, err := w.deps.Read(ctx)
	if err != nil {
		w.deps.Logger.Printf("Failed to read external change: %v", err)
		return
	}
	data := w.deps.Normalize(raw)
	hash, err := canonical.HashValue(data)
	if err != nil {
		w.deps.Logger.Printf("Failed to hash external change: %v", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen || hash == w.lastKnownHash {
		return
	}
	w.lastKnownHash = hash
	w.pending = &data
	w.stopTimerLocked(&w.debounce)
	id := w.newTimerIDLocked()
	w.debounceID = id
	w.debounce = w.deps.Scheduler.AfterFunc(w.opts.Debounce, func() { w.onDebounce(id) })
}

// Timers reports how many timers are live for each purpose.
func (w *LocalDataWatcher) Timers() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := map[string]int{TimerDebounce: 0, TimerDrain: 0}
	if w.debounce != nil {
		out[TimerDebounce] = 1
	}
	if w.drain != nil {
		out[TimerDrain] = 1
	}
	return out
}

// Merges reports how many external changes were persisted.
func (w *LocalDataWatcher) Merges() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.merges
}

// LastKnownHash returns the hash of the last document seen on disk or
// written back.
func (w *LocalDataWatcher) LastKnownHash() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastKnownHash
}

// scheduleDrainLocked re-arms the drain timer for the end of the ignore
// window when a change is waiting.
func (w *LocalDataWatcher) scheduleDrainLocked(now time.Time) {
	if !w.pendingChange {
		return
	}
	w.stopTimerLocked(&w.drain)
	remaining := w.ignoreUntil.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	id := w.newTimerIDLocked()
	w.drainID = id
	w.drain = w.deps.Scheduler.AfterFunc(remaining+w.opts.DrainPadding, func() { w.onDrain(id) })
}

// newTimerIDLocked tags a timer so its callback can tell whether it was
// replaced or cancelled before it ran.
func (w *LocalDataWatcher) newTimerIDLocked() uint64 {
	w.nextTimerID++
	return w.nextTimerID
}

func (w *LocalDataWatcher) onDrain(id uint64) {
	w.mu.Lock()
	if id != w.drainID {
		w.mu.Unlock()
		return
	}
	w.drain = nil
	w.drainID = 0
	if !w.pendingChange {
		w.mu.Unlock()
		return
	}
	w.pendingChange = false
	ctx, gen := w.ctx, w.gen
	w.mu.Unlock()

	w.handleChange(ctx, gen)
}

func (w *LocalDataWatcher) onDebounce(id uint64) {
	w.mu.Lock()
	if id != w.debounceID {
		w.mu.Unlock()
		return
	}
	w.debounce = nil
	w.debounceID = 0
	ctx := w.ctx
	w.mu.Unlock()

	w.runPendingMerge(ctx)
}

// runPendingMerge drains pending snapshots one at a time. A snapshot that
// arrives while a merge is running is picked up by the same loop.
func (w *LocalDataWatcher) runPendingMerge(ctx context.Context) {
	w.mu.Lock()
	if w.mergeInFlight {
		w.mu.Unlock()
		return
	}
	w.mergeInFlight = true
	for w.pending != nil {
		incoming := *w.pending
		w.pending = nil
		gen := w.gen
		w.mu.Unlock()

		if err := w.mergeExternal(ctx, incoming, gen); err != nil {
			w.deps.Logger.Printf("Failed to merge external data: %v", err)
		}

		w.mu.Lock()
	}
	w.mergeInFlight = false
	w.mu.Unlock()
}

func (w *LocalDataWatcher) mergeExternal(ctx context.Context, incoming schema.AppData, gen uint64) error {
	if w.deps.BeginMerge != nil {
		end := w.deps.BeginMerge()
		defer end()
	}
	if w.deps.FlushPendingSave != nil {
		if err := w.deps.FlushPendingSave(ctx); err != nil {
			return fmt.Errorf("failed to flush pending save: %w", err)
		}
	}

	local := w.deps.Normalize(w.deps.Snapshot())
	res := w.deps.Merge(local, incoming)
	merged := w.deps.Normalize(res.Data)

	localHash, err := canonical.HashValue(local)
	if err != nil {
		return err
	}
	mergedHash, err := canonical.HashValue(merged)
	if err != nil {
		return err
	}

	if mergedHash == localHash {
		w.mu.Lock()
		w.lastKnownHash = mergedHash
		w.mu.Unlock()
		return nil
	}

	w.mu.Lock()
	stale := gen != w.gen
	w.mu.Unlock()
	if stale {
		return nil
	}

	if err := w.deps.Persist(ctx, merged); err != nil {
		return err
	}

	w.mu.Lock()
	w.lastKnownHash = mergedHash
	w.merges++
	path := w.path
	w.mu.Unlock()

	w.deps.Logger.Printf("Merged external changes to %s", path)
	if w.deps.OnMerge != nil {
		w.deps.OnMerge(MergeEvent{Path: path, Hash: mergedHash, Stats: res.Stats})
	}
	return nil
}

func (w *LocalDataWatcher) stopTimerLocked(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
