package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mindwtr/mindwtr/internal/schema"
)

// AppStoreConfig configures an AppStore.
type AppStoreConfig struct {
	// SaveDelay is how long Mutate waits for further changes before
	// persisting.
	SaveDelay time.Duration

	// Logger receives background save failures.
	Logger *log.Logger
}

// DefaultAppStoreConfig returns the default AppStore configuration.
func DefaultAppStoreConfig() *AppStoreConfig {
	return &AppStoreConfig{
		SaveDelay: 500 * time.Millisecond,
		Logger:    log.New(os.Stderr, "[store] ", log.LstdFlags),
	}
}

// View is the display subset of a document: no tombstones, no archived
// tasks.
type View struct {
	Tasks    []schema.Record
	Projects []schema.Record
	Sections []schema.Record
	Areas    []schema.Record
	Settings schema.Settings
}

// ChangeSource says how the document changed.
type ChangeSource string

const (
	// ChangeEdit is a local edit made through Mutate.
	ChangeEdit ChangeSource = "edit"
	// ChangeReplace is a whole document installed by Replace or UpdateSettings.
	ChangeReplace ChangeSource = "replace"
	// ChangeLoad is a reload from the adapter.
	ChangeLoad ChangeSource = "load"
)

// Change is delivered to subscribers after every change.
type Change struct {
	Source ChangeSource
	Data   schema.AppData
}

// AppStore owns the authoritative in-memory snapshot of the document and
// persists it through an Adapter.
//
// Local edits go through Mutate and are saved after SaveDelay. Sync and
// external merges go through Replace, which persists immediately. Saves are
// serialized and always write the snapshot current at the time they run.
type AppStore struct {
	adapter Adapter
	config  *AppStoreConfig
	logger  *log.Logger

	mu        sync.Mutex
	data      schema.AppData
	rev       uint64
	dirty     bool
	saveTimer *time.Timer
	subs      map[int]func(Change)
	nextSub   int

	saveMu sync.Mutex

	// mergeMu serializes read-merge-write cycles.
	mergeMu sync.Mutex
}

// NewAppStore creates an AppStore over adapter with default configuration.
func NewAppStore(adapter Adapter) (*AppStore, error) {
	return NewAppStoreWithConfig(adapter, DefaultAppStoreConfig())
}

// NewAppStoreWithConfig creates an AppStore over adapter.
func NewAppStoreWithConfig(adapter Adapter, config *AppStoreConfig) (*AppStore, error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter cannot be nil")
	}
	if config == nil {
		config = DefaultAppStoreConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &AppStore{
		adapter: adapter,
		config:  config,
		logger:  logger,
		data:    schema.Empty(),
		subs:    make(map[int]func(Change)),
	}, nil
}

// Adapter returns the adapter the store persists through.
func (s *AppStore) Adapter() Adapter {
	return s.adapter
}

// Load replaces the in-memory snapshot with the persisted document. Unsaved
// local edits are discarded, so callers flush first when that matters.
func (s *AppStore) Load(ctx context.Context) error {
	data, err := s.adapter.GetData(ctx)
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	s.mu.Lock()
	s.data = schema.Normalize(data)
	s.rev++
	s.dirty = false
	s.stopTimerLocked()
	snapshot := s.data.Clone()
	s.mu.Unlock()

	s.notify(ChangeLoad, snapshot)
	return nil
}

// Snapshot returns a deep copy of the current document.
func (s *AppStore) Snapshot() schema.AppData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

// Visible returns the display view of the current document.
func (s *AppStore) Visible() View {
	snap := s.Snapshot()
	return View{
		Tasks:    schema.VisibleTasks(snap.Tasks),
		Projects: schema.FilterDeleted(snap.Projects),
		Sections: schema.FilterDeleted(snap.Sections),
		Areas:    schema.FilterDeleted(snap.Areas),
		Settings: snap.Settings,
	}
}

// Revision returns a counter that changes whenever the in-memory document
// does.
func (s *AppStore) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

// Replace sets the in-memory document and persists it before returning.
// Any pending debounced save is superseded.
func (s *AppStore) Replace(ctx context.Context, data schema.AppData) error {
	_, err := s.replace(ctx, data, 0, nil)
	return err
}

// ReplaceSince installs data like Replace when the document is still at
// revision rev. Otherwise rebase is called with the current document and
// data while the store is locked, and its result is installed instead. The
// installed document is returned.
func (s *AppStore) ReplaceSince(ctx context.Context, rev uint64, data schema.AppData, rebase func(current, data schema.AppData) schema.AppData) (schema.AppData, error) {
	if rebase == nil {
		return schema.AppData{}, fmt.Errorf("rebase cannot be nil")
	}
	return s.replace(ctx, data, rev, rebase)
}

func (s *AppStore) replace(ctx context.Context, data schema.AppData, rev uint64, rebase func(current, data schema.AppData) schema.AppData) (schema.AppData, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if rebase != nil && s.rev != rev {
		data = rebase(s.data.Clone(), data)
	}
	s.data = schema.Normalize(data)
	s.rev++
	s.dirty = false
	s.stopTimerLocked()
	snapshot := s.data.Clone()
	s.mu.Unlock()

	if err := s.adapter.SaveData(ctx, snapshot); err != nil {
		s.markDirty()
		return schema.AppData{}, fmt.Errorf("failed to save data: %w", err)
	}
	s.notify(ChangeReplace, snapshot)
	return snapshot.Clone(), nil
}

// Mutate applies fn to a copy of the document, installs the result and
// schedules a save. If fn returns an error nothing changes.
func (s *AppStore) Mutate(fn func(*schema.AppData) error) error {
	s.mu.Lock()
	next := s.data.Clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.data = schema.Normalize(next)
	s.rev++
	snapshot := s.data.Clone()
	s.mu.Unlock()

	s.ScheduleSave()
	s.notify(ChangeEdit, snapshot)
	return nil
}

// UpdateSettings merges patch into settings and persists immediately.
// A nil value removes the key.
func (s *AppStore) UpdateSettings(ctx context.Context, patch map[string]any) error {
	s.mu.Lock()
	next := s.data.Clone()
	s.mu.Unlock()

	for key, value := range patch {
		if value == nil {
			delete(next.Settings, key)
			continue
		}
		next.Settings[key] = value
	}
	return s.Replace(ctx, next)
}

// ScheduleSave marks the document dirty and (re)arms the save timer.
func (s *AppStore) ScheduleSave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	s.stopTimerLocked()
	s.saveTimer = time.AfterFunc(s.config.SaveDelay, func() {
		if err := s.FlushPendingSave(context.Background()); err != nil {
			s.logger.Printf("Background save failed: %v", err)
		}
	})
}

// HasPendingSave reports whether local edits are waiting to be saved.
func (s *AppStore) HasPendingSave() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// FlushPendingSave persists the document now if it has unsaved edits.
func (s *AppStore) FlushPendingSave(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	s.stopTimerLocked()
	snapshot := s.data.Clone()
	s.mu.Unlock()

	if err := s.adapter.SaveData(ctx, snapshot); err != nil {
		s.markDirty()
		return fmt.Errorf("failed to save data: %w", err)
	}
	return nil
}

// Subscribe registers fn to receive a copy of the document after every
// change. The returned function unsubscribes.
func (s *AppStore) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// BeginMerge blocks until no other read-merge-write cycle is running and
// returns the function that ends this one. The sync orchestrator and the
// file watcher both hold it while they fold another copy of the document
// into the store.
func (s *AppStore) BeginMerge() (end func()) {
	s.mergeMu.Lock()
	return s.mergeMu.Unlock
}

// Close flushes pending edits.
func (s *AppStore) Close(ctx context.Context) error {
	return s.FlushPendingSave(ctx)
}

func (s *AppStore) markDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

func (s *AppStore) stopTimerLocked() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
}

func (s *AppStore) notify(source ChangeSource, data schema.AppData) {
	s.mu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(Change{Source: source, Data: data.Clone()})
	}
}
