package syncer

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mindwtr/mindwtr/internal/clock"
	"github.com/mindwtr/mindwtr/internal/config"
	"github.com/mindwtr/mindwtr/internal/merge"
	"github.com/mindwtr/mindwtr/internal/storage"
)

// Result statuses, as stored in settings.lastSyncStatus.
const (
	StatusSuccess  = "success"
	StatusConflict = "conflict"
	StatusError    = "error"
)

// Step names a stage of a sync run.
type Step string

const (
	StepConfig      Step = "config"
	StepReadLocal   Step = "read-local"
	StepReadRemote  Step = "read-remote"
	StepMerge       Step = "merge"
	StepWriteLocal  Step = "write-local"
	StepWriteRemote Step = "write-remote"
	StepRefreshUI   Step = "refresh-ui"
)

// DefaultHistoryLimit is how many runs settings.lastSyncHistory keeps.
const DefaultHistoryLimit = 50

// Result is the outcome of one sync run. Ordinary failures are reported
// here, never as a panic or a separate error.
type Result struct {
	Success    bool           `json:"success" yaml:"success"`
	Status     string         `json:"status" yaml:"status"`
	Backend    config.Backend `json:"backend,omitempty" yaml:"backend,omitempty"`
	Stats      *merge.Stats   `json:"stats,omitempty" yaml:"stats,omitempty"`
	Step       Step           `json:"step,omitempty" yaml:"step,omitempty"`
	Err        error          `json:"-" yaml:"-"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time      `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt" yaml:"finishedAt"`
}

// Status is the orchestrator state surfaced to a UI.
type Status struct {
	InFlight     bool      `json:"inFlight" yaml:"inFlight"`
	Queued       bool      `json:"queued" yaml:"queued"`
	LastResult   string    `json:"lastResult,omitempty" yaml:"lastResult,omitempty"`
	LastResultAt time.Time `json:"lastResultAt,omitempty" yaml:"lastResultAt,omitempty"`
}

// Event types published to an EventSink.
const (
	EventSyncStarted  = "sync_started"
	EventSyncComplete = "sync_complete"
	EventSyncError    = "sync_error"
)

// Event describes a change in sync state.
type Event struct {
	Type   string  `json:"type"`
	At     string  `json:"at"`
	Result *Result `json:"result,omitempty"`
	Status Status  `json:"status"`
}

// EventSink receives sync events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// Options configures an Orchestrator.
type Options struct {
	// Store holds the in-memory document. Its adapter is the local side
	// of every run. Required.
	Store *storage.AppStore
	// Backends resolves the remote side of each run. Required.
	Backends BackendResolver
	// Marker is told about writes to the file backend, so a watcher on
	// that file ignores them.
	Marker storage.WriteMarker

	Clock  clock.Clock
	Logger *log.Logger
	// LogPath is appended to stored error messages.
	LogPath string

	TombstoneRetentionDays int
	HistoryLimit           int

	Events EventSink
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateQueued
)

func (s state) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateQueued:
		return "queued"
	default:
		return "idle"
	}
}

// Flight is a handle on one sync run.
type Flight struct {
	done   chan struct{}
	result Result
}

func newFlight() *Flight {
	return &Flight{done: make(chan struct{})}
}

// Done is closed when the run finishes.
func (f *Flight) Done() <-chan struct{} { return f.done }

// Wait blocks until the run finishes or ctx is done. Giving up on the wait
// does not cancel the run.
func (f *Flight) Wait(ctx context.Context) Result {
	select {
	case <-f.done:
		return f.result
	case <-ctx.Done():
		return Result{Status: StatusError, Err: ctx.Err(), Error: ctx.Err().Error()}
	}
}

// Orchestrator runs sync cycles between the local store and the active
// backend, one at a time.
//
// Start is the only way a run begins. While a run is in flight further
// Start calls return the same Flight and mark the orchestrator queued; when
// the run ends a queued orchestrator starts exactly one follow-up run, no
// matter how many calls arrived.
type Orchestrator struct {
	store    *storage.AppStore
	backends BackendResolver
	marker   storage.WriteMarker
	clock    clock.Clock
	logger   *log.Logger
	logPath  string
	events   EventSink

	retentionDays int
	historyLimit  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	state        state
	current      *Flight
	lastResult   string
	lastResultAt time.Time
	runs         int
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if opts.Backends == nil {
		return nil, fmt.Errorf("backend resolver cannot be nil")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:         opts.Store,
		backends:      opts.Backends,
		marker:        opts.Marker,
		clock:         opts.Clock,
		logger:        opts.Logger,
		logPath:       opts.LogPath,
		events:        opts.Events,
		retentionDays: merge.ResolveRetentionDays(opts.TombstoneRetentionDays),
		historyLimit:  opts.HistoryLimit,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start begins a run, or joins the one in flight and queues a follow-up.
func (o *Orchestrator) Start() *Flight {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case stateRunning, stateQueued:
		o.state = stateQueued
		return o.current
	}

	if o.ctx.Err() != nil {
		f := newFlight()
		f.result = Result{Status: StatusError, Err: o.ctx.Err(), Error: "orchestrator is closed"}
		close(f.done)
		return f
	}

	f := newFlight()
	o.current = f
	o.state = stateRunning
	o.wg.Add(1)
	go o.loop(f)
	o.publishLocked(EventSyncStarted, nil)
	return f
}

// PerformSync starts a run (or joins the one in flight) and waits for it.
func (o *Orchestrator) PerformSync(ctx context.Context) Result {
	return o.Start().Wait(ctx)
}

// Status reports the current state and the last outcome.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

// Runs reports how many runs have completed.
func (o *Orchestrator) Runs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs
}

// Close cancels the run in flight, drops any queued run and waits for the
// worker to exit.
func (o *Orchestrator) Close() error {
	o.cancel()
	o.wg.Wait()
	return nil
}

func (o *Orchestrator) statusLocked() Status {
	return Status{
		InFlight:     o.state != stateIdle,
		Queued:       o.state == stateQueued,
		LastResult:   o.lastResult,
		LastResultAt: o.lastResultAt,
	}
}

func (o *Orchestrator) loop(f *Flight) {
	defer o.wg.Done()
	for {
		res := o.run(o.ctx)

		o.mu.Lock()
		o.runs++
		o.lastResult = res.Status
		o.lastResultAt = res.FinishedAt
		f.result = res
		close(f.done)

		eventType := EventSyncComplete
		if !res.Success {
			eventType = EventSyncError
		}

		if o.state == stateQueued && o.ctx.Err() == nil {
			f = newFlight()
			o.current = f
			o.state = stateRunning
			o.publishLocked(eventType, &res)
			o.publishLocked(EventSyncStarted, nil)
			o.mu.Unlock()
			continue
		}

		o.state = stateIdle
		o.current = nil
		o.publishLocked(eventType, &res)
		o.mu.Unlock()
		return
	}
}

func (o *Orchestrator) publishLocked(eventType string, res *Result) {
	if o.events == nil {
		return
	}
	o.events.Publish(Event{
		Type:   eventType,
		At:     o.clock.Now().UTC().Format(time.RFC3339Nano),
		Result: res,
		Status: o.statusLocked(),
	})
}
