package watcher

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates the file was created or renamed into place.
	OpCreate EventOp = iota
	// OpModify indicates the file was written.
	OpModify
	// OpDelete indicates the file was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change to the watched file.
type FileEvent struct {
	// Path is the absolute path to the file that changed.
	Path string
	// Op is the operation that occurred.
	Op EventOp
}

// FileWatcher watches a single file for changes.
//
// It watches the file's parent directory rather than the file itself, since
// atomic saves replace the file with a new inode and a watch on the old one
// would go silent after the first save.
type FileWatcher struct {
	target string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewFileWatcher creates a FileWatcher for path. The watcher must be
// started with Start() before it will emit events.
func NewFileWatcher(path string) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return &FileWatcher{target: abs}, nil
}

// Path returns the absolute path of the watched file.
func (fw *FileWatcher) Path() string {
	return fw.target
}

// Start begins watching. A stopped watcher may be started again; each start
// creates fresh Events and Errors channels.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(fw.target)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	fw.watcher = watcher
	fw.events = make(chan FileEvent, 100)
	fw.errors = make(chan error, 10)
	fw.done = make(chan struct{})
	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents(watcher, fw.events, fw.errors, fw.done)

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	watcher, done, events, errs := fw.watcher, fw.done, fw.events, fw.errors
	fw.mu.Unlock()

	close(done)
	closeErr := watcher.Close()
	fw.wg.Wait()

	close(events)
	close(errs)

	if closeErr != nil {
		return fmt.Errorf("failed to close watcher: %w", closeErr)
	}
	return nil
}

// Events returns the channel that emits FileEvent notifications for the
// current run. It is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.events
}

// Errors returns the channel that emits watcher errors for the current run.
// It is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents(watcher *fsnotify.Watcher, events chan<- FileEvent, errs chan<- error, done <-chan struct{}) {
	defer fw.wg.Done()

	for {
		select {
		case <-done:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case events <- fileEvent:
				case <-done:
					return
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			select {
			case errs <- err:
			case <-done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event on the watched directory to a
// FileEvent, dropping events for other files and chmod-only events.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != fw.target {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: abs, Op: op}, true
}
