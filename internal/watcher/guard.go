package watcher

import (
	"sync"
	"time"

	"github.com/mindwtr/mindwtr/internal/clock"
)

// WriteGuard remembers when the process last wrote a file so change events
// caused by that write can be told apart from external ones. It implements
// storage.WriteMarker.
type WriteGuard struct {
	window time.Duration
	clock  clock.Clock

	mu    sync.Mutex
	until time.Time
}

// NewWriteGuard returns a guard that suppresses events for window after
// each write. A nil clock uses the system clock.
func NewWriteGuard(window time.Duration, c clock.Clock) *WriteGuard {
	if c == nil {
		c = clock.Real{}
	}
	if window <= 0 {
		window = DefaultIgnoreWindow
	}
	return &WriteGuard{window: window, clock: c}
}

// MarkLocalWrite opens the suppression window.
func (g *WriteGuard) MarkLocalWrite() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.until = g.clock.Now().Add(g.window)
}

// Suppressed reports whether an event seen now is probably our own write.
func (g *WriteGuard) Suppressed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clock.Now().Before(g.until)
}
