// Package logging builds the component loggers of long-running commands.
//
// Loggers are plain *log.Logger values with a bracketed component prefix.
// When a file path is configured, output goes to a size-rotated file and is
// copied to stderr while stderr is a terminal.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a log sink.
type Options struct {
	// Path of the log file. Empty logs to Stderr only.
	Path string

	MaxSizeMB  int // default 10
	MaxBackups int // default 3
	MaxAgeDays int // default 28
	Compress   bool

	// Stderr is the console stream (default os.Stderr).
	Stderr io.Writer

	// Tee forces (true) or suppresses (false) copying to Stderr when a file
	// is configured. Nil copies only when Stderr is a terminal.
	Tee *bool
}

// Sink is a shared log destination for several component loggers.
type Sink struct {
	w      io.Writer
	closer io.Closer
	path   string

	once sync.Once
}

// Open creates the sink described by opts.
func Open(opts Options) (*Sink, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	if opts.Path == "" {
		return &Sink{w: stderr}, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, err
	}

	file := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    orDefault(opts.MaxSizeMB, 10),
		MaxBackups: orDefault(opts.MaxBackups, 3),
		MaxAge:     orDefault(opts.MaxAgeDays, 28),
		Compress:   opts.Compress,
	}

	tee := isTerminal(stderr)
	if opts.Tee != nil {
		tee = *opts.Tee
	}
	var w io.Writer = file
	if tee {
		w = io.MultiWriter(file, stderr)
	}
	return &Sink{w: w, closer: file, path: opts.Path}, nil
}

// Logger returns a logger writing to the sink with "[prefix] ".
func (s *Sink) Logger(prefix string) *log.Logger {
	return log.New(s.w, "["+prefix+"] ", log.LstdFlags)
}

// Path returns the log file path, or "" when logging to stderr only.
func (s *Sink) Path() string {
	return s.path
}

// Writer returns the underlying writer.
func (s *Sink) Writer() io.Writer {
	return s.w
}

// Close closes the log file.
func (s *Sink) Close() error {
	var err error
	s.once.Do(func() {
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// New returns a single logger and a function closing its file.
func New(prefix string, opts Options) (*log.Logger, func() error, error) {
	sink, err := Open(opts)
	if err != nil {
		return nil, nil, err
	}
	return sink.Logger(prefix), sink.Close, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
