package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForEvent(t *testing.T, fw *FileWatcher, want EventOp) FileEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-fw.Events():
			if !ok {
				t.Fatal("events channel closed")
			}
			if event.Op == want {
				return event
			}
		case err := <-fw.Errors():
			t.Fatalf("watcher error: %v", err)
		case <-timeout:
			t.Fatalf("timeout waiting for %s event", want)
		}
	}
}

// TestFileWatcher_StartStop verifies that the watcher can start, stop and start again.
func TestFileWatcher_StartStop(t *testing.T) {
	fw, err := NewFileWatcher(filepath.Join(t.TempDir(), "data.json"))
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}

	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
	for i := 0; i < 2; i++ {
		if err := fw.Start(); err != nil {
			t.Fatalf("Start() #%d failed: %v", i+1, err)
		}
		if !fw.IsRunning() {
			t.Error("Watcher should be running after Start()")
		}
		if err := fw.Stop(); err != nil {
			t.Fatalf("Stop() failed: %v", err)
		}
		if fw.IsRunning() {
			t.Error("Watcher should not be running after Stop()")
		}
	}
}

// TestFileWatcher_StartAlreadyRunning verifies that starting a running watcher fails.
func TestFileWatcher_StartAlreadyRunning(t *testing.T) {
	fw, err := NewFileWatcher(filepath.Join(t.TempDir(), "data.json"))
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(); err != nil {
		t.Fatalf("First Start() failed: %v", err)
	}
	if err := fw.Start(); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}
}

// TestFileWatcher_TargetEvents verifies create, modify and delete of the target file are reported.
func TestFileWatcher_TargetEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	fw, err := NewFileWatcher(path)
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()
	if err := fw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	event := waitForEvent(t, fw, OpCreate)
	if event.Path != fw.Path() {
		t.Errorf("Path = %q, want %q", event.Path, fw.Path())
	}

	if err := os.WriteFile(path, []byte(`{"tasks":[]}`), 0644); err != nil {
		t.Fatalf("Failed to modify file: %v", err)
	}
	waitForEvent(t, fw, OpModify)

	if err := os.Remove(path); err != nil {
		t.Fatalf("Failed to delete file: %v", err)
	}
	waitForEvent(t, fw, OpDelete)
}

// TestFileWatcher_AtomicReplace verifies a rename into place is seen as a create.
func TestFileWatcher_AtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	fw, err := NewFileWatcher(path)
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()
	if err := fw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	tmp := filepath.Join(dir, ".data.json.tmp")
	if err := os.WriteFile(tmp, []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}
	waitForEvent(t, fw, OpCreate)
}

// TestFileWatcher_OtherFilesIgnored verifies events for sibling files are dropped.
func TestFileWatcher_OtherFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWatcher(filepath.Join(dir, "data.json"))
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()
	if err := fw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	select {
	case event := <-fw.Events():
		t.Errorf("unexpected event %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestFileWatcher_StartMissingDirectory verifies watching under a missing directory fails.
func TestFileWatcher_StartMissingDirectory(t *testing.T) {
	fw, err := NewFileWatcher(filepath.Join(t.TempDir(), "missing", "data.json"))
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(); err == nil {
		fw.Stop()
		t.Error("Start() should fail for a missing directory")
	}
}

// TestEventOp_String verifies operation names.
func TestEventOp_String(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{EventOp(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
