package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mindwtr/mindwtr/internal/schema"
)

type countingMarker struct {
	n atomic.Int32
}

func (m *countingMarker) MarkLocalWrite() { m.n.Add(1) }

func testDoc() schema.AppData {
	d := schema.Empty()
	d.Tasks = []schema.Record{{"id": "t1", "title": "Buy milk", "updatedAt": "2026-01-01T00:00:00Z"}}
	d.Settings = schema.Settings{"theme": "dark"}
	return d
}

// TestFileStore_MissingFile verifies that a missing file reads as an empty document.
func TestFileStore_MissingFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "data.json"))

	got, err := s.GetData(context.Background())
	if err != nil {
		t.Fatalf("GetData() failed: %v", err)
	}
	if got.RecordCount() != 0 || got.Settings == nil {
		t.Errorf("GetData() = %+v, want empty normalized document", got)
	}
}

// TestFileStore_RoundTrip verifies that saved data is read back.
func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "data.json")
	s := NewFileStore(path)

	if err := s.SaveData(ctx, testDoc()); err != nil {
		t.Fatalf("SaveData() failed: %v", err)
	}
	got, err := s.GetData(ctx)
	if err != nil {
		t.Fatalf("GetData() failed: %v", err)
	}
	if len(got.Tasks) != 1 || got.Tasks[0].Title() != "Buy milk" {
		t.Errorf("tasks = %v", got.Tasks)
	}
	if got.Settings.String("theme") != "dark" {
		t.Errorf("settings = %v", got.Settings)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

// TestFileStore_WriteMarker verifies the marker brackets every write.
func TestFileStore_WriteMarker(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "data.json"))
	m := &countingMarker{}
	s.SetWriteMarker(m)

	if err := s.SaveData(context.Background(), testDoc()); err != nil {
		t.Fatalf("SaveData() failed: %v", err)
	}
	if got := m.n.Load(); got != 2 {
		t.Errorf("MarkLocalWrite called %d times, want 2", got)
	}
}

// TestFileStore_TolerantRead verifies BOM and NUL padding are accepted.
func TestFileStore_TolerantRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	content := "\xef\xbb\xbf{\"tasks\":[{\"id\":\"a\",\"updatedAt\":\"2026-01-01T00:00:00Z\"}]}\x00\x00"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	got, err := NewFileStore(path).GetData(context.Background())
	if err != nil {
		t.Fatalf("GetData() failed: %v", err)
	}
	if len(got.Tasks) != 1 {
		t.Errorf("len(tasks) = %d, want 1", len(got.Tasks))
	}
}

// TestFileStore_InvalidShape verifies shape validation on read.
func TestFileStore_InvalidShape(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "tasks not array", content: `{"tasks": {"id": "a"}}`},
		{name: "settings not object", content: `{"settings": []}`},
		{name: "top level array", content: `[1, 2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("WriteFile() failed: %v", err)
			}
			_, err := NewFileStore(path).GetData(context.Background())
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("GetData() error = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

// TestFileStore_Garbage verifies that non-JSON content is an error.
func TestFileStore_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte("not json at all"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if _, err := NewFileStore(path).GetData(context.Background()); err == nil {
		t.Error("GetData() succeeded on garbage input")
	}
}

// TestMemoryStore verifies copy semantics and injected errors.
func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(testDoc())

	got, err := m.GetData(ctx)
	if err != nil {
		t.Fatalf("GetData() failed: %v", err)
	}
	got.Tasks[0]["title"] = "changed"

	again, _ := m.GetData(ctx)
	if again.Tasks[0].Title() != "Buy milk" {
		t.Error("GetData() returned an aliased document")
	}

	boom := errors.New("disk full")
	m.SetErr(boom)
	if err := m.SaveData(ctx, schema.Empty()); !errors.Is(err, boom) {
		t.Errorf("SaveData() error = %v, want %v", err, boom)
	}
	if m.Saves() != 0 {
		t.Errorf("Saves() = %d, want 0", m.Saves())
	}
}
