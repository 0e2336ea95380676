package schema

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

// TestNormalize verifies that malformed documents are coerced into shape.
func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		input      AppData
		wantTasks  int
		wantAreas  int
		wantSetKey string
	}{
		{
			name:  "zero value",
			input: AppData{},
		},
		{
			name: "drops records without id",
			input: AppData{
				Tasks: []Record{{"id": "t1"}, {"title": "no id"}, nil, {"id": "  "}},
			},
			wantTasks: 1,
		},
		{
			name: "keeps settings",
			input: AppData{
				Areas:    []Record{{"id": "a1", "name": "Home"}},
				Settings: Settings{"theme": "dark"},
			},
			wantAreas:  1,
			wantSetKey: "theme",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if got.Tasks == nil || got.Projects == nil || got.Sections == nil || got.Areas == nil {
				t.Fatal("Normalize() left a nil collection")
			}
			if got.Settings == nil {
				t.Fatal("Normalize() left nil settings")
			}
			if len(got.Tasks) != tt.wantTasks {
				t.Errorf("len(Tasks) = %d, want %d", len(got.Tasks), tt.wantTasks)
			}
			if len(got.Areas) != tt.wantAreas {
				t.Errorf("len(Areas) = %d, want %d", len(got.Areas), tt.wantAreas)
			}
			if tt.wantSetKey != "" {
				if _, ok := got.Settings[tt.wantSetKey]; !ok {
					t.Errorf("settings missing key %q", tt.wantSetKey)
				}
			}
		})
	}
}

// TestNormalize_Idempotent verifies normalize(normalize(x)) == normalize(x).
func TestNormalize_Idempotent(t *testing.T) {
	input := AppData{
		Tasks:    []Record{{"id": "t1", "title": "a", "tags": []any{"x"}}, {"bad": true}},
		Settings: nil,
	}
	once := Normalize(input)
	twice := Normalize(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Normalize() not idempotent:\nonce:  %#v\ntwice: %#v", once, twice)
	}
}

// TestNormalize_NoAliasing verifies that the output can be mutated safely.
func TestNormalize_NoAliasing(t *testing.T) {
	input := AppData{
		Tasks:    []Record{{"id": "t1", "tags": []any{"a"}}},
		Settings: Settings{"ai": map[string]any{"enabled": true}},
	}
	out := Normalize(input)
	out.Tasks[0]["title"] = "changed"
	out.Tasks[0]["tags"].([]any)[0] = "b"
	out.Settings.Object("ai")["enabled"] = false

	if _, ok := input.Tasks[0]["title"]; ok {
		t.Error("mutating output changed input record")
	}
	if input.Tasks[0]["tags"].([]any)[0] != "a" {
		t.Error("mutating output changed nested input array")
	}
	if input.Settings.Object("ai")["enabled"] != true {
		t.Error("mutating output changed nested input settings")
	}
}

// TestFromAny verifies coercion of generic JSON values.
func TestFromAny(t *testing.T) {
	tests := []struct {
		name      string
		input     any
		wantTasks int
	}{
		{name: "nil", input: nil},
		{name: "not an object", input: []any{1, 2}},
		{name: "tasks not an array", input: map[string]any{"tasks": "nope"}},
		{
			name: "mixed elements",
			input: map[string]any{
				"tasks":    []any{map[string]any{"id": "t1"}, "junk", 42.0},
				"settings": "not an object",
			},
			wantTasks: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromAny(tt.input)
			if len(got.Tasks) != tt.wantTasks {
				t.Errorf("len(Tasks) = %d, want %d", len(got.Tasks), tt.wantTasks)
			}
			if got.Settings == nil {
				t.Error("settings should default to an empty object")
			}
		})
	}
}

// TestParse verifies tolerant parsing of sync file bytes.
func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantTasks int
		wantErr   bool
	}{
		{name: "plain", input: `{"tasks":[{"id":"t1"}]}`, wantTasks: 1},
		{name: "bom", input: "\xef\xbb\xbf" + `{"tasks":[{"id":"t1"}]}`, wantTasks: 1},
		{name: "trailing nul", input: `{"tasks":[{"id":"t1"}]}` + "\x00\x00\x00", wantTasks: 1},
		{name: "garbage around object", input: `xx{"tasks":[{"id":"t1"},{"id":"t2"}]}yy`, wantTasks: 2},
		{name: "empty", input: "", wantTasks: 0},
		{name: "not json", input: "hello", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got.Tasks) != tt.wantTasks {
				t.Errorf("len(Tasks) = %d, want %d", len(got.Tasks), tt.wantTasks)
			}
		})
	}
}

// TestUnmarshalJSON_PreservesUnknownFields verifies lossless round trips.
func TestUnmarshalJSON_PreservesUnknownFields(t *testing.T) {
	input := `{"tasks":[{"id":"t1","customField":{"nested":[1,2]},"priority":3}],"settings":{"x":1}}`
	var d AppData
	if err := json.Unmarshal([]byte(input), &d); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if _, ok := d.Tasks[0]["customField"]; !ok {
		t.Fatal("customField lost")
	}
	if got := d.Tasks[0]["priority"]; got != json.Number("3") {
		t.Errorf("priority = %#v, want json.Number(3)", got)
	}
	if d.Projects == nil {
		t.Error("missing collections should decode as empty")
	}
}

// TestRecord_OperationMillis verifies tombstone operation times.
func TestRecord_OperationMillis(t *testing.T) {
	t1 := "2026-01-01T00:00:00Z"
	t2 := "2026-01-01T00:05:00Z"
	ms := func(s string) int64 {
		ts, _ := ParseTime(s)
		return ts.UnixMilli()
	}

	tests := []struct {
		name   string
		record Record
		want   int64
	}{
		{name: "live record", record: Record{"updatedAt": t1}, want: ms(t1)},
		{name: "deletedAt later", record: Record{"updatedAt": t1, "deletedAt": t2}, want: ms(t2)},
		{name: "deletedAt earlier", record: Record{"updatedAt": t2, "deletedAt": t1}, want: ms(t2)},
		{name: "invalid deletedAt", record: Record{"updatedAt": t1, "deletedAt": "soon"}, want: ms(t1)},
		{name: "missing updatedAt", record: Record{}, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.OperationMillis(); got != tt.want {
				t.Errorf("OperationMillis() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestParseTime verifies accepted timestamp layouts.
func TestParseTime(t *testing.T) {
	tests := []struct {
		input  string
		wantOK bool
	}{
		{"2026-01-01T00:00:00Z", true},
		{"2026-01-01T00:00:00.123Z", true},
		{"2026-01-01T02:00:00+02:00", true},
		{"2026-01-01T00:00:00", true},
		{"2026-01-01", true},
		{"", false},
		{"yesterday", false},
	}
	for _, tt := range tests {
		if _, ok := ParseTime(tt.input); ok != tt.wantOK {
			t.Errorf("ParseTime(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
		}
	}
}

// TestNewTask verifies task construction defaults.
func TestNewTask(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	task, err := NewTask("  Buy milk ", now)
	if err != nil {
		t.Fatalf("NewTask() failed: %v", err)
	}
	if task.ID() == "" {
		t.Error("NewTask() should assign an id")
	}
	if task.Title() != "Buy milk" {
		t.Errorf("Title() = %q, want %q", task.Title(), "Buy milk")
	}
	if task.UpdatedAt() != "2026-01-01T12:00:00.000Z" {
		t.Errorf("UpdatedAt() = %q", task.UpdatedAt())
	}

	if _, err := NewTask("   ", now); err == nil {
		t.Error("NewTask() with blank title should fail")
	}
}

// TestMarkDeleted verifies tombstone creation.
func TestMarkDeleted(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	r := Record{"id": "t1", "updatedAt": "2026-01-01T00:00:00Z"}
	MarkDeleted(r, now)
	if !r.IsDeleted() {
		t.Fatal("record should be a tombstone")
	}
	if r.UpdatedAt() != r.DeletedAt() {
		t.Errorf("updatedAt %q != deletedAt %q", r.UpdatedAt(), r.DeletedAt())
	}
	if got := FilterDeleted([]Record{r, {"id": "t2"}}); len(got) != 1 {
		t.Errorf("FilterDeleted() kept %d records, want 1", len(got))
	}
}
