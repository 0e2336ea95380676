package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Collection names as they appear in the persisted document.
const (
	CollectionTasks    = "tasks"
	CollectionProjects = "projects"
	CollectionSections = "sections"
	CollectionAreas    = "areas"
)

// Collections lists the record collections in document order.
var Collections = []string{CollectionTasks, CollectionProjects, CollectionSections, CollectionAreas}

// AppData is the full synchronizable document.
type AppData struct {
	Tasks    []Record `json:"tasks"`
	Projects []Record `json:"projects"`
	Sections []Record `json:"sections"`
	Areas    []Record `json:"areas"`
	Settings Settings `json:"settings"`
}

// Empty returns a normalized document with no records.
func Empty() AppData {
	return AppData{
		Tasks:    []Record{},
		Projects: []Record{},
		Sections: []Record{},
		Areas:    []Record{},
		Settings: Settings{},
	}
}

// Collection returns the records of the named collection.
// Unknown names return nil.
func (d AppData) Collection(name string) []Record {
	switch name {
	case CollectionTasks:
		return d.Tasks
	case CollectionProjects:
		return d.Projects
	case CollectionSections:
		return d.Sections
	case CollectionAreas:
		return d.Areas
	default:
		return nil
	}
}

// SetCollection replaces the records of the named collection.
func (d *AppData) SetCollection(name string, records []Record) {
	switch name {
	case CollectionTasks:
		d.Tasks = records
	case CollectionProjects:
		d.Projects = records
	case CollectionSections:
		d.Sections = records
	case CollectionAreas:
		d.Areas = records
	}
}

// Clone returns a deep copy of the document.
func (d AppData) Clone() AppData {
	out := AppData{Settings: d.Settings.Clone()}
	for _, name := range Collections {
		src := d.Collection(name)
		if src == nil {
			continue
		}
		dst := make([]Record, len(src))
		for i, r := range src {
			dst[i] = r.Clone()
		}
		out.SetCollection(name, dst)
	}
	return out
}

// RecordCount returns the total number of records across all collections,
// tombstones included.
func (d AppData) RecordCount() int {
	return len(d.Tasks) + len(d.Projects) + len(d.Sections) + len(d.Areas)
}

// UnmarshalJSON decodes a document leniently: the payload is decoded as
// generic JSON and coerced with FromAny, so missing or mistyped fields
// never fail the decode.
func (d *AppData) UnmarshalJSON(data []byte) error {
	raw, err := decodeJSON(data)
	if err != nil {
		return err
	}
	*d = FromAny(raw)
	return nil
}

// Normalize coerces data into canonical shape. It is pure, total and
// idempotent, and the result never aliases the input. Records without an id
// are dropped and duplicate ids collapse into one record.
func Normalize(data AppData) AppData {
	out := AppData{Settings: data.Settings.Clone()}
	if out.Settings == nil {
		out.Settings = Settings{}
	}
	for _, name := range Collections {
		src := data.Collection(name)
		dst := make([]Record, 0, len(src))
		pos := make(map[string]int, len(src))
		for _, r := range src {
			id := r.ID()
			if r == nil || id == "" {
				continue
			}
			// A duplicated id keeps its first position and its last value.
			if i, seen := pos[id]; seen {
				dst[i] = r.Clone()
				continue
			}
			pos[id] = len(dst)
			dst = append(dst, r.Clone())
		}
		out.SetCollection(name, dst)
	}
	return out
}

// FromAny builds a normalized document from a generic decoded JSON value.
// Anything that is not an object yields an empty document; collections that
// are not arrays become empty; elements that are not objects are dropped.
func FromAny(v any) AppData {
	out := Empty()
	obj, ok := asObject(v)
	if !ok {
		return out
	}
	for _, name := range Collections {
		items, ok := obj[name].([]any)
		if !ok {
			continue
		}
		records := make([]Record, 0, len(items))
		for _, item := range items {
			m, ok := asObject(item)
			if !ok {
				continue
			}
			records = append(records, Record(m))
		}
		out.SetCollection(name, records)
	}
	if s, ok := asObject(obj["settings"]); ok {
		out.Settings = Settings(s)
	}
	return Normalize(out)
}

// ToAny converts a document to its generic JSON form.
func ToAny(d AppData) (any, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return decodeJSON(data)
}

// Decode parses sync file bytes into a generic JSON value, tolerating a
// byte order mark, trailing NUL padding, and text around the outermost
// object. Empty input decodes to nil.
func Decode(data []byte) (any, error) {
	cleaned := sanitize(data)
	if len(cleaned) == 0 {
		return nil, nil
	}
	v, err := decodeJSON(cleaned)
	if err == nil {
		return v, nil
	}
	start := bytes.IndexByte(cleaned, '{')
	end := bytes.LastIndexByte(cleaned, '}')
	if start >= 0 && end > start {
		if v, sliceErr := decodeJSON(cleaned[start : end+1]); sliceErr == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("invalid sync data: %w", err)
}

// Parse decodes sync file bytes into a normalized document.
func Parse(data []byte) (AppData, error) {
	v, err := Decode(data)
	if err != nil {
		return AppData{}, err
	}
	return FromAny(v), nil
}

// Marshal encodes a document as indented JSON, the on-disk format.
func Marshal(d AppData) ([]byte, error) {
	data, err := json.MarshalIndent(Normalize(d), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

func sanitize(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	data = bytes.TrimRight(data, "\x00")
	return bytes.TrimSpace(data)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, m != nil
	case Record:
		return map[string]any(m), m != nil
	case Settings:
		return map[string]any(m), m != nil
	default:
		return nil, false
	}
}
