// Package canonical produces deterministic JSON encodings and content
// hashes used for change detection.
//
// Two values that are structurally equal encode to the same bytes no matter
// how their object keys were ordered, so their hashes match:
//
//	a, _ := canonical.ToStableJSON(map[string]any{"a": 1, "b": 2})
//	b, _ := canonical.ToStableJSON(map[string]any{"b": 2, "a": 1})
//	canonical.Hash(a) == canonical.Hash(b) // true
//
// The hash is xxhash64 and is not suitable for anything security related.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ToStableJSON encodes v with object keys sorted recursively, no HTML
// escaping and no insignificant whitespace. Array order is preserved.
func ToStableJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}

	// Round-trip through a generic value so struct field order and map
	// iteration order cannot leak into the output. encoding/json writes
	// map keys in sorted order.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("failed to decode value: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}

	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// Hash returns the hex xxhash64 digest of s.
func Hash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// HashValue returns Hash(ToStableJSON(v)).
func HashValue(v any) (string, error) {
	s, err := ToStableJSON(v)
	if err != nil {
		return "", err
	}
	return Hash(s), nil
}

// Equal reports whether a and b have identical stable encodings. Values that
// fail to encode are never equal.
func Equal(a, b any) bool {
	sa, err := ToStableJSON(a)
	if err != nil {
		return false
	}
	sb, err := ToStableJSON(b)
	if err != nil {
		return false
	}
	return sa == sb
}
