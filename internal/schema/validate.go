package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidatePayload checks the top-level shape of a decoded sync payload
// before it is normalized. source names the side ("local" or "remote") in
// the returned messages. A nil payload is valid and means "no data yet".
func ValidatePayload(v any, source string) []string {
	if v == nil {
		return nil
	}
	obj, ok := asObject(v)
	if !ok {
		return []string{fmt.Sprintf("%s payload must be an object", source)}
	}
	var problems []string
	for _, name := range Collections {
		field, present := obj[name]
		if !present || field == nil {
			continue
		}
		if _, ok := field.([]any); !ok {
			problems = append(problems, fmt.Sprintf("%s payload field %q must be an array when present", source, name))
		}
	}
	if settings, present := obj["settings"]; present && settings != nil {
		if _, ok := asObject(settings); !ok {
			problems = append(problems, fmt.Sprintf("%s payload field %q must be an object when present", source, "settings"))
		}
	}
	return problems
}

// ValidateMerged checks a merged document before it is written anywhere.
func ValidateMerged(d AppData) []string {
	var problems []string
	if d.Settings == nil {
		problems = append(problems, "settings must be an object")
	}
	for _, name := range Collections {
		for i, r := range d.Collection(name) {
			label := fmt.Sprintf("%s[%d]", name, i)
			if r.ID() == "" {
				problems = append(problems, label+".id must be a non-empty string")
			}
			if name == CollectionAreas {
				if strings.TrimSpace(r.String("name")) == "" {
					problems = append(problems, label+".name must be a non-empty string")
				}
				if _, present := r["updatedAt"]; present {
					problems = append(problems, checkTimestamp(r, "updatedAt", label)...)
				}
			} else {
				problems = append(problems, checkTimestamp(r, "updatedAt", label)...)
			}
			if _, present := r["createdAt"]; present {
				problems = append(problems, checkTimestamp(r, "createdAt", label)...)
			}
			created, okCreated := ParseTime(r.CreatedAt())
			updated, okUpdated := ParseTime(r.UpdatedAt())
			if okCreated && okUpdated && updated.Before(created) {
				problems = append(problems, label+".updatedAt must be greater than or equal to createdAt")
			}
			problems = append(problems, checkRevision(r, label)...)
		}
	}
	return problems
}

func checkTimestamp(r Record, key, label string) []string {
	s, ok := r[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return []string{fmt.Sprintf("%s.%s must be a non-empty string", label, key)}
	}
	if _, ok := ParseTime(s); !ok {
		return []string{fmt.Sprintf("%s.%s must be a valid ISO timestamp", label, key)}
	}
	return nil
}

func checkRevision(r Record, label string) []string {
	var problems []string
	if rev, present := r["rev"]; present && !isNonNegativeInt(rev) {
		problems = append(problems, label+".rev must be a non-negative integer when present")
	}
	if revBy, present := r["revBy"]; present {
		if s, ok := revBy.(string); !ok || strings.TrimSpace(s) == "" {
			problems = append(problems, label+".revBy must be a non-empty string when present")
		}
	}
	return problems
}

func isNonNegativeInt(v any) bool {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return err == nil && i >= 0
	case float64:
		return n >= 0 && n == float64(int64(n))
	case int:
		return n >= 0
	case int64:
		return n >= 0
	default:
		return false
	}
}
