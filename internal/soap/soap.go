// Package soap holds the canonical four-section clinical note draft and the
// boundary normalizer that turns whatever shape the scribe engine returns
// into it. Nothing outside this package handles the raw section payloads.
package soap

import (
	"encoding/json"
	"strings"
)

// Sections is a normalized SOAP note: four free-text sections with fixed keys.
type Sections struct {
	S string `json:"S"`
	O string `json:"O"`
	A string `json:"A"`
	P string `json:"P"`
}

// IsEmpty reports whether all four sections are blank.
func (s Sections) IsEmpty() bool {
	return strings.TrimSpace(s.S) == "" &&
		strings.TrimSpace(s.O) == "" &&
		strings.TrimSpace(s.A) == "" &&
		strings.TrimSpace(s.P) == ""
}

// Map returns the sections as a string map, the shape the engine's record
// update endpoint expects.
func (s Sections) Map() map[string]string {
	return map[string]string{"S": s.S, "O": s.O, "A": s.A, "P": s.P}
}

// section key synonyms in precedence order: canonical short key first, then
// the long form, then the lowercase variant seen in historical records.
var sectionKeys = map[string][]string{
	"S": {"S", "Subjective", "subjective"},
	"O": {"O", "Objective", "objective"},
	"A": {"A", "Assessment", "assessment"},
	"P": {"P", "Plan", "plan"},
}

// Normalize converts a raw section payload into canonical Sections. The
// payload may be a mapping with arbitrary key spellings, a JSON-encoded
// string of such a mapping, or nil. It is total: malformed input yields
// empty sections, never an error.
func Normalize(raw any) Sections {
	m := asMap(raw)
	return Sections{
		S: pick(m, sectionKeys["S"]),
		O: pick(m, sectionKeys["O"]),
		A: pick(m, sectionKeys["A"]),
		P: pick(m, sectionKeys["P"]),
	}
}

func asMap(raw any) map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return v
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return m
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil
		}
		return m
	case []byte:
		var m map[string]any
		if err := json.Unmarshal(v, &m); err != nil {
			return nil
		}
		return m
	default:
		return nil
	}
}

func pick(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
