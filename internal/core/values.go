package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName trims and NFC normalizes a parameter name or metadata key
// so that visually identical names always match.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Fixed experiment table columns.
const (
	ColumnTrialID   = "trial_id"
	ColumnTimestamp = "timestamp"
	ColumnStrategy  = "strategy"
	ColumnOutcome   = "outcome"
)

// ReservedName reports whether name is taken by a table column that is
// not a parameter: the fixed columns, outcome, and outcome_<n>.
// Parameter names must not be reserved.
func ReservedName(name string) bool {
	switch name {
	case ColumnTrialID, ColumnTimestamp, ColumnStrategy, ColumnOutcome:
		return true
	}
	digits, ok := strings.CutPrefix(name, ColumnOutcome+"_")
	if !ok || digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DecodeValues normalizes a JSON scalar or sequence into a slice of values.
//
// A scalar becomes a one-element slice (index 0). A sequence maps element i
// to index i. Booleans are coerced to 0 and 1. Nested sequences, strings,
// nulls and non-finite numbers are rejected.
func DecodeValues(raw json.RawMessage) ([]float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing value")
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}

	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, fmt.Errorf("empty sequence")
		}
		out := make([]float64, len(list))
		for i, elem := range list {
			f, err := toFloat(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = f
		}
		return out, nil
	}

	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	return []float64{f}, nil
}

// DecodeConfig normalizes a tell config mapping into Stimuli. Names are
// normalized with NormalizeName.
func DecodeConfig(raw map[string]json.RawMessage) (Stimuli, error) {
	out := make(Stimuli, len(raw))
	for name, value := range raw {
		key := NormalizeName(name)
		if key == "" {
			return nil, fmt.Errorf("empty parameter name")
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("parameter %q given twice", key)
		}
		values, err := DecodeValues(value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		out[key] = values
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch val := v.(type) {
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", val)
		}
		f = parsed
	case float64:
		f = val
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, fmt.Errorf("null value")
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite number")
	}
	return f, nil
}

// NormalizeMetadata NFC normalizes the top-level keys of a metadata map.
// A nil map yields an empty one.
func NormalizeMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[NormalizeName(k)] = v
	}
	return out
}
