package trigger

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Op is a condition operator. The source rules encode operators as key
// suffixes (field_min, field_max, field_in, field_not_in, bare field for
// equality); they are parsed once here, at trigger creation, and evaluated
// without string manipulation at event time.
type Op int

const (
	OpEq Op = iota
	OpMin
	OpMax
	OpIn
	OpNotIn
)

type Predicate struct {
	Field string
	Op    Op
	Value any
}

// CompileConditions parses a raw conditions mapping into typed predicates.
// An empty or absent mapping compiles to no predicates, which matches
// unconditionally.
func CompileConditions(raw json.RawMessage) ([]Predicate, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("conditions: %w", err)
	}
	preds := make([]Predicate, 0, len(m))
	for key, expected := range m {
		p := compileKey(key, expected)
		if p.Op == OpIn || p.Op == OpNotIn {
			if _, ok := expected.([]any); !ok {
				return nil, fmt.Errorf("condition %q: expected a list, got %T", key, expected)
			}
		}
		if p.Field == "" {
			return nil, fmt.Errorf("condition %q: empty field", key)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// compileKey splits the operator suffix off a condition key. _not_in must be
// checked before _in, which is its own suffix.
func compileKey(key string, expected any) Predicate {
	switch {
	case strings.HasSuffix(key, "_not_in"):
		return Predicate{Field: strings.TrimSuffix(key, "_not_in"), Op: OpNotIn, Value: expected}
	case strings.HasSuffix(key, "_min"):
		return Predicate{Field: strings.TrimSuffix(key, "_min"), Op: OpMin, Value: expected}
	case strings.HasSuffix(key, "_max"):
		return Predicate{Field: strings.TrimSuffix(key, "_max"), Op: OpMax, Value: expected}
	case strings.HasSuffix(key, "_in"):
		return Predicate{Field: strings.TrimSuffix(key, "_in"), Op: OpIn, Value: expected}
	default:
		return Predicate{Field: key, Op: OpEq, Value: expected}
	}
}

// matchAll reports whether every predicate is satisfied by event.
func matchAll(preds []Predicate, event map[string]any) bool {
	for _, p := range preds {
		if !p.match(event) {
			return false
		}
	}
	return true
}

// match evaluates one predicate. A field absent from the event satisfies the
// predicate (fail-open, kept intentionally so optional context fields don't
// suppress a trigger; pinned by a regression test). A malformed predicate
// evaluates to false, never to an error.
func (p Predicate) match(event map[string]any) bool {
	actual, present := event[p.Field]
	if !present {
		return true
	}
	switch p.Op {
	case OpEq:
		return equalValues(actual, p.Value)
	case OpMin:
		a, okA := toFloat(actual)
		b, okB := toFloat(p.Value)
		return okA && okB && a >= b
	case OpMax:
		a, okA := toFloat(actual)
		b, okB := toFloat(p.Value)
		return okA && okB && a <= b
	case OpIn:
		return contains(p.Value, actual)
	case OpNotIn:
		return !contains(p.Value, actual)
	default:
		return false
	}
}

func contains(collection, v any) bool {
	items, ok := collection.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}

// equalValues compares two primitive values, treating all numeric types as
// equivalent (JSON decoding yields float64, test fixtures use ints).
func equalValues(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
