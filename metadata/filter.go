package metadata

import (
	"fmt"
	"strings"
)

// Operator represents a comparison operator for filtering.
type Operator string

const (
	// OpEqual represents the equality operator.
	OpEqual Operator = "eq"
	// OpNotEqual represents the inequality operator.
	OpNotEqual Operator = "ne"
	// OpGreaterThan represents the greater than operator.
	OpGreaterThan Operator = "gt"
	// OpGreaterEqual represents the greater than or equal operator.
	OpGreaterEqual Operator = "gte"
	// OpLessThan represents the less than operator.
	OpLessThan Operator = "lt"
	// OpLessEqual represents the less than or equal operator.
	OpLessEqual Operator = "lte"
	// OpIn matches when the field equals one element of an array operand.
	OpIn Operator = "in"
	// OpContains matches a substring of a string field or an element of an
	// array field.
	OpContains Operator = "contains"
	// OpExists matches any non-null field. The operand is ignored.
	OpExists Operator = "exists"
)

// Filter is a single condition on one field.
//
// Key may address nested map fields with dots, e.g. "datetime_original.tz".
type Filter struct {
	Key      string
	Operator Operator
	Value    Value
}

// FilterSet represents a set of filters that must all match (AND logic).
type FilterSet struct {
	Filters []Filter
}

// NewFilterSet creates a new filter set.
func NewFilterSet(filters ...Filter) *FilterSet {
	return &FilterSet{Filters: filters}
}

// Eq is shorthand for an equality filter.
func Eq(key string, v Value) Filter {
	return Filter{Key: key, Operator: OpEqual, Value: v}
}

// Validate reports filters that can never match because of their operand.
func (fs *FilterSet) Validate() error {
	if fs == nil {
		return nil
	}
	for _, f := range fs.Filters {
		if f.Key == "" {
			return fmt.Errorf("filter: empty key")
		}
		switch f.Operator {
		case OpEqual, OpNotEqual, OpContains, OpExists:
		case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
			if !isNumber(f.Value) && f.Value.Kind != KindString {
				return fmt.Errorf("filter %q: %s needs a number or string, got %s", f.Key, f.Operator, f.Value.Kind)
			}
		case OpIn:
			if f.Value.Kind != KindArray {
				return fmt.Errorf("filter %q: in needs an array, got %s", f.Key, f.Value.Kind)
			}
		default:
			return fmt.Errorf("filter %q: unknown operator %q", f.Key, f.Operator)
		}
	}
	return nil
}

// Matches reports whether doc satisfies every filter. A nil set matches
// everything.
func (fs *FilterSet) Matches(doc Document) bool {
	if fs == nil {
		return true
	}
	for i := range fs.Filters {
		if !fs.Filters[i].Matches(doc) {
			return false
		}
	}
	return true
}

// Matches checks if the provided document matches this filter.
func (f *Filter) Matches(doc Document) bool {
	value, exists := lookup(doc, f.Key)
	if !exists || value.IsNull() {
		return f.Operator == OpNotEqual && !f.Value.IsNull()
	}

	switch f.Operator {
	case OpEqual:
		return compareEqual(value, f.Value)
	case OpNotEqual:
		return !compareEqual(value, f.Value)
	case OpGreaterThan:
		c, ok := compareOrder(value, f.Value)
		return ok && c > 0
	case OpGreaterEqual:
		c, ok := compareOrder(value, f.Value)
		return ok && c >= 0
	case OpLessThan:
		c, ok := compareOrder(value, f.Value)
		return ok && c < 0
	case OpLessEqual:
		c, ok := compareOrder(value, f.Value)
		return ok && c <= 0
	case OpIn:
		return compareIn(value, f.Value)
	case OpContains:
		return compareContains(value, f.Value)
	case OpExists:
		return true
	default:
		return false
	}
}

func lookup(doc Document, key string) (Value, bool) {
	if v, ok := doc[key]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(key, ".")
	if !found {
		return Value{}, false
	}
	v, ok := doc[head]
	if !ok || v.Kind != KindMap {
		return Value{}, false
	}
	return lookup(v.M, rest)
}

func compareEqual(a, b Value) bool {
	if isNumber(a) && isNumber(b) {
		// Prefer exact int compare when possible.
		if a.Kind == KindInt && b.Kind == KindInt {
			return a.I64 == b.I64
		}
		return asFloat64(a) == asFloat64(b)
	}
	if a.Kind == KindArray && b.Kind == KindArray {
		if len(a.A) != len(b.A) {
			return false
		}
		for i := range a.A {
			if !compareEqual(a.A[i], b.A[i]) {
				return false
			}
		}
		return true
	}
	return a.Equal(b)
}

// compareOrder orders numbers numerically and strings lexically. Timestamps
// stored as "2006-01-02 15:04:05" therefore order chronologically.
func compareOrder(a, b Value) (int, bool) {
	if isNumber(a) && isNumber(b) {
		x, y := asFloat64(a), asFloat64(b)
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if a.Kind == KindString && b.Kind == KindString {
		return strings.Compare(a.s.Value(), b.s.Value()), true
	}
	return 0, false
}

func compareIn(a, b Value) bool {
	if b.Kind != KindArray {
		return false
	}
	for _, item := range b.A {
		if compareEqual(a, item) {
			return true
		}
	}
	return false
}

func compareContains(a, b Value) bool {
	switch a.Kind {
	case KindString:
		return b.Kind == KindString && strings.Contains(a.s.Value(), b.s.Value())
	case KindArray:
		for _, item := range a.A {
			if compareEqual(item, b) {
				return true
			}
		}
	}
	return false
}

func isNumber(v Value) bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

func asFloat64(v Value) float64 {
	switch v.Kind {
	case KindInt:
		return float64(v.I64)
	case KindFloat:
		return v.F64
	default:
		return 0
	}
}
