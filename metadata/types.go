package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unique"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindNull represents a null value.
	KindNull
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindString represents a string value.
	KindString
	// KindBool represents a boolean value.
	KindBool
	// KindArray represents an array value.
	KindArray
	// KindMap represents a nested mapping.
	KindMap
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is a small typed value used for item metadata and entity records.
//
// Values are a closed tagged variant: scalars, strings, arrays and nested
// mappings. No reflection is involved in encoding or comparison.
//
// NOTE: This is also used for persistence; keep it stable.
type Value struct {
	Kind Kind                  `json:"k"`
	I64  int64                 `json:"i,omitempty"`
	F64  float64               `json:"f,omitempty"`
	s    unique.Handle[string] `json:"-"` // Private interned string
	B    bool                  `json:"b,omitempty"`
	A    []Value               `json:"a,omitempty"`
	M    Document              `json:"m,omitempty"`
}

// StringValue returns the string value if Kind is KindString, otherwise empty string.
func (v Value) StringValue() string {
	if v.Kind == KindString {
		return v.s.Value()
	}
	return ""
}

// MarshalJSON implements json.Marshaler.
//
// Floats JSON cannot carry (NaN, ±Inf, -0) are written to "fs" as text.
func (v Value) MarshalJSON() ([]byte, error) {
	type Alias Value
	aux := &struct {
		S  string `json:"s,omitempty"`
		FS string `json:"fs,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(&v),
	}
	switch v.Kind {
	case KindString:
		aux.S = v.s.Value()
	case KindFloat:
		if !isPlainFloat(v.F64) {
			aux.FS = strconv.FormatFloat(v.F64, 'g', -1, 64)
			v.F64 = 0
		}
	}
	return json.Marshal(aux)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	type Alias Value
	aux := &struct {
		S  string `json:"s,omitempty"`
		FS string `json:"fs,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(v),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch v.Kind {
	case KindString:
		v.s = unique.Make(aux.S)
	case KindFloat:
		if aux.FS != "" {
			f, err := strconv.ParseFloat(aux.FS, 64)
			if err != nil {
				return fmt.Errorf("metadata: float %q: %w", aux.FS, err)
			}
			v.F64 = f
		}
	}
	return nil
}

func isPlainFloat(f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	return f != 0 || !math.Signbit(f)
}

// Key returns a stable string representation for use in maps and comparisons.
func (v Value) Key() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return "i:" + strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return "f:" + strconv.FormatUint(math.Float64bits(v.F64), 16)
	case KindString:
		return "s:" + v.s.Value()
	case KindBool:
		if v.B {
			return "b:1"
		}
		return "b:0"
	case KindArray:
		if len(v.A) == 0 {
			return "a:"
		}
		parts := make([]string, len(v.A))
		for i := range v.A {
			parts[i] = v.A[i].Key()
		}
		return "a:" + strings.Join(parts, "\x1f")
	case KindMap:
		keys := v.M.Keys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "\x1e" + v.M[k].Key()
		}
		return "m:" + strings.Join(parts, "\x1f")
	default:
		return "invalid"
	}
}

// Equal reports whether two values hold the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull, KindInvalid:
		return true
	case KindInt:
		return v.I64 == o.I64
	case KindFloat:
		return math.Float64bits(v.F64) == math.Float64bits(o.F64)
	case KindString:
		return v.s == o.s
	case KindBool:
		return v.B == o.B
	case KindArray:
		if len(v.A) != len(o.A) {
			return false
		}
		for i := range v.A {
			if !v.A[i].Equal(o.A[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.M.Equal(o.M)
	}
	return false
}

// IsNull reports whether the value is null or unset.
func (v Value) IsNull() bool {
	return v.Kind == KindNull || v.Kind == KindInvalid
}

// AsInt64 returns the int64 value if Kind is KindInt.
func (v Value) AsInt64() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.I64, true
}

// AsFloat64 returns the float64 value if Kind is KindFloat.
// Integers are widened.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindFloat:
		return v.F64, true
	case KindInt:
		return float64(v.I64), true
	}
	return 0, false
}

// AsString returns the string value if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.s.Value(), true
}

// AsBool returns the boolean value if Kind is KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.B, true
}

// AsArray returns the array value if Kind is KindArray.
func (v Value) AsArray() ([]Value, bool) {
	if v.Kind != KindArray {
		return nil, false
	}
	return v.A, true
}

// AsMap returns the nested document if Kind is KindMap.
func (v Value) AsMap() (Document, bool) {
	if v.Kind != KindMap {
		return nil, false
	}
	return v.M, true
}

// Null returns a null Value.
func Null() Value { return Value{Kind: KindNull} }

// Int returns an int64 Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float64 Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, s: unique.Make(v)} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// Array returns an array Value.
func Array(v []Value) Value { return Value{Kind: KindArray, A: v} }

// Strings returns an array Value of strings.
func Strings(v ...string) Value {
	arr := make([]Value, len(v))
	for i := range v {
		arr[i] = String(v[i])
	}
	return Array(arr)
}

// Map returns a nested mapping Value.
func Map(v Document) Value {
	if v == nil {
		v = Document{}
	}
	return Value{Kind: KindMap, M: v}
}

// Document is a typed metadata mapping. Key order is irrelevant.
type Document map[string]Value

// Keys returns the document keys in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value stored under key, or a null value.
func (d Document) Get(key string) Value {
	if v, ok := d[key]; ok {
		return v
	}
	return Null()
}

// Has reports whether key is present with a non-null value.
func (d Document) Has(key string) bool {
	v, ok := d[key]
	return ok && !v.IsNull()
}

// Equal compares two documents by content.
func (d Document) Equal(o Document) bool {
	if len(d) != len(o) {
		return false
	}
	for k, v := range d {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone creates a deep copy of the metadata document.
//
// Values are deep copied, including arrays and nested maps, ensuring the
// clone is completely independent from the original.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}

	clone := make(Document, len(d))
	for k, v := range d {
		clone[k] = v.Clone()
	}
	return clone
}

// Clone creates a deep copy of a Value, including nested arrays and maps.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindArray:
		if len(v.A) == 0 {
			return v
		}
		arrayCopy := make([]Value, len(v.A))
		for i := range v.A {
			arrayCopy[i] = v.A[i].Clone()
		}
		return Value{Kind: KindArray, A: arrayCopy}
	case KindMap:
		return Value{Kind: KindMap, M: v.M.Clone()}
	default:
		return v
	}
}

// Reserved keys stamped into persisted documents.
const (
	// IDKey holds the item identifier inside container metadata.
	IDKey = "__id"
	// TypeKey holds the entity type name of a schema record.
	TypeKey = "__type"
	// VersionKey holds the schema version of a schema record.
	VersionKey = "__version"
)

// IsReserved reports whether key is one of the reserved stamp keys.
func IsReserved(key string) bool {
	return key == IDKey || key == TypeKey || key == VersionKey
}
