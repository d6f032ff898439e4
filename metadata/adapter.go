package metadata

import "fmt"

// FromAny converts a Go value into a typed Value.
//
// This exists as an adapter layer for YAML/JSON/SQL input and legacy APIs.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case Document:
		return Map(x), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case []byte:
		return String(string(x)), nil
	case float64:
		return Float(x), nil
	case float32:
		return Float(float64(x)), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Int(int64(x)), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		if x > uint64(1<<63-1) {
			// Avoid silently wrapping large values.
			return Value{}, fmt.Errorf("metadata uint64 out of range: %d", x)
		}
		return Int(int64(x)), nil
	case []Value:
		return Array(x), nil
	case []any:
		arr := make([]Value, len(x))
		for i := range x {
			vv, err := FromAny(x[i])
			if err != nil {
				return Value{}, err
			}
			arr[i] = vv
		}
		return Array(arr), nil
	case []string:
		return Strings(x...), nil
	case []int:
		arr := make([]Value, len(x))
		for i := range x {
			arr[i] = Int(int64(x[i]))
		}
		return Array(arr), nil
	case []float64:
		arr := make([]Value, len(x))
		for i := range x {
			arr[i] = Float(x[i])
		}
		return Array(arr), nil
	case map[string]any:
		d, err := DocumentFromAny(x)
		if err != nil {
			return Value{}, err
		}
		return Map(d), nil
	case map[any]any:
		d := make(Document, len(x))
		for k, item := range x {
			ks, ok := k.(string)
			if !ok {
				return Value{}, fmt.Errorf("unsupported metadata map key type %T", k)
			}
			vv, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			d[ks] = vv
		}
		return Map(d), nil
	default:
		return Value{}, fmt.Errorf("unsupported metadata value type %T", v)
	}
}

// DocumentFromAny converts an untyped map[string]any document to a typed Document.
func DocumentFromAny(m map[string]any) (Document, error) {
	d := make(Document, len(m))
	for k, v := range m {
		vv, err := FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		d[k] = vv
	}
	return d, nil
}

// ToAny converts a Value back into plain Go types
// (nil, int64, float64, string, bool, []any, map[string]any).
func ToAny(v Value) any {
	switch v.Kind {
	case KindInt:
		return v.I64
	case KindFloat:
		return v.F64
	case KindString:
		return v.StringValue()
	case KindBool:
		return v.B
	case KindArray:
		out := make([]any, len(v.A))
		for i := range v.A {
			out[i] = ToAny(v.A[i])
		}
		return out
	case KindMap:
		return v.M.ToAny()
	default:
		return nil
	}
}

// ToAny converts the document into a plain map.
func (d Document) ToAny() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = ToAny(v)
	}
	return out
}
