// Package metadata provides the typed value model used for item metadata and
// entity records.
//
// # Values
//
// A Value is a closed tagged variant:
//
//   - Null: metadata.Null()
//   - Int: metadata.Int(2024)
//   - Float: metadata.Float(3.14)
//   - String: metadata.String("haadf")
//   - Bool: metadata.Bool(true)
//   - Array: metadata.Array([]metadata.Value{...}) or metadata.Strings("a", "b")
//   - Map: metadata.Map(metadata.Document{...})
//
// A Document maps string keys to Values. Key order is irrelevant; the binary
// encoding sorts keys so equal documents encode to equal bytes.
//
// # Encoding
//
// Documents implement encoding.BinaryMarshaler with a compact, self-describing
// uvarint layout (each value carries its kind tag), and Values implement
// json.Marshaler preserving the kind so JSON round-trips are lossless.
//
// # Filters
//
// A FilterSet is a conjunction of per-field conditions used by model.Find:
//
//	fs := metadata.NewFilterSet(
//	    metadata.Eq("session_id", metadata.String("s-17")),
//	    metadata.Filter{Key: "rating", Operator: metadata.OpGreaterEqual, Value: metadata.Int(4)},
//	)
//
// Numbers compare numerically across Int and Float; strings order lexically.
//
// # Field types
//
// FieldType is the declared type of a record field and Accepts checks a value
// kind against it. The schema package checks fields at migration time.
package metadata
