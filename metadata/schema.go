package metadata

// FieldType is the declared type of a record field.
type FieldType uint8

const (
	FieldTypeAny FieldType = iota
	FieldTypeInt
	FieldTypeFloat
	FieldTypeString
	FieldTypeBool
	FieldTypeArray
	FieldTypeMap
)

var fieldTypeNames = [...]string{"Any", "Int", "Float", "String", "Bool", "Array", "Map"}

func (t FieldType) String() string {
	if int(t) < len(fieldTypeNames) {
		return fieldTypeNames[t]
	}
	return "Unknown"
}

// Accepts reports whether a value of kind k may be stored in a field of
// type t. Null is accepted everywhere; whether a field may be absent is
// decided by the schema. Int widens to Float.
func (t FieldType) Accepts(k Kind) bool {
	switch {
	case k == KindNull, t == FieldTypeAny:
		return true
	case t == FieldTypeFloat:
		return k == KindFloat || k == KindInt
	}
	return k == t.kind()
}

func (t FieldType) kind() Kind {
	switch t {
	case FieldTypeInt:
		return KindInt
	case FieldTypeString:
		return KindString
	case FieldTypeBool:
		return KindBool
	case FieldTypeArray:
		return KindArray
	case FieldTypeMap:
		return KindMap
	}
	return KindInvalid
}
