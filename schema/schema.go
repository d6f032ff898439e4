package schema

import (
	"fmt"

	"github.com/hupe1980/ndstore/metadata"
)

// Field declares one record field of a schema version.
type Field struct {
	Name     string
	Type     metadata.FieldType
	Required bool
}

// Required declares a required field.
func Required(name string, t metadata.FieldType) Field {
	return Field{Name: name, Type: t, Required: true}
}

// Optional declares an optional field.
func Optional(name string, t metadata.FieldType) Field {
	return Field{Name: name, Type: t}
}

// Version is one entry of a type's version chain.
type Version struct {
	Number int
	Fields []Field
}

// Field returns the declared field with the given name.
func (v Version) Field(name string) (Field, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// check verifies that fields satisfy the version contract: every required
// field is present and every declared field has the declared type.
// Undeclared fields are allowed.
func (v Version) check(fields metadata.Document) error {
	for _, f := range v.Fields {
		val, ok := fields[f.Name]
		if !ok || val.IsNull() {
			if f.Required {
				return fmt.Errorf("missing required field %q", f.Name)
			}
			continue
		}
		if !f.Type.Accepts(val.Kind) {
			return fmt.Errorf("field %q is %s, want %s", f.Name, val.Kind, f.Type)
		}
	}
	return nil
}

// Record is a typed entity record decoded from item metadata.
type Record struct {
	Type    string
	Version int
	Fields  metadata.Document
}

// Get returns a field value or null.
func (r Record) Get(name string) metadata.Value {
	return r.Fields.Get(name)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	return Record{Type: r.Type, Version: r.Version, Fields: r.Fields.Clone()}
}

// MigrationFunc maps a record at version N to its version N+1 shape. It must
// be pure: no IO, no reliance on optional fields being present. The engine
// passes a private copy and stamps the resulting version itself.
type MigrationFunc func(Record) (Record, error)

// Normalizer maps a field value to its canonical form at the current
// version, e.g. clamping a rating into range.
type Normalizer func(field string, v metadata.Value) metadata.Value

// Compatibility classifies an on-disk version against the registry.
type Compatibility uint8

const (
	// Unknown means the type is not registered.
	Unknown Compatibility = iota
	// Current means the version is the newest known version.
	Current
	// NeedsMigration means the version is older and can be migrated.
	NeedsMigration
	// Unsupported means the version is newer than known or invalid.
	Unsupported
)

func (c Compatibility) String() string {
	switch c {
	case Current:
		return "current"
	case NeedsMigration:
		return "needs-migration"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}
