package schema

import (
	"fmt"
	"slices"

	"github.com/hupe1980/ndstore/metadata"
)

// Registry is an immutable set of type definitions. It is safe for
// concurrent use and needs no locking.
type Registry struct {
	types map[string]*typeDef
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Has reports whether typeName is registered.
func (r *Registry) Has(typeName string) bool {
	_, ok := r.types[typeName]
	return ok
}

// Current returns the newest version of typeName.
func (r *Registry) Current(typeName string) (int, error) {
	def, ok := r.types[typeName]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	return def.current(), nil
}

// Version returns the declaration of version n of typeName.
func (r *Registry) Version(typeName string, n int) (Version, error) {
	def, ok := r.types[typeName]
	if !ok {
		return Version{}, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	if n < 1 || n > def.current() {
		return Version{}, fmt.Errorf("%w: %s v%d", ErrUnsupportedVersion, typeName, n)
	}
	return def.versions[n-1], nil
}

// Field returns the current declaration of a field.
func (r *Registry) Field(typeName, field string) (Field, bool) {
	def, ok := r.types[typeName]
	if !ok {
		return Field{}, false
	}
	return def.versions[def.current()-1].Field(field)
}

// Compatibility classifies version against the chain of typeName.
func (r *Registry) Compatibility(typeName string, version int) Compatibility {
	def, ok := r.types[typeName]
	switch {
	case !ok:
		return Unknown
	case version < 1 || version > def.current():
		return Unsupported
	case version == def.current():
		return Current
	default:
		return NeedsMigration
	}
}

// Migrate applies the chained single-step migrations of typeName to fields,
// starting at version and ending at the current version. The input is never
// modified. Each step receives a record satisfying its version's contract.
func (r *Registry) Migrate(typeName string, version int, fields metadata.Document) (Record, error) {
	def, ok := r.types[typeName]
	if !ok {
		return Record{}, &MigrationError{Type: typeName, From: version, Err: ErrUnknownType}
	}
	return r.migrate(def, version, def.current(), fields)
}

// MigrateTo is like Migrate but stops at target. The normalizer only runs
// when target is the current version.
func (r *Registry) MigrateTo(typeName string, version, target int, fields metadata.Document) (Record, error) {
	def, ok := r.types[typeName]
	if !ok {
		return Record{}, &MigrationError{Type: typeName, From: version, Err: ErrUnknownType}
	}
	if target < version || target > def.current() {
		return Record{}, &MigrationError{
			Type: typeName,
			From: version,
			To:   target,
			Err:  fmt.Errorf("%w: target outside %d..%d", ErrUnsupportedVersion, version, def.current()),
		}
	}
	return r.migrate(def, version, target, fields)
}

func (r *Registry) migrate(def *typeDef, version, target int, fields metadata.Document) (Record, error) {
	typeName := def.name
	if version < 1 || version > def.current() {
		return Record{}, &MigrationError{
			Type: typeName,
			From: version,
			Err:  fmt.Errorf("%w: known versions are 1..%d", ErrUnsupportedVersion, def.current()),
		}
	}

	rec := Record{Type: typeName, Version: version, Fields: fields.Clone()}
	if rec.Fields == nil {
		rec.Fields = metadata.Document{}
	}
	for rec.Version < target {
		if err := def.versions[rec.Version-1].check(rec.Fields); err != nil {
			return Record{}, &MigrationError{Type: typeName, From: rec.Version, To: rec.Version + 1, Err: fmt.Errorf("%w: %w", ErrMigrationFailure, err)}
		}
		next, err := def.migrations[rec.Version-1](rec)
		if err != nil {
			return Record{}, &MigrationError{Type: typeName, From: rec.Version, To: rec.Version + 1, Err: fmt.Errorf("%w: %w", ErrMigrationFailure, err)}
		}
		if next.Fields == nil {
			next.Fields = metadata.Document{}
		}
		rec = Record{Type: typeName, Version: rec.Version + 1, Fields: next.Fields}
	}

	if err := def.versions[target-1].check(rec.Fields); err != nil {
		return Record{}, &MigrationError{Type: typeName, From: version, To: target, Err: fmt.Errorf("%w: %w", ErrMigrationFailure, err)}
	}
	if target == def.current() {
		r.normalizeInPlace(def, rec.Fields)
	}
	return rec, nil
}

// Validate checks fields against the current version of typeName.
func (r *Registry) Validate(typeName string, fields metadata.Document) error {
	def, ok := r.types[typeName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	if err := def.versions[def.current()-1].check(fields); err != nil {
		return fmt.Errorf("%w: %s v%d: %w", ErrMigrationFailure, typeName, def.current(), err)
	}
	return nil
}

// Normalize returns the canonical form of a single field value.
func (r *Registry) Normalize(typeName, field string, v metadata.Value) metadata.Value {
	def, ok := r.types[typeName]
	if !ok || def.normalize == nil {
		return v
	}
	return def.normalize(field, v)
}

func (r *Registry) normalizeInPlace(def *typeDef, fields metadata.Document) {
	if def.normalize == nil {
		return
	}
	for k, v := range fields {
		if v.IsNull() {
			continue
		}
		fields[k] = def.normalize(k, v)
	}
}

// Encode validates a current-version record and returns a document with the
// type and version stamps set. The input is not modified.
func (r *Registry) Encode(typeName string, fields metadata.Document) (metadata.Document, error) {
	if err := r.Validate(typeName, fields); err != nil {
		return nil, err
	}
	def := r.types[typeName]
	out := make(metadata.Document, len(fields)+2)
	for k, v := range fields {
		if metadata.IsReserved(k) {
			continue
		}
		out[k] = v.Clone()
	}
	r.normalizeInPlace(def, out)
	out[metadata.TypeKey] = metadata.String(typeName)
	out[metadata.VersionKey] = metadata.Int(int64(def.current()))
	return out, nil
}

// Decode reads the type and version stamps of doc and migrates the rest to
// the current version. A document without a version stamp is version 1.
func (r *Registry) Decode(doc metadata.Document) (Record, error) {
	typeName, version, err := Stamps(doc)
	if err != nil {
		return Record{}, err
	}
	fields := make(metadata.Document, len(doc))
	for k, v := range doc {
		if !metadata.IsReserved(k) {
			fields[k] = v
		}
	}
	return r.Migrate(typeName, version, fields)
}

// Stamps returns the type and version stamped into doc.
func Stamps(doc metadata.Document) (string, int, error) {
	tv, ok := doc[metadata.TypeKey]
	if !ok {
		return "", 0, &MigrationError{Err: fmt.Errorf("%w: no type stamp", ErrUnknownType)}
	}
	typeName, ok := tv.AsString()
	if !ok {
		return "", 0, &MigrationError{Err: fmt.Errorf("%w: type stamp is %s", ErrUnknownType, tv.Kind)}
	}
	version := 1
	if vv, ok := doc[metadata.VersionKey]; ok {
		n, ok := vv.AsInt64()
		if !ok {
			return "", 0, &MigrationError{Type: typeName, Err: fmt.Errorf("%w: version stamp is %s", ErrUnsupportedVersion, vv.Kind)}
		}
		version = int(n)
	}
	return typeName, version, nil
}
