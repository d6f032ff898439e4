package schema

import (
	"fmt"

	"github.com/hupe1980/ndstore/metadata"
)

// AddField sets name to def when the field is absent.
func AddField(name string, def metadata.Value) MigrationFunc {
	return func(r Record) (Record, error) {
		if _, ok := r.Fields[name]; !ok {
			r.Fields[name] = def.Clone()
		}
		return r, nil
	}
}

// RenameField moves from to to. A missing source is left alone; an existing
// destination is overwritten.
func RenameField(from, to string) MigrationFunc {
	return func(r Record) (Record, error) {
		if v, ok := r.Fields[from]; ok {
			r.Fields[to] = v
			delete(r.Fields, from)
		}
		return r, nil
	}
}

// RemoveField deletes name.
func RemoveField(name string) MigrationFunc {
	return func(r Record) (Record, error) {
		delete(r.Fields, name)
		return r, nil
	}
}

// ConvertField replaces the value of name with fn(value). Missing and null
// fields are skipped.
func ConvertField(name string, fn func(metadata.Value) (metadata.Value, error)) MigrationFunc {
	return func(r Record) (Record, error) {
		v, ok := r.Fields[name]
		if !ok || v.IsNull() {
			return r, nil
		}
		nv, err := fn(v)
		if err != nil {
			return r, fmt.Errorf("field %q: %w", name, err)
		}
		r.Fields[name] = nv
		return r, nil
	}
}

// DeriveField computes name from the whole record when it is absent.
func DeriveField(name string, fn func(metadata.Document) (metadata.Value, error)) MigrationFunc {
	return func(r Record) (Record, error) {
		if r.Fields.Has(name) {
			return r, nil
		}
		v, err := fn(r.Fields)
		if err != nil {
			return r, fmt.Errorf("field %q: %w", name, err)
		}
		r.Fields[name] = v
		return r, nil
	}
}

// Chain composes steps into one migration, applied in order.
func Chain(steps ...MigrationFunc) MigrationFunc {
	return func(r Record) (Record, error) {
		var err error
		for _, step := range steps {
			if r, err = step(r); err != nil {
				return r, err
			}
		}
		return r, nil
	}
}
