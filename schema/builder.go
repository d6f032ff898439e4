package schema

import (
	"errors"
	"fmt"
	"slices"
)

type typeDef struct {
	name       string
	versions   []Version // index i holds version i+1
	migrations []MigrationFunc
	normalize  Normalizer
}

func (t *typeDef) current() int { return len(t.versions) }

// Builder collects type definitions and produces an immutable Registry.
// A Builder is not safe for concurrent use.
type Builder struct {
	types map[string]*typeBuilder
	order []string
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{types: make(map[string]*typeBuilder)}
}

// Type starts or continues the definition of a type.
func (b *Builder) Type(name string) *TypeBuilder {
	tb, ok := b.types[name]
	if !ok {
		tb = &typeBuilder{
			name:       name,
			versions:   make(map[int]Version),
			migrations: make(map[int]MigrationFunc),
		}
		b.types[name] = tb
		b.order = append(b.order, name)
	}
	return &TypeBuilder{b: b, t: tb}
}

// Build validates every definition and returns the registry. Each type must
// declare versions 1..k without gaps and exactly one migration per step.
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{types: make(map[string]*typeDef, len(b.types))}
	var errs []error
	for _, name := range b.order {
		def, err := b.types[name].build()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.types[name] = def
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Registry {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}

type typeBuilder struct {
	name       string
	versions   map[int]Version
	migrations map[int]MigrationFunc
	normalize  Normalizer
	errs       []error
}

func (tb *typeBuilder) build() (*typeDef, error) {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: type %q: %s", ErrInvalidSchema, tb.name, fmt.Sprintf(format, args...))
	}
	if tb.name == "" {
		return nil, fmt.Errorf("%w: empty type name", ErrInvalidSchema)
	}
	if len(tb.errs) > 0 {
		return nil, errors.Join(tb.errs...)
	}
	if len(tb.versions) == 0 {
		return nil, fail("no versions")
	}

	numbers := make([]int, 0, len(tb.versions))
	for n := range tb.versions {
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)
	for i, n := range numbers {
		if n != i+1 {
			return nil, fail("versions must run 1..%d without gaps, found %v", len(numbers), numbers)
		}
	}

	k := len(numbers)
	def := &typeDef{
		name:       tb.name,
		versions:   make([]Version, k),
		migrations: make([]MigrationFunc, k-1),
		normalize:  tb.normalize,
	}
	for n := 1; n <= k; n++ {
		def.versions[n-1] = tb.versions[n]
	}
	for from, fn := range tb.migrations {
		if from < 1 || from >= k {
			return nil, fail("migration from v%d has no target version", from)
		}
		def.migrations[from-1] = fn
	}
	for i, fn := range def.migrations {
		if fn == nil {
			return nil, fail("missing migration v%d->v%d", i+1, i+2)
		}
	}
	return def, nil
}

// TypeBuilder defines one type's version chain.
type TypeBuilder struct {
	b *Builder
	t *typeBuilder
}

// Version declares the fields of version n.
func (tb *TypeBuilder) Version(n int, fields ...Field) *TypeBuilder {
	if _, dup := tb.t.versions[n]; dup {
		tb.t.errs = append(tb.t.errs, fmt.Errorf("%w: type %q: version %d declared twice", ErrInvalidSchema, tb.t.name, n))
		return tb
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			tb.t.errs = append(tb.t.errs, fmt.Errorf("%w: type %q: v%d declares %q twice", ErrInvalidSchema, tb.t.name, n, f.Name))
		}
		seen[f.Name] = true
	}
	tb.t.versions[n] = Version{Number: n, Fields: slices.Clone(fields)}
	return tb
}

// Migrate registers the step from version `from` to from+1.
func (tb *TypeBuilder) Migrate(from int, fn MigrationFunc) *TypeBuilder {
	if _, dup := tb.t.migrations[from]; dup {
		tb.t.errs = append(tb.t.errs, fmt.Errorf("%w: type %q: migration from v%d declared twice", ErrInvalidSchema, tb.t.name, from))
		return tb
	}
	tb.t.migrations[from] = fn
	return tb
}

// Normalize sets the normalizer applied at the current version.
func (tb *TypeBuilder) Normalize(fn Normalizer) *TypeBuilder {
	tb.t.normalize = fn
	return tb
}

// Type continues with another type definition.
func (tb *TypeBuilder) Type(name string) *TypeBuilder {
	return tb.b.Type(name)
}

// Build builds the whole registry.
func (tb *TypeBuilder) Build() (*Registry, error) {
	return tb.b.Build()
}
