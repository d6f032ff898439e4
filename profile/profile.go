package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/fs"
	"github.com/hupe1980/ndstore/library"
	"github.com/hupe1980/ndstore/metadata"
	"github.com/hupe1980/ndstore/metrics"
	"github.com/hupe1980/ndstore/model"
	"github.com/hupe1980/ndstore/schema"
)

type mount struct {
	ref   LibraryRef
	lib   *library.Library
	model *model.Model
}

// Profile aggregates libraries and the profile settings record.
type Profile struct {
	dir     string
	fs      fs.FileSystem
	reg     *schema.Registry
	logger  *slog.Logger
	metrics metrics.Observer
	o       options

	mu       sync.RWMutex
	settings Settings
	mounts   map[string]*mount
	failures []*LibraryError
	closed   bool
}

// Open reads the profile in dir, migrates its settings record and opens
// every library. Libraries that fail to open are reported by Failures and
// left out; only an unreadable descriptor fails Open.
//
// A directory holding only a legacy profile database is imported and gets a
// descriptor written next to it.
func Open(ctx context.Context, dir string, optFns ...Option) (*Profile, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if o.registry == nil {
		o.registry = schema.DefaultRegistry()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		dir:     abs,
		fs:      o.fs,
		reg:     o.registry,
		logger:  o.logger.With("profile", abs),
		metrics: o.metrics,
		o:       o,
		mounts:  make(map[string]*mount),
	}

	doc, version, legacy, err := p.readSettings(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := p.reg.Migrate(schema.TypeProfile, version, doc)
	if version != rec.Version || err != nil {
		p.metrics.OnMigration(schema.TypeProfile, version, rec.Version, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	settings, err := settingsFromRecord(rec)
	if err != nil {
		return nil, err
	}
	p.settings = settings

	if legacy || version != rec.Version {
		if err := writeDescriptor(p.fs, p.reg, p.dir, settings); err != nil {
			return nil, err
		}
		p.logger.Info("profile migrated", "from", version, "to", rec.Version, "legacy", legacy)
	}

	for _, ref := range settings.Libraries {
		if err := p.mount(ctx, ref); err != nil {
			le := &LibraryError{Name: ref.Name, Root: p.resolve(ref.Root), Err: err}
			p.failures = append(p.failures, le)
			p.logger.Warn("library excluded", "library", ref.Name, "path", le.Root, "error", err)
		}
	}
	return p, nil
}

// Create initialises an empty profile in dir and opens it.
func Create(ctx context.Context, dir string, optFns ...Option) (*Profile, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if o.registry == nil {
		o.registry = schema.DefaultRegistry()
	}
	if _, err := o.fs.Stat(filepath.Join(dir, DescriptorName)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileExists, dir)
	}
	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := writeDescriptor(o.fs, o.registry, dir, Settings{}); err != nil {
		return nil, err
	}
	return Open(ctx, dir, optFns...)
}

func (p *Profile) readSettings(ctx context.Context) (metadata.Document, int, bool, error) {
	data, err := fs.ReadFile(p.fs, filepath.Join(p.dir, DescriptorName))
	if err == nil {
		doc, version, err := parseDescriptor(data)
		return doc, version, false, err
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, 0, false, err
	}

	legacyPath := filepath.Join(p.dir, LegacyName)
	if _, err := p.fs.Stat(legacyPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, false, fmt.Errorf("%w in %s", ErrNoProfile, p.dir)
		}
		return nil, 0, false, err
	}
	doc, version, err := importLegacy(ctx, legacyPath)
	return doc, version, true, err
}

func (p *Profile) resolve(root string) string {
	if filepath.IsAbs(root) {
		return root
	}
	return filepath.Join(p.dir, root)
}

// mount opens the library of ref and loads its model. Caller owns p.mounts.
func (p *Profile) mount(ctx context.Context, ref LibraryRef) error {
	libOpts := []library.Option{
		library.WithFileSystem(p.fs),
		library.WithLogger(p.logger.With("library", ref.Name)),
		library.WithMetrics(p.metrics),
		library.WithResourceController(p.o.rc),
	}
	if ref.PreferredFormat != core.FormatUnknown {
		libOpts = append(libOpts, library.WithDefaultFormat(ref.PreferredFormat))
	}
	lib, err := library.Open(ctx, p.resolve(ref.Root), append(libOpts, p.o.libOpts...)...)
	if err != nil {
		return err
	}
	m, err := p.loadModel(ctx, ref, lib)
	if err != nil {
		_ = lib.Close()
		return err
	}
	p.mounts[ref.Name] = &mount{ref: ref, lib: lib, model: m}
	return nil
}

func (p *Profile) loadModel(ctx context.Context, ref LibraryRef, lib *library.Library) (*model.Model, error) {
	modelOpts := []model.Option{
		model.WithName(ref.Name),
		model.WithLogger(p.logger),
		model.WithMetrics(p.metrics),
		model.WithResourceController(p.o.rc),
		model.WithFormat(ref.PreferredFormat),
	}
	return model.Load(ctx, lib, p.reg, append(modelOpts, p.o.modelOpts...)...)
}

// Dir returns the absolute profile directory.
func (p *Profile) Dir() string { return p.dir }

// Registry returns the schema registry shared by all models.
func (p *Profile) Registry() *schema.Registry { return p.reg }

// Libraries returns the names of the opened libraries in descriptor order.
func (p *Profile) Libraries() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.mounts))
	for _, ref := range p.settings.Libraries {
		if _, ok := p.mounts[ref.Name]; ok {
			names = append(names, ref.Name)
		}
	}
	return names
}

// Library returns an opened library by name.
func (p *Profile) Library(name string) (*library.Library, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.mounts[name]
	if !ok {
		return nil, false
	}
	return m.lib, true
}

// Model returns the model of an opened library by name.
func (p *Profile) Model(name string) (*model.Model, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.mounts[name]
	if !ok {
		return nil, false
	}
	return m.model, true
}

// Failures returns the libraries that could not be opened.
func (p *Profile) Failures() []*LibraryError {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.failures)
}

// Settings returns a copy of the settings record.
func (p *Profile) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.Clone()
}

// Option returns a profile-level option.
func (p *Profile) Option(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.settings.Options[key]
	return v, ok
}

// SetOption sets a profile-level option. The value must be representable
// as metadata; it is persisted by Save. A nil value removes the option.
func (p *Profile) SetOption(key string, value any) error {
	v, err := metadata.FromAny(value)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if v.IsNull() {
		delete(p.settings.Options, key)
		return nil
	}
	if p.settings.Options == nil {
		p.settings.Options = make(map[string]any)
	}
	p.settings.Options[key] = metadata.ToAny(v)
	return nil
}

// AddLibrary opens or creates the library at root, adds it to the profile
// and saves the descriptor.
func (p *Profile) AddLibrary(ctx context.Context, name, root string, format core.Format) error {
	if name == "" || root == "" {
		return fmt.Errorf("%w: library needs name and root", ErrInvalidDescriptor)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if slices.ContainsFunc(p.settings.Libraries, func(r LibraryRef) bool { return r.Name == name }) {
		return fmt.Errorf("%w: %q", ErrDuplicateLibrary, name)
	}

	ref := LibraryRef{Name: name, Root: root, PreferredFormat: format}
	if err := p.mount(ctx, ref); err != nil {
		return &LibraryError{Name: name, Root: p.resolve(root), Err: err}
	}
	next := p.settings.Clone()
	next.Libraries = append(next.Libraries, ref)
	if err := writeDescriptor(p.fs, p.reg, p.dir, next); err != nil {
		_ = p.mounts[name].lib.Close()
		delete(p.mounts, name)
		return err
	}
	p.settings = next
	return nil
}

// RemoveLibrary closes a library and drops it from the descriptor. Its
// files are left untouched; unflushed model changes are discarded.
func (p *Profile) RemoveLibrary(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	i := slices.IndexFunc(p.settings.Libraries, func(r LibraryRef) bool { return r.Name == name })
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownLibrary, name)
	}
	next := p.settings.Clone()
	next.Libraries = slices.Delete(next.Libraries, i, i+1)
	if err := writeDescriptor(p.fs, p.reg, p.dir, next); err != nil {
		return err
	}
	p.settings = next
	if m, ok := p.mounts[name]; ok {
		_ = m.lib.Close()
		delete(p.mounts, name)
	}
	p.failures = slices.DeleteFunc(p.failures, func(le *LibraryError) bool { return le.Name == name })
	return nil
}

// Reload flushes the model of a library, rescans the library directory and
// rebuilds the model from it. Use it after the files were changed from
// outside, e.g. by an archive import.
func (p *Profile) Reload(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	m, ok := p.mounts[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLibrary, name)
	}
	if err := m.model.Flush(ctx).Err(); err != nil {
		return &LibraryError{Name: name, Root: m.lib.Root(), Err: err}
	}
	if err := m.lib.Rescan(ctx); err != nil {
		return &LibraryError{Name: name, Root: m.lib.Root(), Err: err}
	}
	reloaded, err := p.loadModel(ctx, m.ref, m.lib)
	if err != nil {
		return &LibraryError{Name: name, Root: m.lib.Root(), Err: err}
	}
	m.model = reloaded
	return nil
}

// Save writes the settings record to the descriptor atomically.
func (p *Profile) Save(_ context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return writeDescriptor(p.fs, p.reg, p.dir, p.settings)
}

// Flush flushes every model. Per-library failures are joined into one
// error of *LibraryError values wrapping each model's *model.FlushError.
func (p *Profile) Flush(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	var errs []error
	for _, ref := range p.settings.Libraries {
		m, ok := p.mounts[ref.Name]
		if !ok {
			continue
		}
		if err := m.model.Flush(ctx).Err(); err != nil {
			errs = append(errs, &LibraryError{Name: ref.Name, Root: m.lib.Root(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Close closes every library. Unflushed model changes are discarded.
func (p *Profile) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for _, m := range p.mounts {
		errs = append(errs, m.lib.Close())
	}
	return errors.Join(errs...)
}
