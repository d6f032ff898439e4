// Package library implements the File Storage System: a directory of item
// containers, the index that maps identifiers to files, and the brokered
// item IO on top of it.
//
// A Library owns its root directory for the lifetime of the process. Any
// number of goroutines may Fetch concurrently; Store and Delete are
// serialized and hold the index exclusively across the physical commit, so a
// reader never observes an index entry whose file is not yet in place.
package library

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/hupe1980/ndstore/codec"
	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/fs"
	"github.com/hupe1980/ndstore/internal/resource"
	"github.com/hupe1980/ndstore/metadata"
	"github.com/hupe1980/ndstore/metrics"
	"github.com/hupe1980/ndstore/storage"
)

// StoreOptions controls where and how an item is written.
type StoreOptions struct {
	// Format is the preferred container for new items, or the target of a
	// conversion. FormatUnknown selects the library default.
	Format core.Format
	// Convert rewrites an existing item in Format, removing the old file
	// only after the new one is committed.
	Convert bool
}

// Library is one File Storage System instance.
type Library struct {
	root          string
	fs            fs.FileSystem
	handlers      *storage.Set
	ignore        []glob.Glob
	scanWorkers   int
	defaultFormat core.Format
	rc            *resource.Controller
	logger        *slog.Logger
	metrics       metrics.Observer

	// writeMu orders writers against Rescan's scan-and-swap.
	writeMu sync.Mutex

	mu       sync.RWMutex
	index    *Index
	warnings []Warning
	closed   bool
}

// Open scans root and builds the index. Files that cannot be read are
// recorded as warnings; only failures to access root itself are returned.
func Open(ctx context.Context, root string, optFns ...Option) (*Library, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	ignore := make([]glob.Glob, 0, len(o.ignore))
	for _, p := range o.ignore {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		ignore = append(ignore, g)
	}

	reg := o.registry
	if reg == nil {
		reg = codec.DefaultRegistry(codec.WithCompression(o.compression))
	}
	hopts := []storage.Option{
		storage.WithFileSystem(o.fs),
		storage.WithResourceController(o.rc),
		storage.WithLogger(o.logger),
	}
	if o.mmapThreshold >= 0 {
		hopts = append(hopts, storage.WithMmapThreshold(o.mmapThreshold))
	}

	l := &Library{
		root:          abs,
		fs:            o.fs,
		handlers:      storage.NewSet(reg, hopts...),
		ignore:        ignore,
		scanWorkers:   o.scanWorkers,
		defaultFormat: o.defaultFormat,
		rc:            o.rc,
		logger:        o.logger.With("library", abs),
		metrics:       o.metrics,
		index:         NewIndex(),
	}
	if _, err := l.handlers.ByFormat(l.defaultFormat); err != nil {
		return nil, err
	}

	if err := o.fs.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	removed, err := storage.CleanupTemp(o.fs, abs)
	if err != nil {
		return nil, err
	}
	for _, p := range removed {
		l.logger.Info("removed interrupted write", "path", p)
	}

	if err := l.Rescan(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Root returns the absolute library directory.
func (l *Library) Root() string { return l.root }

// Handlers returns the handler set used by the library.
func (l *Library) Handlers() *storage.Set { return l.handlers }

// DefaultFormat returns the format used for new items.
func (l *Library) DefaultFormat() core.Format { return l.defaultFormat }

// Rescan rebuilds the index from the directory contents.
func (l *Library) Rescan(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	start := time.Now()
	index, warnings, err := l.scan(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.index = index
	l.warnings = warnings
	l.mu.Unlock()

	for _, w := range warnings {
		l.logger.Warn("skipped item", "path", w.Path, "identifier", w.ID, "error", w.Err)
	}
	l.logger.Info("scan completed", "items", index.Len(), "warnings", len(warnings), "duration", time.Since(start))
	l.metrics.OnScan(time.Since(start), index.Len(), len(warnings))
	return nil
}

// Warnings returns the per-file problems found by the last scan.
func (l *Library) Warnings() []Warning {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Warning(nil), l.warnings...)
}

// Len returns the number of indexed items.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index.Len()
}

// Contains reports whether id is indexed.
func (l *Library) Contains(id core.ID) bool {
	_, ok := l.Entry(id)
	return ok
}

// Entry returns the index entry for id.
func (l *Library) Entry(id core.ID) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index.Get(id)
}

// Entries returns all index entries in identifier order.
func (l *Library) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index.Entries()
}

// IDs returns all indexed identifiers in order.
func (l *Library) IDs() []core.ID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]core.ID, 0, l.index.Len())
	l.index.Ascend(func(e Entry) bool {
		ids = append(ids, e.ID)
		return true
	})
	return ids
}

// MarkDirty flags the entry for id as having unsaved changes.
// It reports whether id is indexed.
func (l *Library) MarkDirty(id core.ID) bool {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.index.Get(id)
	if !ok {
		return false
	}
	e.Dirty = true
	l.index.Set(e)
	return true
}

// Fetch reads the item for id.
func (l *Library) Fetch(ctx context.Context, id core.ID) (*core.DataItem, error) {
	start := time.Now()

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	e, ok := l.index.Get(id)
	if !ok {
		return nil, &ItemError{Op: "fetch", ID: id, Kind: ErrNotFound}
	}

	item, err := l.read(ctx, e)
	l.metrics.OnFetch(time.Since(start), e.Format.String(), err)
	if err != nil {
		return nil, &ItemError{Op: "fetch", ID: id, Path: e.Path, Kind: ErrReadFailure, Err: err}
	}
	return item, nil
}

func (l *Library) read(ctx context.Context, e Entry) (*core.DataItem, error) {
	h, err := l.handlers.ByFormat(e.Format)
	if err != nil {
		return nil, err
	}
	item, err := h.Read(ctx, e.Path)
	if err != nil {
		return nil, err
	}
	if item.ID.IsZero() {
		item.ID = e.ID
	}
	item.Format = e.Format
	return item, nil
}

// Store writes item under id. The index changes only after the file is
// committed; on failure the previous file and entry are left as they were.
func (l *Library) Store(ctx context.Context, id core.ID, item *core.DataItem, opts StoreOptions) error {
	if id.IsZero() {
		return &ItemError{Op: "store", ID: id, Kind: ErrWriteFailure, Err: errors.New("zero identifier")}
	}
	start := time.Now()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	prev, exists := l.index.Get(id)
	format := opts.Format
	switch {
	case exists && (!opts.Convert || format == core.FormatUnknown):
		format = prev.Format
	case format == core.FormatUnknown:
		format = l.defaultFormat
	}

	path := l.PathFor(id, format)
	if exists && format == prev.Format {
		path = prev.Path
	}

	h, err := l.handlers.ByFormat(format)
	if err != nil {
		return &ItemError{Op: "store", ID: id, Path: path, Kind: ErrWriteFailure, Err: err}
	}

	toWrite := *item
	toWrite.ID = id
	toWrite.Format = format

	if err := h.Write(ctx, path, &toWrite); err != nil {
		l.metrics.OnStore(time.Since(start), format.String(), 0, err)
		if exists {
			prev.Dirty = true
			l.index.Set(prev)
		}
		return &ItemError{Op: "store", ID: id, Path: path, Kind: ErrWriteFailure, Err: err}
	}

	if exists && prev.Path != path {
		if err := l.handlerFor(prev.Format).Delete(prev.Path); err != nil {
			// The new file wins on the next scan by modification time.
			l.logger.Warn("stale file left after conversion", "identifier", id, "path", prev.Path, "error", err)
		}
	}

	e := Entry{
		ID:      id,
		Path:    path,
		Format:  format,
		Version: versionOf(&toWrite),
		Type:    typeOf(toWrite.Metadata),
	}
	if st, err := l.fs.Stat(path); err == nil {
		e.Size = st.Size()
		e.ModTime = st.ModTime()
	}
	l.index.Set(e)

	l.metrics.OnStore(time.Since(start), format.String(), e.Size, nil)
	l.logger.Debug("stored item", "identifier", id, "path", path, "format", format)
	return nil
}

// Convert rewrites an existing item in another container format.
func (l *Library) Convert(ctx context.Context, id core.ID, format core.Format) error {
	item, err := l.Fetch(ctx, id)
	if err != nil {
		return err
	}
	if item.Format == format {
		return nil
	}
	return l.Store(ctx, id, item, StoreOptions{Format: format, Convert: true})
}

// Delete removes the item file and its index entry. Deleting an absent
// identifier succeeds.
func (l *Library) Delete(ctx context.Context, id core.ID) error {
	start := time.Now()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	e, ok := l.index.Get(id)
	if !ok {
		return nil
	}
	if err := l.handlerFor(e.Format).Delete(e.Path); err != nil {
		l.metrics.OnDelete(time.Since(start), err)
		return &ItemError{Op: "delete", ID: id, Path: e.Path, Kind: ErrWriteFailure, Err: err}
	}
	l.index.Delete(id)
	l.metrics.OnDelete(time.Since(start), nil)
	return nil
}

// Close releases the library. Further operations return ErrClosed.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// PathFor returns the canonical path of id in the given format:
// root/<first two hex digits>/<identifier><extension>.
func (l *Library) PathFor(id core.ID, format core.Format) string {
	s := id.String()
	return filepath.Join(l.root, s[:2], s+format.Extension())
}

func (l *Library) handlerFor(f core.Format) storage.Handler {
	h, err := l.handlers.ByFormat(f)
	if err != nil {
		// Index entries are only created for registered formats.
		panic(err)
	}
	return h
}

func versionOf(item *core.DataItem) int {
	if item.SchemaVersion > 0 {
		return item.SchemaVersion
	}
	v, _ := item.Metadata.Get(metadata.VersionKey).AsInt64()
	return int(v)
}

func typeOf(doc metadata.Document) string {
	s, _ := doc.Get(metadata.TypeKey).AsString()
	return s
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
