package library

import (
	"log/slog"

	"github.com/hupe1980/ndstore/codec"
	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/fs"
	"github.com/hupe1980/ndstore/internal/resource"
	"github.com/hupe1980/ndstore/metrics"
)

// Option configures a Library.
type Option func(*options)

type options struct {
	fs            fs.FileSystem
	registry      *codec.Registry
	logger        *slog.Logger
	metrics       metrics.Observer
	rc            *resource.Controller
	ignore        []string
	scanWorkers   int
	defaultFormat core.Format
	mmapThreshold int64
	compression   codec.Compression
}

func defaultOptions() options {
	return options{
		fs:            fs.Default,
		logger:        slog.New(slog.DiscardHandler),
		metrics:       metrics.NoopObserver{},
		scanWorkers:   8,
		defaultFormat: core.FormatNative,
		mmapThreshold: -1,
	}
}

// WithFileSystem sets the file system the library works on.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithRegistry sets the container codecs and their probe order.
func WithRegistry(reg *codec.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the metrics observer.
func WithMetrics(m metrics.Observer) Option {
	return func(o *options) {
		o.metrics = metrics.OrNoop(m)
	}
}

// WithResourceController bounds scan concurrency and throttles item IO.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithIgnore skips files and directories whose root-relative slash path or
// base name matches one of the glob patterns ("**" crosses directories).
func WithIgnore(patterns ...string) Option {
	return func(o *options) {
		o.ignore = append(o.ignore, patterns...)
	}
}

// WithScanConcurrency sets how many files are probed in parallel on open.
func WithScanConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.scanWorkers = n
		}
	}
}

// WithDefaultFormat sets the format used for new items stored without an
// explicit format.
func WithDefaultFormat(f core.Format) Option {
	return func(o *options) {
		if f != core.FormatUnknown {
			o.defaultFormat = f
		}
	}
}

// WithMmapThreshold sets the file size above which reads are memory mapped.
func WithMmapThreshold(n int64) Option {
	return func(o *options) {
		o.mmapThreshold = n
	}
}

// WithCompression sets native payload compression for the default registry.
func WithCompression(c codec.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}
