package profile

import (
	"log/slog"

	"github.com/hupe1980/ndstore/internal/fs"
	"github.com/hupe1980/ndstore/internal/resource"
	"github.com/hupe1980/ndstore/library"
	"github.com/hupe1980/ndstore/metrics"
	"github.com/hupe1980/ndstore/model"
	"github.com/hupe1980/ndstore/schema"
)

// Option configures a Profile.
type Option func(*options)

type options struct {
	fs        fs.FileSystem
	registry  *schema.Registry
	logger    *slog.Logger
	metrics   metrics.Observer
	rc        *resource.Controller
	libOpts   []library.Option
	modelOpts []model.Option
}

func defaultOptions() options {
	return options{
		fs:      fs.Default,
		logger:  slog.New(slog.DiscardHandler),
		metrics: metrics.NoopObserver{},
	}
}

// WithFileSystem sets the file system for the descriptor and all libraries.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithRegistry sets the schema registry. It must contain the profile type.
func WithRegistry(reg *schema.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithLogger sets the logger passed down to libraries and models.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the metrics observer passed down to libraries and models.
func WithMetrics(m metrics.Observer) Option {
	return func(o *options) {
		o.metrics = metrics.OrNoop(m)
	}
}

// WithResourceController shares one resource controller across libraries
// and models.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithLibraryOptions appends options for every opened library.
func WithLibraryOptions(opts ...library.Option) Option {
	return func(o *options) {
		o.libOpts = append(o.libOpts, opts...)
	}
}

// WithModelOptions appends options for every loaded model.
func WithModelOptions(opts ...model.Option) Option {
	return func(o *options) {
		o.modelOpts = append(o.modelOpts, opts...)
	}
}
