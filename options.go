package ndstore

import (
	"github.com/hupe1980/ndstore/internal/resource"
	"github.com/hupe1980/ndstore/library"
	"github.com/hupe1980/ndstore/metrics"
	"github.com/hupe1980/ndstore/model"
	"github.com/hupe1980/ndstore/profile"
	"github.com/hupe1980/ndstore/schema"
)

type options struct {
	logger      *Logger
	metrics     metrics.Observer
	registry    *schema.Registry
	limits      *resource.Config
	ignore      []string
	eager       bool
	profileOpts []profile.Option
}

// Option configures Open and Create.
type Option func(*options)

// WithLogger sets the logger used by the profile, its libraries and models.
//
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetrics sets the observer for storage and schema events.
func WithMetrics(m metrics.Observer) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithRegistry replaces the built-in schema registry.
func WithRegistry(reg *schema.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithResourceLimits bounds the worker pool and the I/O rate shared by
// scans, eager loads and flushes.
//
// Example:
//
//	ndstore.Open(ctx, dir, ndstore.WithResourceLimits(4, 64<<20))
func WithResourceLimits(maxWorkers int, ioBytesPerSec int64) Option {
	return func(o *options) {
		o.limits = &resource.Config{
			MaxWorkers:         int64(maxWorkers),
			IOLimitBytesPerSec: ioBytesPerSec,
		}
	}
}

// WithIgnore skips files matching the glob patterns in every library scan.
func WithIgnore(patterns ...string) Option {
	return func(o *options) {
		o.ignore = append(o.ignore, patterns...)
	}
}

// WithEagerLoad decodes every record when a library is opened instead of
// on first access.
func WithEagerLoad() Option {
	return func(o *options) {
		o.eager = true
	}
}

// WithProfileOptions passes options through to the profile package.
func WithProfileOptions(opts ...profile.Option) Option {
	return func(o *options) {
		o.profileOpts = append(o.profileOpts, opts...)
	}
}

func (o options) profileOptions() []profile.Option {
	observer := metrics.OrNoop(o.metrics)
	opts := []profile.Option{
		profile.WithLogger(o.logger.Logger),
		profile.WithMetrics(loggingObserver{log: o.logger, next: observer}),
	}
	if o.registry != nil {
		opts = append(opts, profile.WithRegistry(o.registry))
	}
	if o.limits != nil {
		opts = append(opts, profile.WithResourceController(resource.NewController(*o.limits)))
	}
	if len(o.ignore) > 0 {
		opts = append(opts, profile.WithLibraryOptions(library.WithIgnore(o.ignore...)))
	}
	if o.eager {
		opts = append(opts, profile.WithModelOptions(model.WithEagerLoad()))
	}
	return append(opts, o.profileOpts...)
}
