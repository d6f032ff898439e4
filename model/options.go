package model

import (
	"log/slog"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/resource"
	"github.com/hupe1980/ndstore/metrics"
)

// Option configures a Model.
type Option func(*options)

type options struct {
	eager   bool
	format  core.Format
	logger  *slog.Logger
	metrics metrics.Observer
	rc      *resource.Controller
	name    string
}

func defaultOptions() options {
	return options{
		logger:  slog.New(slog.DiscardHandler),
		metrics: metrics.NoopObserver{},
	}
}

// WithEagerLoad decodes every entity during Load. Per-item failures are
// kept and reported through LoadErrors instead of failing the load.
func WithEagerLoad() Option {
	return func(o *options) {
		o.eager = true
	}
}

// WithFormat sets the container format requested for new entities.
// FormatUnknown leaves the choice to the library.
func WithFormat(f core.Format) Option {
	return func(o *options) {
		o.format = f
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

// WithResourceController bounds the number of concurrent flush and eager
// load workers.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithName labels log records and metrics of this model.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}
