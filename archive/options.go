package archive

import (
	"log/slog"

	"github.com/hupe1980/ndstore/core"
)

// Option configures Export, Import and Prune.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	concurrency int
	overwrite   bool
	format      core.Format
	sequence    uint64
}

func defaultOptions() options {
	return options{
		logger:      slog.New(slog.DiscardHandler),
		concurrency: 4,
	}
}

func apply(optFns []Option) options {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConcurrency bounds the number of items transferred in parallel.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithOverwrite makes Import replace items the library already holds.
// By default they are skipped.
func WithOverwrite(overwrite bool) Option {
	return func(o *options) { o.overwrite = overwrite }
}

// WithFormat makes Import store every item in format instead of the
// container it was archived in.
func WithFormat(format core.Format) Option {
	return func(o *options) { o.format = format }
}

// WithSequence makes Import read the archive with sequence number n
// instead of the one CURRENT points to.
func WithSequence(n uint64) Option {
	return func(o *options) { o.sequence = n }
}
