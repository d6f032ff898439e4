package ndstore

import (
	"context"
	"fmt"

	"github.com/hupe1980/ndstore/archive"
	"github.com/hupe1980/ndstore/blobstore"
	"github.com/hupe1980/ndstore/profile"
)

func applyOptions(optFns []Option) options {
	o := options{logger: NoopLogger()}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

// Open opens the profile in dir.
//
// Example:
//
//	p, err := ndstore.Open(ctx, "./profile", ndstore.WithLogger(ndstore.NewTextLogger(slog.LevelInfo)))
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
func Open(ctx context.Context, dir string, optFns ...Option) (*profile.Profile, error) {
	o := applyOptions(optFns)
	p, err := profile.Open(ctx, dir, o.profileOptions()...)
	if err != nil {
		return nil, translateError(err)
	}
	for _, f := range p.Failures() {
		o.logger.Warn("library unavailable", "library", f.Name, "path", f.Root, "error", f.Err)
	}
	return p, nil
}

// Create initialises a new, empty profile in dir and opens it.
func Create(ctx context.Context, dir string, optFns ...Option) (*profile.Profile, error) {
	o := applyOptions(optFns)
	p, err := profile.Create(ctx, dir, o.profileOptions()...)
	if err != nil {
		return nil, translateError(err)
	}
	return p, nil
}

// Export flushes the named library of p and writes it to store below prefix.
func Export(ctx context.Context, p *profile.Profile, library string, store blobstore.BlobStore, prefix string, opts ...archive.Option) (archive.ExportReport, error) {
	m, ok := p.Model(library)
	if !ok {
		return archive.ExportReport{}, translateError(fmt.Errorf("%w: %q", profile.ErrUnknownLibrary, library))
	}
	if err := m.Flush(ctx).Err(); err != nil {
		return archive.ExportReport{}, translateError(err)
	}
	lib, _ := p.Library(library)
	report, err := archive.Export(ctx, lib, store, prefix, opts...)
	return report, translateError(err)
}

// Import restores the archive below prefix into the named library of p and
// reloads its model.
func Import(ctx context.Context, store blobstore.BlobStore, prefix string, p *profile.Profile, library string, opts ...archive.Option) (archive.ImportReport, error) {
	lib, ok := p.Library(library)
	if !ok {
		return archive.ImportReport{}, translateError(fmt.Errorf("%w: %q", profile.ErrUnknownLibrary, library))
	}
	if err := p.Reload(ctx, library); err != nil {
		return archive.ImportReport{}, translateError(err)
	}
	report, err := archive.Import(ctx, store, prefix, lib, opts...)
	if err != nil {
		return report, translateError(err)
	}
	return report, translateError(p.Reload(ctx, library))
}
