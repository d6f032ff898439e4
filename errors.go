package ndstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/ndstore/archive"
	"github.com/hupe1980/ndstore/blobstore"
	"github.com/hupe1980/ndstore/codec"
	"github.com/hupe1980/ndstore/library"
	"github.com/hupe1980/ndstore/model"
	"github.com/hupe1980/ndstore/profile"
	"github.com/hupe1980/ndstore/schema"
)

var (
	// ErrNotFound is returned for any missing item, entity, library,
	// profile or archive.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned after a profile or library was closed.
	ErrClosed = errors.New("closed")
	// ErrCorrupt is returned for unreadable containers, listings and
	// descriptors.
	ErrCorrupt = errors.New("corrupt data")
)

// Re-exported package sentinels. They keep matching errors returned through
// the root package.
var (
	ErrUnsupportedVersion = schema.ErrUnsupportedVersion
	ErrMigrationFailure   = schema.ErrMigrationFailure
	ErrUnknownType        = schema.ErrUnknownType
	ErrWriteFailure       = library.ErrWriteFailure
	ErrInvalidField       = model.ErrInvalidField
	ErrProfileExists      = profile.ErrProfileExists
	ErrDuplicateLibrary   = profile.ErrDuplicateLibrary
	ErrConcurrentExport   = archive.ErrConcurrentExport
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, library.ErrNotFound),
		errors.Is(err, model.ErrEntityNotFound),
		errors.Is(err, model.ErrDeleted),
		errors.Is(err, profile.ErrNoProfile),
		errors.Is(err, profile.ErrUnknownLibrary),
		errors.Is(err, archive.ErrNoArchive),
		errors.Is(err, blobstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)

	case errors.Is(err, library.ErrClosed),
		errors.Is(err, profile.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)

	case errors.Is(err, library.ErrUnreadable),
		errors.Is(err, codec.ErrCorruptHeader),
		errors.Is(err, codec.ErrTruncatedPayload),
		errors.Is(err, codec.ErrChecksumMismatch),
		errors.Is(err, codec.ErrCorruptPayload),
		errors.Is(err, archive.ErrChecksumMismatch),
		errors.Is(err, archive.ErrCorruptListing),
		errors.Is(err, profile.ErrInvalidDescriptor):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return err
}
