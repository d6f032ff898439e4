package archive

import (
	"errors"
	"fmt"

	"github.com/hupe1980/ndstore/core"
)

var (
	// ErrNoArchive is returned when a prefix holds no committed archive.
	ErrNoArchive = errors.New("archive: no archive")
	// ErrUnsupportedListing is returned for listings written by a newer release.
	ErrUnsupportedListing = errors.New("archive: unsupported listing version")
	// ErrCorruptListing is returned when a listing cannot be parsed.
	ErrCorruptListing = errors.New("archive: corrupt listing")
	// ErrConcurrentExport is returned when another exporter claimed the same
	// archive sequence number first.
	ErrConcurrentExport = errors.New("archive: concurrent export")
	// ErrChecksumMismatch is returned when an archived item does not match
	// the size or checksum recorded in the listing.
	ErrChecksumMismatch = errors.New("archive: checksum mismatch")
	// ErrIdentityMismatch is returned when an archived item decodes to a
	// different identifier than its listing entry.
	ErrIdentityMismatch = errors.New("archive: identifier mismatch")
)

// ItemError reports a failure to export or import one item.
type ItemError struct {
	Op   string
	ID   core.ID
	Name string
	Err  error
}

func (e *ItemError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.ID, e.Name, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }
