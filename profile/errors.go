package profile

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDescriptor is returned for descriptors that cannot be read or
	// do not describe a valid settings record.
	ErrInvalidDescriptor = errors.New("profile: invalid descriptor")
	// ErrNoProfile is returned by Open for a directory without a descriptor.
	ErrNoProfile = errors.New("profile: no profile descriptor")
	// ErrProfileExists is returned by Create for an initialised directory.
	ErrProfileExists = errors.New("profile: already exists")
	// ErrDuplicateLibrary is returned when a library name is already in use.
	ErrDuplicateLibrary = errors.New("profile: duplicate library name")
	// ErrUnknownLibrary is returned for library names the profile does not hold.
	ErrUnknownLibrary = errors.New("profile: unknown library")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("profile: closed")
)

// LibraryError reports a library that failed to open, flush or upgrade.
type LibraryError struct {
	Name string
	Root string
	Err  error
}

func (e *LibraryError) Error() string {
	return fmt.Sprintf("library %q (%s): %v", e.Name, e.Root, e.Err)
}

func (e *LibraryError) Unwrap() error {
	return e.Err
}
