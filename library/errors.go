package library

import (
	"errors"
	"fmt"

	"github.com/hupe1980/ndstore/core"
)

var (
	// ErrNotFound is returned when an identifier has no index entry.
	ErrNotFound = errors.New("library: not found")
	// ErrReadFailure wraps handler errors raised while fetching an item.
	ErrReadFailure = errors.New("library: read failure")
	// ErrWriteFailure wraps handler errors raised while storing or deleting.
	ErrWriteFailure = errors.New("library: write failure")
	// ErrUnreadable marks a file skipped during a scan.
	ErrUnreadable = errors.New("library: unreadable item")
	// ErrDuplicate marks a file whose identifier is already indexed from a
	// newer file.
	ErrDuplicate = errors.New("library: duplicate identifier")
	// ErrClosed is returned by operations on a closed library.
	ErrClosed = errors.New("library: closed")
)

// ItemError wraps a per-item failure with the identifier and path involved.
//
// errors.Is matches both Kind (ErrNotFound, ErrReadFailure, ...) and any
// sentinel in the underlying Err chain, such as codec.ErrCorruptHeader.
type ItemError struct {
	Op   string
	ID   core.ID
	Path string
	Kind error
	Err  error
}

func (e *ItemError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.ID)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err == nil {
		return msg + ": " + e.Kind.Error()
	}
	return msg + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap returns the kind and the underlying error.
func (e *ItemError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Warning is a non-fatal per-file problem found during a scan or verify.
type Warning struct {
	Path string
	ID   core.ID
	Err  error
}

func (w Warning) Error() string {
	if w.ID.IsZero() {
		return fmt.Sprintf("%s: %v", w.Path, w.Err)
	}
	return fmt.Sprintf("%s (%s): %v", w.Path, w.ID, w.Err)
}

func (w Warning) Unwrap() error { return w.Err }
