package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hupe1980/ndstore/core"
)

var (
	// ErrEntityNotFound is returned for identifiers the model does not hold.
	ErrEntityNotFound = errors.New("model: entity not found")
	// ErrDeleted is returned for entities deleted but not yet flushed.
	ErrDeleted = errors.New("model: entity deleted")
	// ErrInvalidField is returned by setters for undeclared fields or values
	// of the wrong type.
	ErrInvalidField = errors.New("model: invalid field")
)

// FlushError collects the per-item failures of one flush.
type FlushError struct {
	Failed map[core.ID]error
}

func (e *FlushError) Error() string {
	ids := e.ids()
	var sb strings.Builder
	fmt.Fprintf(&sb, "flush: %d item(s) failed", len(ids))
	for i, id := range ids {
		if i == 3 {
			sb.WriteString("; ...")
			break
		}
		fmt.Fprintf(&sb, "; %s: %v", id, e.Failed[id])
	}
	return sb.String()
}

// Unwrap returns the item errors in identifier order.
func (e *FlushError) Unwrap() []error {
	ids := e.ids()
	errs := make([]error, len(ids))
	for i, id := range ids {
		errs[i] = e.Failed[id]
	}
	return errs
}

func (e *FlushError) ids() []core.ID {
	ids := make([]core.ID, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, core.ID.Compare)
	return ids
}
