package library

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMissingFile marks an index entry whose file is gone.
	ErrMissingFile = errors.New("library: indexed file missing")
	// ErrUnindexed marks a recognized file with no index entry.
	ErrUnindexed = errors.New("library: file not indexed")
	// ErrIdentityMismatch marks a file whose embedded identifier differs from
	// its index entry.
	ErrIdentityMismatch = errors.New("library: identifier mismatch")
)

// Verify checks that every index entry points at a readable file carrying
// its identifier and that every recognized file is indexed exactly once.
// An empty result means the index and directory agree.
func (l *Library) Verify(ctx context.Context) ([]Warning, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	var problems []Warning
	byPath := make(map[string]int, l.index.Len())

	var ctxErr error
	l.index.Ascend(func(e Entry) bool {
		if ctxErr = ctx.Err(); ctxErr != nil {
			return false
		}
		byPath[e.Path]++
		h, err := l.handlers.ByFormat(e.Format)
		if err != nil {
			problems = append(problems, Warning{Path: e.Path, ID: e.ID, Err: err})
			return true
		}
		info, err := h.Inspect(e.Path)
		switch {
		case isNotExist(err):
			problems = append(problems, Warning{Path: e.Path, ID: e.ID, Err: ErrMissingFile})
		case err != nil:
			problems = append(problems, Warning{Path: e.Path, ID: e.ID, Err: fmt.Errorf("%w: %w", ErrUnreadable, err)})
		case !info.ID.IsZero() && info.ID != e.ID:
			problems = append(problems, Warning{Path: e.Path, ID: e.ID, Err: fmt.Errorf("%w: file holds %s", ErrIdentityMismatch, info.ID)})
		}
		return true
	})
	if ctxErr != nil {
		return nil, ctxErr
	}

	paths, err := l.candidates(l.root)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if byPath[p] == 0 {
			problems = append(problems, Warning{Path: p, Err: ErrUnindexed})
		}
	}
	for p, n := range byPath {
		if n > 1 {
			problems = append(problems, Warning{Path: p, Err: fmt.Errorf("%w: %d entries share the file", ErrDuplicate, n)})
		}
	}
	return problems, nil
}
