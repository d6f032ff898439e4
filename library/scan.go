package library

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/fs"
)

type probeResult struct {
	entry Entry
	err   error
	gone  bool
}

// scan walks the root, probes every recognized file and builds a fresh index.
func (l *Library) scan(ctx context.Context) (*Index, []Warning, error) {
	paths, err := l.candidates(l.root)
	if err != nil {
		return nil, nil, err
	}
	slices.Sort(paths)

	results := make([]probeResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.scanWorkers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = l.probe(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	index := NewIndex()
	var warnings []Warning
	for i, r := range results {
		switch {
		case r.gone:
			continue
		case r.err != nil:
			warnings = append(warnings, Warning{Path: paths[i], ID: r.entry.ID, Err: r.err})
			continue
		}

		prev, dup := index.Get(r.entry.ID)
		if !dup {
			index.Set(r.entry)
			continue
		}
		winner, loser := prev, r.entry
		if r.entry.ModTime.After(prev.ModTime) {
			winner, loser = r.entry, prev
		}
		index.Set(winner)
		warnings = append(warnings, Warning{
			Path: loser.Path,
			ID:   loser.ID,
			Err:  fmt.Errorf("%w: superseded by %s", ErrDuplicate, winner.Path),
		})
	}
	return index, warnings, nil
}

// candidates lists files under dir with a recognized extension that are not
// ignored and are not leftovers of interrupted writes.
func (l *Library) candidates(dir string) ([]string, error) {
	entries, err := l.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if l.ignored(path) {
			continue
		}
		if e.IsDir() {
			sub, err := l.candidates(path)
			if err != nil {
				if isNotExist(err) {
					continue
				}
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		if fs.IsTempName(e.Name()) || !l.handlers.Recognized(path) {
			continue
		}
		out = append(out, path)
	}
	return out, nil
}

func (l *Library) ignored(path string) bool {
	if len(l.ignore) == 0 {
		return false
	}
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(path)
	for _, g := range l.ignore {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

// probe detects the handler for path and reads its index-level info.
func (l *Library) probe(path string) probeResult {
	st, err := l.fs.Stat(path)
	if err != nil {
		if isNotExist(err) {
			return probeResult{gone: true}
		}
		return probeResult{err: fmt.Errorf("%w: %w", ErrUnreadable, err)}
	}

	h, err := l.handlers.Detect(path)
	if err != nil {
		return probeResult{err: fmt.Errorf("%w: %w", ErrUnreadable, err)}
	}
	info, err := h.Inspect(path)
	if err != nil {
		return probeResult{err: fmt.Errorf("%w: %w", ErrUnreadable, err)}
	}

	id := info.ID
	if id.IsZero() {
		id, err = idFromName(path)
		if err != nil {
			return probeResult{err: fmt.Errorf("%w: no identifier: %w", ErrUnreadable, err)}
		}
	}

	return probeResult{entry: Entry{
		ID:      id,
		Path:    path,
		Format:  h.Format(),
		Version: info.SchemaVersion,
		Type:    info.Type,
		Size:    st.Size(),
		ModTime: st.ModTime(),
	}}
}

func idFromName(path string) (core.ID, error) {
	base := filepath.Base(path)
	return core.ParseID(strings.TrimSuffix(base, filepath.Ext(base)))
}
