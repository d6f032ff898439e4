package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/ndstore/blobstore"
	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/hash"
	"github.com/hupe1980/ndstore/library"
)

// ExportReport is the outcome of Export.
type ExportReport struct {
	// Sequence of the committed listing; 0 when nothing was committed.
	Sequence uint64
	Exported []core.ID
	// Reused lists exported items whose blob already existed unchanged.
	Reused []core.ID
	Failed map[core.ID]error
}

// Err joins the per-item failures, or returns nil.
func (r ExportReport) Err() error {
	return joinFailures(r.Failed)
}

// Export writes every item of lib below prefix in store, then commits a new
// listing ARCHIVE-<n>.json and points CURRENT at it. Items that cannot be
// read are reported and left out of the listing; the rest is still
// committed. Item blobs are content-addressed, so a repeated export only
// uploads what changed.
func Export(ctx context.Context, lib *library.Library, store blobstore.BlobStore, prefix string, optFns ...Option) (ExportReport, error) {
	o := apply(optFns)
	logger := o.logger.With("prefix", prefix, "library", lib.Root())
	report := ExportReport{Failed: make(map[core.ID]error)}

	cur, err := Current(ctx, store, prefix)
	if err != nil {
		return report, err
	}

	entries := lib.Entries()
	records := make([]*ItemRecord, len(entries))
	reused := make([]bool, len(entries))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, skipped, err := exportItem(gctx, lib, store, prefix, e)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				mu.Lock()
				report.Failed[e.ID] = err
				mu.Unlock()
				logger.Warn("item not exported", "identifier", e.ID, "path", e.Path, "error", err)
				return nil
			}
			records[i] = rec
			reused[i] = skipped
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	listing := &Listing{
		Version:  ListingVersion,
		Sequence: cur + 1,
		Created:  time.Now().UTC(),
		Library:  filepath.Base(lib.Root()),
	}
	for i, rec := range records {
		if rec == nil {
			continue
		}
		listing.Items = append(listing.Items, *rec)
		report.Exported = append(report.Exported, rec.ID)
		if reused[i] {
			report.Reused = append(report.Reused, rec.ID)
		}
	}

	if err := commit(ctx, store, prefix, listing); err != nil {
		return report, err
	}
	report.Sequence = listing.Sequence
	logger.Info("library exported",
		"sequence", listing.Sequence,
		"items", len(report.Exported),
		"reused", len(report.Reused),
		"failed", len(report.Failed),
	)
	return report, nil
}

// exportItem uploads one item unless an identical blob is already stored.
func exportItem(ctx context.Context, lib *library.Library, store blobstore.BlobStore, prefix string, e library.Entry) (*ItemRecord, bool, error) {
	item, err := lib.Fetch(ctx, e.ID)
	if err != nil {
		return nil, false, err
	}
	c, err := lib.Handlers().Registry().ByFormat(e.Format)
	if err != nil {
		return nil, false, err
	}
	data, err := c.Encode(item)
	if err != nil {
		return nil, false, &ItemError{Op: "encode", ID: e.ID, Err: err}
	}

	rec := &ItemRecord{
		ID:      e.ID,
		Format:  e.Format,
		Type:    e.Type,
		Version: e.Version,
		Size:    int64(len(data)),
		CRC32C:  hash.CRC32C(data),
	}
	rec.Name = itemName(e.ID, rec.CRC32C, e.Format)
	full := path.Join(prefix, rec.Name)

	if b, err := store.Open(ctx, full); err == nil {
		size := b.Size()
		_ = b.Close()
		if size == rec.Size {
			return rec, true, nil
		}
	} else if !errors.Is(err, blobstore.ErrNotFound) {
		return nil, false, &ItemError{Op: "export", ID: e.ID, Name: rec.Name, Err: err}
	}

	if err := store.Put(ctx, full, data); err != nil {
		return nil, false, &ItemError{Op: "export", ID: e.ID, Name: rec.Name, Err: err}
	}
	return rec, false, nil
}

func joinFailures(failed map[core.ID]error) error {
	if len(failed) == 0 {
		return nil
	}
	ids := make([]core.ID, 0, len(failed))
	for id := range failed {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, core.ID.Compare)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, fmt.Errorf("item %s: %w", id, failed[id]))
	}
	return errors.Join(errs...)
}
