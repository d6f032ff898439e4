package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/ndstore/blobstore"
	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/hash"
	"github.com/hupe1980/ndstore/library"
)

// ImportReport is the outcome of Import.
type ImportReport struct {
	Sequence uint64
	Imported []core.ID
	// Skipped lists items the library already held.
	Skipped []core.ID
	Failed  map[core.ID]error
}

// Err joins the per-item failures, or returns nil.
func (r ImportReport) Err() error {
	return joinFailures(r.Failed)
}

type importOutcome uint8

const (
	outcomeFailed importOutcome = iota
	outcomeImported
	outcomeSkipped
)

// Import restores the items of the current listing below prefix into lib.
// Each item is verified against its recorded size and checksum before it is
// stored; items that fail are reported and the rest are still imported.
func Import(ctx context.Context, store blobstore.BlobStore, prefix string, lib *library.Library, optFns ...Option) (ImportReport, error) {
	o := apply(optFns)
	logger := o.logger.With("prefix", prefix, "library", lib.Root())
	report := ImportReport{Failed: make(map[core.ID]error)}

	listing, err := Load(ctx, store, prefix, o.sequence)
	if err != nil {
		return report, err
	}
	report.Sequence = listing.Sequence

	outcomes := make([]importOutcome, len(listing.Items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, rec := range listing.Items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if !o.overwrite && lib.Contains(rec.ID) {
				outcomes[i] = outcomeSkipped
				return nil
			}
			if err := importItem(gctx, store, prefix, lib, rec, o.format); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				mu.Lock()
				report.Failed[rec.ID] = err
				mu.Unlock()
				logger.Warn("item not imported", "identifier", rec.ID, "name", rec.Name, "error", err)
				return nil
			}
			outcomes[i] = outcomeImported
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for i, rec := range listing.Items {
		switch outcomes[i] {
		case outcomeImported:
			report.Imported = append(report.Imported, rec.ID)
		case outcomeSkipped:
			report.Skipped = append(report.Skipped, rec.ID)
		}
	}
	slices.SortFunc(report.Imported, core.ID.Compare)
	slices.SortFunc(report.Skipped, core.ID.Compare)

	logger.Info("library imported",
		"sequence", listing.Sequence,
		"imported", len(report.Imported),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
	)
	return report, nil
}

func importItem(ctx context.Context, store blobstore.BlobStore, prefix string, lib *library.Library, rec ItemRecord, format core.Format) error {
	data, err := blobstore.ReadAll(ctx, store, path.Join(prefix, rec.Name))
	if err != nil {
		return &ItemError{Op: "import", ID: rec.ID, Name: rec.Name, Err: err}
	}
	if int64(len(data)) != rec.Size || hash.CRC32C(data) != rec.CRC32C {
		return &ItemError{Op: "import", ID: rec.ID, Name: rec.Name, Err: ErrChecksumMismatch}
	}

	c, err := lib.Handlers().Registry().ByFormat(rec.Format)
	if err != nil {
		return &ItemError{Op: "import", ID: rec.ID, Name: rec.Name, Err: err}
	}
	item, err := c.Decode(data)
	if err != nil {
		return &ItemError{Op: "decode", ID: rec.ID, Name: rec.Name, Err: err}
	}
	if !item.ID.IsZero() && item.ID != rec.ID {
		return &ItemError{Op: "import", ID: rec.ID, Name: rec.Name, Err: fmt.Errorf("%w: item carries %s", ErrIdentityMismatch, item.ID)}
	}

	if format == core.FormatUnknown {
		format = rec.Format
	}
	return lib.Store(ctx, rec.ID, item, library.StoreOptions{Format: format, Convert: true})
}
