package archive

import (
	"context"
	"path"
	"strings"

	"github.com/hupe1980/ndstore/blobstore"
)

// PruneReport is the outcome of Prune.
type PruneReport struct {
	Listings []uint64
	Items    []string
}

// Prune deletes all but the newest keep listings below prefix, then every
// item blob none of the remaining listings references. The listing CURRENT
// points to is always kept.
func Prune(ctx context.Context, store blobstore.BlobStore, prefix string, keep int, optFns ...Option) (PruneReport, error) {
	o := apply(optFns)
	var report PruneReport

	seqs, err := Sequences(ctx, store, prefix)
	if err != nil {
		return report, err
	}
	cur, err := Current(ctx, store, prefix)
	if err != nil {
		return report, err
	}
	keep = max(keep, 1)

	referenced := make(map[string]struct{})
	for i, n := range seqs {
		if i < len(seqs)-keep && n != cur {
			continue
		}
		l, err := Load(ctx, store, prefix, n)
		if err != nil {
			return report, err
		}
		for _, rec := range l.Items {
			referenced[rec.Name] = struct{}{}
		}
	}

	for i, n := range seqs {
		if i >= len(seqs)-keep || n == cur {
			continue
		}
		if err := store.Delete(ctx, path.Join(prefix, ListingName(n))); err != nil {
			return report, err
		}
		report.Listings = append(report.Listings, n)
	}

	names, err := store.List(ctx, path.Join(prefix, itemsDir)+"/")
	if err != nil {
		return report, err
	}
	for _, full := range names {
		rel := full
		if prefix != "" {
			rel = strings.TrimPrefix(full, path.Clean(prefix)+"/")
		}
		if _, ok := referenced[rel]; ok {
			continue
		}
		if err := store.Delete(ctx, full); err != nil {
			return report, err
		}
		report.Items = append(report.Items, rel)
	}

	o.logger.Info("archive pruned", "prefix", prefix, "listings", len(report.Listings), "items", len(report.Items))
	return report, nil
}
