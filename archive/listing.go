package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/hupe1980/ndstore/blobstore"
	"github.com/hupe1980/ndstore/core"
)

const (
	// CurrentName is the pointer to the newest listing of a prefix.
	CurrentName = "CURRENT"
	// ListingVersion is the listing layout written by this package.
	ListingVersion = 1

	listingPrefix = "ARCHIVE-"
	listingSuffix = ".json"
	itemsDir      = "items"
)

// Listing describes one exported snapshot of a library.
type Listing struct {
	Version  int          `json:"version"`
	Sequence uint64       `json:"sequence"`
	Created  time.Time    `json:"created"`
	Library  string       `json:"library"`
	Items    []ItemRecord `json:"items"`
}

// ItemRecord locates one archived item. Name is relative to the prefix.
type ItemRecord struct {
	ID      core.ID     `json:"id"`
	Name    string      `json:"name"`
	Format  core.Format `json:"format"`
	Type    string      `json:"type,omitempty"`
	Version int         `json:"schema_version,omitempty"`
	Size    int64       `json:"size"`
	CRC32C  uint32      `json:"crc32c"`
}

// ListingName returns the blob name of the listing with sequence n.
func ListingName(n uint64) string {
	return fmt.Sprintf("%s%06d%s", listingPrefix, n, listingSuffix)
}

func parseListingName(name string) (uint64, bool) {
	s, ok := strings.CutPrefix(path.Base(name), listingPrefix)
	if !ok {
		return 0, false
	}
	s, ok = strings.CutSuffix(s, listingSuffix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil && n > 0
}

// itemName is content-addressed so unchanged items are shared between
// listings.
func itemName(id core.ID, crc uint32, format core.Format) string {
	return path.Join(itemsDir, id.String(), fmt.Sprintf("%08x%s", crc, format.Extension()))
}

// Current returns the sequence number CURRENT points to, or 0 when the
// prefix holds no archive yet.
func Current(ctx context.Context, store blobstore.BlobStore, prefix string) (uint64, error) {
	data, err := blobstore.ReadAll(ctx, store, path.Join(prefix, CurrentName))
	if errors.Is(err, blobstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, ok := parseListingName(strings.TrimSpace(string(data)))
	if !ok {
		return 0, fmt.Errorf("%w: %s points to %q", ErrCorruptListing, CurrentName, data)
	}
	return n, nil
}

// Sequences returns the sequence numbers of every listing below prefix in
// ascending order.
func Sequences(ctx context.Context, store blobstore.BlobStore, prefix string) ([]uint64, error) {
	names, err := store.List(ctx, path.Join(prefix, listingPrefix))
	if err != nil {
		return nil, err
	}
	var seqs []uint64
	for _, name := range names {
		if path.Dir(name) != path.Clean(path.Join(prefix, ".")) {
			continue
		}
		if n, ok := parseListingName(name); ok {
			seqs = append(seqs, n)
		}
	}
	slices.Sort(seqs)
	return seqs, nil
}

// Load reads the listing with sequence n, or the current one when n is 0.
func Load(ctx context.Context, store blobstore.BlobStore, prefix string, n uint64) (*Listing, error) {
	if n == 0 {
		cur, err := Current(ctx, store, prefix)
		if err != nil {
			return nil, err
		}
		if cur == 0 {
			return nil, fmt.Errorf("%w below %q", ErrNoArchive, prefix)
		}
		n = cur
	}

	name := path.Join(prefix, ListingName(n))
	data, err := blobstore.ReadAll(ctx, store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", ErrNoArchive, name, err)
		}
		return nil, err
	}

	var l Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptListing, name, err)
	}
	if l.Version != ListingVersion {
		return nil, fmt.Errorf("%w: %d (expected %d)", ErrUnsupportedListing, l.Version, ListingVersion)
	}
	if l.Sequence != n {
		return nil, fmt.Errorf("%w: %s carries sequence %d", ErrCorruptListing, name, l.Sequence)
	}
	return &l, nil
}

// commit claims the listing name and then moves CURRENT to it.
func commit(ctx context.Context, store blobstore.BlobStore, prefix string, l *Listing) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	name := ListingName(l.Sequence)
	if err := blobstore.PutIfNotExists(ctx, store, path.Join(prefix, name), data); err != nil {
		if errors.Is(err, blobstore.ErrConflict) {
			return fmt.Errorf("%w: sequence %d: %w", ErrConcurrentExport, l.Sequence, err)
		}
		return err
	}
	if err := store.Put(ctx, path.Join(prefix, CurrentName), []byte(name)); err != nil {
		if errors.Is(err, blobstore.ErrConflict) {
			return fmt.Errorf("%w: %w", ErrConcurrentExport, err)
		}
		return err
	}
	return nil
}
