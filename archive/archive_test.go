package archive

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ndstore/blobstore"
	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/library"
	"github.com/hupe1980/ndstore/metadata"
)

func openLib(t *testing.T, opts ...library.Option) *library.Library {
	t.Helper()
	lib, err := library.Open(t.Context(), t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close() })
	return lib
}

func seed(t *testing.T, lib *library.Library, n int, format core.Format) []core.ID {
	t.Helper()
	ids := make([]core.ID, n)
	for i := range ids {
		arr, err := core.Float64Array([]int{2}, []float64{float64(i), float64(i * 2)})
		require.NoError(t, err)
		ids[i] = core.NewID()
		item := &core.DataItem{
			ID: ids[i],
			Metadata: metadata.Document{
				metadata.TypeKey:    metadata.String("data_item"),
				metadata.VersionKey: metadata.Int(3),
				"title":             metadata.String("item"),
			},
			Payload: arr,
		}
		require.NoError(t, lib.Store(t.Context(), ids[i], item, library.StoreOptions{Format: format}))
	}
	return ids
}

func TestExportImportRoundTrip(t *testing.T) {
	src := openLib(t)
	ids := append(seed(t, src, 3, core.FormatNative), seed(t, src, 2, core.FormatHierarchical)...)
	store := blobstore.NewMemoryStore()

	report, err := Export(t.Context(), src, store, "main")
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, uint64(1), report.Sequence)
	assert.ElementsMatch(t, ids, report.Exported)
	assert.Empty(t, report.Reused)

	cur, err := blobstore.ReadAll(t.Context(), store, "main/CURRENT")
	require.NoError(t, err)
	assert.Equal(t, "ARCHIVE-000001.json", string(cur))

	dst := openLib(t)
	imp, err := Import(t.Context(), store, "main", dst)
	require.NoError(t, err)
	require.NoError(t, imp.Err())
	assert.ElementsMatch(t, ids, imp.Imported)

	for _, id := range ids {
		want, err := src.Fetch(t.Context(), id)
		require.NoError(t, err)
		got, err := dst.Fetch(t.Context(), id)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "item %s", id)

		we, _ := src.Entry(id)
		ge, _ := dst.Entry(id)
		assert.Equal(t, we.Format, ge.Format)
	}
}

func TestExportIsIncremental(t *testing.T) {
	lib := openLib(t)
	ids := seed(t, lib, 3, core.FormatNative)
	store := blobstore.NewMemoryStore()

	_, err := Export(t.Context(), lib, store, "")
	require.NoError(t, err)
	blobs := store.Len()

	extra := seed(t, lib, 1, core.FormatNative)
	report, err := Export(t.Context(), lib, store, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), report.Sequence)
	assert.ElementsMatch(t, ids, report.Reused)
	assert.Equal(t, blobs+2, store.Len(), "one new item and one new listing")

	seqs, err := Sequences(t.Context(), store, "")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, seqs)

	first, err := Load(t.Context(), store, "", 1)
	require.NoError(t, err)
	assert.Len(t, first.Items, 3)
	latest, err := Load(t.Context(), store, "", 0)
	require.NoError(t, err)
	assert.Len(t, latest.Items, 4)
	assert.Contains(t, report.Exported, extra[0])
}

func TestExportReportsUnreadableItems(t *testing.T) {
	lib := openLib(t)
	ids := seed(t, lib, 3, core.FormatNative)
	e, ok := lib.Entry(ids[1])
	require.True(t, ok)
	st, err := os.Stat(e.Path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(e.Path, st.Size()-7))

	store := blobstore.NewMemoryStore()
	report, err := Export(t.Context(), lib, store, "p")
	require.NoError(t, err)
	require.Contains(t, report.Failed, ids[1])
	assert.ErrorIs(t, report.Err(), library.ErrReadFailure)
	assert.ElementsMatch(t, []core.ID{ids[0], ids[2]}, report.Exported)

	listing, err := Load(t.Context(), store, "p", 0)
	require.NoError(t, err)
	assert.Len(t, listing.Items, 2)
}

func TestExportConflict(t *testing.T) {
	lib := openLib(t)
	seed(t, lib, 1, core.FormatNative)
	store := blobstore.NewMemoryStore()

	_, err := Export(t.Context(), lib, store, "p")
	require.NoError(t, err)
	// Another exporter claimed sequence 2 but has not moved CURRENT yet.
	require.NoError(t, store.Put(t.Context(), "p/"+ListingName(2), []byte("{}")))

	_, err = Export(t.Context(), lib, store, "p")
	require.ErrorIs(t, err, ErrConcurrentExport)
	assert.ErrorIs(t, err, blobstore.ErrConflict)

	n, err := Current(t.Context(), store, "p")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestImportVerifiesChecksums(t *testing.T) {
	src := openLib(t)
	ids := seed(t, src, 2, core.FormatNative)
	store := blobstore.NewMemoryStore()
	_, err := Export(t.Context(), src, store, "p")
	require.NoError(t, err)

	listing, err := Load(t.Context(), store, "p", 0)
	require.NoError(t, err)
	var victim ItemRecord
	for _, rec := range listing.Items {
		if rec.ID == ids[0] {
			victim = rec
		}
	}
	data, err := blobstore.ReadAll(t.Context(), store, "p/"+victim.Name)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, store.Put(t.Context(), "p/"+victim.Name, data))

	dst := openLib(t)
	report, err := Import(t.Context(), store, "p", dst)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{ids[1]}, report.Imported)
	require.Contains(t, report.Failed, ids[0])
	assert.ErrorIs(t, report.Failed[ids[0]], ErrChecksumMismatch)
	assert.False(t, dst.Contains(ids[0]))
}

func TestImportSkipsExistingUnlessOverwrite(t *testing.T) {
	src := openLib(t)
	ids := seed(t, src, 2, core.FormatNative)
	store := blobstore.NewMemoryStore()
	_, err := Export(t.Context(), src, store, "p")
	require.NoError(t, err)

	dst := openLib(t)
	report, err := Import(t.Context(), store, "p", dst)
	require.NoError(t, err)
	assert.Len(t, report.Imported, 2)

	report, err = Import(t.Context(), store, "p", dst)
	require.NoError(t, err)
	assert.Empty(t, report.Imported)
	assert.ElementsMatch(t, ids, report.Skipped)

	report, err = Import(t.Context(), store, "p", dst, WithOverwrite(true), WithFormat(core.FormatHierarchical))
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, report.Imported)
	for _, id := range ids {
		e, _ := dst.Entry(id)
		assert.Equal(t, core.FormatHierarchical, e.Format)
	}
}

func TestImportErrors(t *testing.T) {
	store := blobstore.NewMemoryStore()
	dst := openLib(t)

	_, err := Import(t.Context(), store, "empty", dst)
	assert.ErrorIs(t, err, ErrNoArchive)

	require.NoError(t, store.Put(t.Context(), "bad/CURRENT", []byte("nonsense")))
	_, err = Import(t.Context(), store, "bad", dst)
	assert.ErrorIs(t, err, ErrCorruptListing)

	require.NoError(t, store.Put(t.Context(), "future/CURRENT", []byte(ListingName(1))))
	require.NoError(t, store.Put(t.Context(), "future/"+ListingName(1), []byte(`{"version": 99, "sequence": 1}`)))
	_, err = Import(t.Context(), store, "future", dst)
	assert.ErrorIs(t, err, ErrUnsupportedListing)

	_, err = Import(t.Context(), store, "future", dst, WithSequence(5))
	assert.ErrorIs(t, err, ErrNoArchive)
}

func TestPrune(t *testing.T) {
	lib := openLib(t)
	ids := seed(t, lib, 2, core.FormatNative)
	store := blobstore.NewMemoryStore()

	_, err := Export(t.Context(), lib, store, "p")
	require.NoError(t, err)
	require.NoError(t, lib.Delete(t.Context(), ids[0]))
	_, err = Export(t.Context(), lib, store, "p")
	require.NoError(t, err)

	report, err := Prune(t.Context(), store, "p", 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, report.Listings)
	require.Len(t, report.Items, 1)
	assert.Contains(t, report.Items[0], ids[0].String())

	dst := openLib(t)
	imp, err := Import(t.Context(), store, "p", dst)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{ids[1]}, imp.Imported)
}
