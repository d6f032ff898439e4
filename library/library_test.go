package library

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ndstore/codec"
	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/fs"
	"github.com/hupe1980/ndstore/metadata"
	"github.com/hupe1980/ndstore/metrics"
	"github.com/hupe1980/ndstore/storage"
)

func newItem(t *testing.T, title string) *core.DataItem {
	t.Helper()
	arr, err := core.Float64Array([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	return &core.DataItem{
		ID: core.NewID(),
		Metadata: metadata.Document{
			metadata.TypeKey:    metadata.String("data_item"),
			metadata.VersionKey: metadata.Int(1),
			"title":             metadata.String(title),
		},
		Payload: arr,
	}
}

func openLib(t *testing.T, root string, opts ...Option) *Library {
	t.Helper()
	lib, err := Open(t.Context(), root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close() })
	return lib
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	require.NoError(t, filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return err
	}))
	return n
}

func TestStoreFetch(t *testing.T) {
	root := t.TempDir()
	lib := openLib(t, root)

	a := newItem(t, "a")
	b := newItem(t, "b")
	require.NoError(t, lib.Store(t.Context(), a.ID, a, StoreOptions{}))
	require.NoError(t, lib.Store(t.Context(), b.ID, b, StoreOptions{Format: core.FormatHierarchical}))

	assert.Equal(t, 2, lib.Len())
	assert.True(t, lib.Contains(a.ID))

	got, err := lib.Fetch(t.Context(), a.ID)
	require.NoError(t, err)
	assert.True(t, a.Equal(got))
	assert.Equal(t, core.FormatNative, got.Format)

	got, err = lib.Fetch(t.Context(), b.ID)
	require.NoError(t, err)
	assert.True(t, b.Equal(got))
	assert.Equal(t, core.FormatHierarchical, got.Format)

	e, ok := lib.Entry(a.ID)
	require.True(t, ok)
	s := a.ID.String()
	assert.Equal(t, filepath.Join(lib.Root(), s[:2], s+".ndat"), e.Path)
	assert.Equal(t, 1, e.Version)
	assert.Equal(t, "data_item", e.Type)
	assert.Positive(t, e.Size)

	entries := lib.Entries()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].ID.Less(entries[1].ID))

	_, err = lib.Fetch(t.Context(), core.NewID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReopenRecoversIndex(t *testing.T) {
	root := t.TempDir()
	lib := openLib(t, root)
	a := newItem(t, "persisted")
	require.NoError(t, lib.Store(t.Context(), a.ID, a, StoreOptions{}))
	require.NoError(t, lib.Close())

	_, err := lib.Fetch(t.Context(), a.ID)
	assert.ErrorIs(t, err, ErrClosed)

	fresh := openLib(t, root)
	assert.Empty(t, fresh.Warnings())
	got, err := fresh.Fetch(t.Context(), a.ID)
	require.NoError(t, err)
	assert.True(t, a.Equal(got))
	assert.Equal(t, payloadBytes(a), payloadBytes(got))
}

func payloadBytes(it *core.DataItem) []byte { return it.Payload.Data }

func TestCorruptItemIsSkipped(t *testing.T) {
	root := t.TempDir()
	lib := openLib(t, root)
	a := newItem(t, "a")
	b := newItem(t, "b")
	require.NoError(t, lib.Store(t.Context(), a.ID, a, StoreOptions{}))
	require.NoError(t, lib.Store(t.Context(), b.ID, b, StoreOptions{}))

	ea, _ := lib.Entry(a.ID)
	data, err := os.ReadFile(ea.Path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ea.Path, data[:len(data)-7], 0o644))

	fresh := openLib(t, root)
	warnings := fresh.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, ea.Path, warnings[0].Path)
	assert.ErrorIs(t, warnings[0], ErrUnreadable)
	assert.ErrorIs(t, warnings[0], codec.ErrTruncatedPayload)

	assert.False(t, fresh.Contains(a.ID))
	got, err := fresh.Fetch(t.Context(), b.ID)
	require.NoError(t, err)
	assert.True(t, b.Equal(got))
}

func TestCorruptRawLengthIsReported(t *testing.T) {
	root := t.TempDir()
	lib := openLib(t, root, WithCompression(codec.CompressionLZ4))

	values := make([]float64, 64*64)
	arr, err := core.Float64Array([]int{64, 64}, values)
	require.NoError(t, err)
	it := newItem(t, "zeros")
	it.Payload = arr
	require.NoError(t, lib.Store(t.Context(), it.ID, it, StoreOptions{}))

	e, _ := lib.Entry(it.ID)
	data, err := os.ReadFile(e.Path)
	require.NoError(t, err)
	h, err := codec.ParseNativeHeader(data)
	require.NoError(t, err)
	require.Equal(t, codec.CompressionLZ4, h.Compression)

	// Raw payload length lives at bytes 24..31 and is not checksummed.
	binary.LittleEndian.PutUint64(data[24:], 1<<60)
	require.NoError(t, os.WriteFile(e.Path, data, 0o644))

	assert.NotPanics(t, func() {
		_, err = lib.Fetch(t.Context(), it.ID)
	})
	assert.ErrorIs(t, err, ErrReadFailure)
	assert.ErrorIs(t, err, codec.ErrCorruptHeader)

	fresh := openLib(t, root)
	warnings := fresh.Warnings()
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], codec.ErrCorruptHeader)
	assert.False(t, fresh.Contains(it.ID))
}

func TestRescanKeepsConcurrentWrites(t *testing.T) {
	lib := openLib(t, t.TempDir())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				assert.NoError(t, lib.Rescan(t.Context()))
			}
		}
	}()

	stored := make([]*core.DataItem, 0, 32)
	for i := range 32 {
		it := newItem(t, "item")
		require.NoError(t, lib.Store(t.Context(), it.ID, it, StoreOptions{}))
		stored = append(stored, it)
		if i%4 == 3 {
			require.NoError(t, lib.Delete(t.Context(), stored[0].ID))
			stored = stored[1:]
		}
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, len(stored), lib.Len())
	for _, it := range stored {
		assert.True(t, lib.Contains(it.ID))
	}
	problems, err := lib.Verify(t.Context())
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestRewriteReplacesFile(t *testing.T) {
	root := t.TempDir()
	lib := openLib(t, root)
	a := newItem(t, "v1")
	opts := StoreOptions{Format: core.FormatHierarchical}
	require.NoError(t, lib.Store(t.Context(), a.ID, a, opts))

	a.Metadata["title"] = metadata.String("v2")
	require.NoError(t, lib.Store(t.Context(), a.ID, a, opts))

	assert.Equal(t, 1, countFiles(t, root))
	got, err := lib.Fetch(t.Context(), a.ID)
	require.NoError(t, err)
	title, _ := got.Metadata.Get("title").AsString()
	assert.Equal(t, "v2", title)
}

func TestStoreKeepsFormatUnlessConverting(t *testing.T) {
	root := t.TempDir()
	lib := openLib(t, root)
	a := newItem(t, "a")
	require.NoError(t, lib.Store(t.Context(), a.ID, a, StoreOptions{}))

	// Preferred format alone does not move an existing item.
	require.NoError(t, lib.Store(t.Context(), a.ID, a, StoreOptions{Format: core.FormatHierarchical}))
	e, _ := lib.Entry(a.ID)
	assert.Equal(t, core.FormatNative, e.Format)

	require.NoError(t, lib.Convert(t.Context(), a.ID, core.FormatHierarchical))
	e, _ = lib.Entry(a.ID)
	assert.Equal(t, core.FormatHierarchical, e.Format)
	assert.Equal(t, ".h5z", filepath.Ext(e.Path))
	assert.Equal(t, 1, countFiles(t, root))

	got, err := lib.Fetch(t.Context(), a.ID)
	require.NoError(t, err)
	assert.True(t, a.Equal(got))

	problems, err := lib.Verify(t.Context())
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestDeleteIsIdempotent(t *testing.T) {
	root := t.TempDir()
	lib := openLib(t, root)
	a := newItem(t, "a")
	require.NoError(t, lib.Store(t.Context(), a.ID, a, StoreOptions{}))

	require.NoError(t, lib.Delete(t.Context(), a.ID))
	require.NoError(t, lib.Delete(t.Context(), a.ID))
	assert.False(t, lib.Contains(a.ID))
	assert.Equal(t, 0, countFiles(t, root))
}

func TestFailedStoreKeepsPreviousVersion(t *testing.T) {
	root := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	lib := openLib(t, root, WithFileSystem(ffs))

	a := newItem(t, "committed")
	require.NoError(t, lib.Store(t.Context(), a.ID, a, StoreOptions{}))

	ffs.AddRule(a.ID.String(), fs.Fault{FailOnRename: true})
	next := a.Clone()
	next.Metadata["title"] = metadata.String("lost")
	err := lib.Store(t.Context(), a.ID, next, StoreOptions{})
	require.ErrorIs(t, err, ErrWriteFailure)
	require.ErrorIs(t, err, fs.ErrInjected)

	var ie *ItemError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, a.ID, ie.ID)

	e, _ := lib.Entry(a.ID)
	assert.True(t, e.Dirty)

	ffs.ClearRules()
	got, err := lib.Fetch(t.Context(), a.ID)
	require.NoError(t, err)
	assert.True(t, a.Equal(got))
	assert.Equal(t, 1, countFiles(t, root))

	require.NoError(t, lib.Store(t.Context(), a.ID, next, StoreOptions{}))
	e, _ = lib.Entry(a.ID)
	assert.False(t, e.Dirty)
}

func TestDuplicateIdentifierNewestWins(t *testing.T) {
	root := t.TempDir()
	h := storage.NewHandler(codec.NewNative())
	a := newItem(t, "old")
	older := filepath.Join(root, "copy-1.ndat")
	require.NoError(t, h.Write(t.Context(), older, a))

	a.Metadata["title"] = metadata.String("new")
	newer := filepath.Join(root, "copy-2.ndat")
	require.NoError(t, h.Write(t.Context(), newer, a))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	lib := openLib(t, root)
	e, ok := lib.Entry(a.ID)
	require.True(t, ok)
	assert.Equal(t, newer, e.Path)

	warnings := lib.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, older, warnings[0].Path)
	assert.ErrorIs(t, warnings[0], ErrDuplicate)

	// The losing file is left on disk.
	_, err := os.Stat(older)
	assert.NoError(t, err)
}

func TestScanIgnoresFiles(t *testing.T) {
	root := t.TempDir()
	lib := openLib(t, root)
	a := newItem(t, "a")
	require.NoError(t, lib.Store(t.Context(), a.ID, a, StoreOptions{}))

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0o644))
	trash := filepath.Join(root, ".trash")
	require.NoError(t, os.MkdirAll(trash, 0o755))
	b := newItem(t, "trashed")
	require.NoError(t, storage.NewHandler(codec.NewNative()).Write(t.Context(), filepath.Join(trash, b.ID.String()+".ndat"), b))

	// An item file without an embedded identifier is named by its uuid.
	c := newItem(t, "anonymous")
	cID := c.ID
	c.ID = core.NilID
	require.NoError(t, storage.NewHandler(codec.NewHierarchical()).Write(t.Context(), filepath.Join(root, cID.String()+".h5z"), c))

	fresh := openLib(t, root, WithIgnore(".trash/**"))
	assert.Empty(t, fresh.Warnings())
	assert.True(t, fresh.Contains(a.ID))
	assert.False(t, fresh.Contains(b.ID))
	assert.True(t, fresh.Contains(cID))

	all := openLib(t, root)
	assert.True(t, all.Contains(b.ID))
}

func TestOpenRemovesInterruptedWrites(t *testing.T) {
	root := t.TempDir()
	shard := filepath.Join(root, "ab")
	require.NoError(t, os.MkdirAll(shard, 0o755))
	orphan := filepath.Join(shard, ".abc.ndat"+fs.TempInfix+"42")
	require.NoError(t, os.WriteFile(orphan, []byte("NDAT"), 0o600))

	lib := openLib(t, root)
	assert.Equal(t, 0, lib.Len())
	_, err := os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
}

func TestVerifyReportsInconsistencies(t *testing.T) {
	root := t.TempDir()
	lib := openLib(t, root)
	a := newItem(t, "a")
	b := newItem(t, "b")
	require.NoError(t, lib.Store(t.Context(), a.ID, a, StoreOptions{}))
	require.NoError(t, lib.Store(t.Context(), b.ID, b, StoreOptions{}))

	ea, _ := lib.Entry(a.ID)
	require.NoError(t, os.Remove(ea.Path))

	c := newItem(t, "sneaked in")
	stray := filepath.Join(root, c.ID.String()+".ndat")
	require.NoError(t, storage.NewHandler(codec.NewNative()).Write(t.Context(), stray, c))

	problems, err := lib.Verify(t.Context())
	require.NoError(t, err)
	require.Len(t, problems, 2)

	byPath := map[string]error{}
	for _, p := range problems {
		byPath[p.Path] = p.Err
	}
	assert.ErrorIs(t, byPath[ea.Path], ErrMissingFile)
	assert.ErrorIs(t, byPath[stray], ErrUnindexed)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	lib := openLib(t, t.TempDir())
	items := make([]*core.DataItem, 8)
	for i := range items {
		items[i] = newItem(t, "item")
		require.NoError(t, lib.Store(t.Context(), items[i].ID, items[i], StoreOptions{}))
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				it := items[j%len(items)]
				got, err := lib.Fetch(t.Context(), it.ID)
				if assert.NoError(t, err) {
					assert.Equal(t, it.ID, got.ID)
				}
			}
		}()
	}
	for j := 0; j < 20; j++ {
		it := items[j%len(items)]
		require.NoError(t, lib.Store(t.Context(), it.ID, it, StoreOptions{}))
	}
	wg.Wait()
}

func TestLibraryMetrics(t *testing.T) {
	obs := &metrics.BasicObserver{}
	lib := openLib(t, t.TempDir(), WithMetrics(obs))
	a := newItem(t, "a")
	require.NoError(t, lib.Store(t.Context(), a.ID, a, StoreOptions{}))
	_, err := lib.Fetch(t.Context(), a.ID)
	require.NoError(t, err)
	require.NoError(t, lib.Delete(t.Context(), a.ID))

	s := obs.Stats()
	assert.Equal(t, int64(1), s.ScanCount)
	assert.Equal(t, int64(1), s.StoreCount)
	assert.Positive(t, s.StoreBytes)
	assert.Equal(t, int64(1), s.FetchCount)
	assert.Equal(t, int64(1), s.DeleteCount)
}

func TestMarkDirty(t *testing.T) {
	lib := openLib(t, t.TempDir())
	a := newItem(t, "a")
	require.NoError(t, lib.Store(t.Context(), a.ID, a, StoreOptions{}))

	assert.True(t, lib.MarkDirty(a.ID))
	e, _ := lib.Entry(a.ID)
	assert.True(t, e.Dirty)
	assert.False(t, lib.MarkDirty(core.NewID()))
}

func TestIndexOrder(t *testing.T) {
	x := NewIndex()
	ids := []core.ID{
		core.MustParseID("30000000-0000-0000-0000-000000000000"),
		core.MustParseID("10000000-0000-0000-0000-000000000000"),
		core.MustParseID("20000000-0000-0000-0000-000000000000"),
	}
	for _, id := range ids {
		x.Set(Entry{ID: id})
	}
	_, replaced := x.Set(Entry{ID: ids[0], Version: 2})
	assert.True(t, replaced)
	assert.Equal(t, 3, x.Len())

	entries := x.Entries()
	assert.Equal(t, ids[1], entries[0].ID)
	assert.Equal(t, ids[2], entries[1].ID)
	assert.Equal(t, ids[0], entries[2].ID)
	assert.Equal(t, 2, entries[2].Version)

	snap := x.Clone()
	x.Delete(ids[1])
	assert.Equal(t, 2, x.Len())
	assert.Equal(t, 3, snap.Len())
}
