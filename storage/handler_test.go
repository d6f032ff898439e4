package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ndstore/codec"
	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/fs"
	"github.com/hupe1980/ndstore/internal/resource"
	"github.com/hupe1980/ndstore/metadata"
)

func testItem(t *testing.T, title string, n int) *core.DataItem {
	t.Helper()
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i)
	}
	arr, err := core.Float64Array([]int{n}, values)
	require.NoError(t, err)
	return &core.DataItem{
		ID:       core.NewID(),
		Metadata: metadata.Document{"title": metadata.String(title)},
		Payload:  arr,
	}
}

func TestHandlerReadWrite(t *testing.T) {
	for _, c := range []codec.ContainerCodec{codec.NewNative(), codec.NewHierarchical()} {
		t.Run(c.Format().String(), func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "ab", "item"+c.Format().Extension())
			h := NewHandler(c)

			ok, err := h.Exists(path)
			require.NoError(t, err)
			assert.False(t, ok)

			in := testItem(t, "first", 16)
			require.NoError(t, h.Write(t.Context(), path, in))

			ok, err = h.Exists(path)
			require.NoError(t, err)
			assert.True(t, ok)

			out, err := h.Read(t.Context(), path)
			require.NoError(t, err)
			assert.True(t, in.Equal(out))

			probed, err := h.Probe(path)
			require.NoError(t, err)
			assert.True(t, probed)

			info, err := h.Inspect(path)
			require.NoError(t, err)
			assert.Equal(t, in.ID, info.ID)
			assert.True(t, info.HasPayload)

			st, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, FilePerm, st.Mode().Perm())

			require.NoError(t, h.Delete(path))
			require.NoError(t, h.Delete(path))
			ok, err = h.Exists(path)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestHandlerMappedRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.ndat")
	h := NewHandler(codec.NewNative(), WithMmapThreshold(1))

	in := testItem(t, "mapped", 4096)
	require.NoError(t, h.Write(t.Context(), path, in))

	out, err := h.Read(t.Context(), path)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}

func TestHandlerThrottled(t *testing.T) {
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 30})
	path := filepath.Join(t.TempDir(), "x.ndat")
	h := NewHandler(codec.NewNative(), WithResourceController(rc))

	in := testItem(t, "throttled", 8)
	require.NoError(t, h.Write(t.Context(), path, in))
	out, err := h.Read(t.Context(), path)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}

func TestHandlerWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "item.ndat")
	ffs := fs.NewFaultyFS(nil)
	h := NewHandler(codec.NewNative(), WithFileSystem(ffs))

	committed := testItem(t, "committed", 32)
	require.NoError(t, h.Write(t.Context(), path, committed))

	faults := map[string]fs.Fault{
		"rename": {FailOnRename: true},
		"sync":   {FailOnSync: true},
		"write":  {FailAfterBytes: 10},
		"close":  {FailOnClose: true},
	}
	for name, fault := range faults {
		t.Run(name, func(t *testing.T) {
			ffs.ClearRules()
			ffs.AddRule("item.ndat", fault)

			next := testItem(t, "next", 64)
			next.ID = committed.ID
			err := h.Write(t.Context(), path, next)
			require.ErrorIs(t, err, fs.ErrInjected)

			ffs.ClearRules()
			out, err := h.Read(t.Context(), path)
			require.NoError(t, err)
			assert.True(t, committed.Equal(out), "previous version must survive")

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 1, "no temporary file may remain")
		})
	}
}

func TestCleanupTemp(t *testing.T) {
	root := t.TempDir()
	shard := filepath.Join(root, "ab")
	require.NoError(t, os.MkdirAll(shard, 0o755))

	// A crash between temp creation and rename leaves an orphan.
	orphan := filepath.Join(shard, ".item.ndat"+fs.TempInfix+"123")
	require.NoError(t, os.WriteFile(orphan, []byte("partial"), 0o600))
	keep := filepath.Join(shard, "item.ndat")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	removed, err := CleanupTemp(fs.Default, root)
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, removed)

	_, err = os.Stat(keep)
	assert.NoError(t, err)
	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))

	removed, err = CleanupTemp(fs.Default, filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSetDetect(t *testing.T) {
	dir := t.TempDir()
	set := NewSet(nil)
	assert.Len(t, set.Handlers(), 2)

	native, err := set.ByFormat(core.FormatNative)
	require.NoError(t, err)
	hier, err := set.ByFormat(core.FormatHierarchical)
	require.NoError(t, err)

	np := filepath.Join(dir, "a.ndat")
	require.NoError(t, native.Write(t.Context(), np, testItem(t, "a", 2)))
	hp := filepath.Join(dir, "b.h5z")
	require.NoError(t, hier.Write(t.Context(), hp, testItem(t, "b", 2)))

	h, err := set.Detect(np)
	require.NoError(t, err)
	assert.Equal(t, core.FormatNative, h.Format())

	h, err = set.Detect(hp)
	require.NoError(t, err)
	assert.Equal(t, core.FormatHierarchical, h.Format())

	junk := filepath.Join(dir, "c.ndat")
	require.NoError(t, os.WriteFile(junk, []byte("not a container"), 0o644))
	_, err = set.Detect(junk)
	assert.ErrorIs(t, err, codec.ErrUnknownFormat)

	assert.True(t, set.Recognized(np))
	assert.False(t, set.Recognized(filepath.Join(dir, "notes.txt")))
}
