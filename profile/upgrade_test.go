package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/fs"
	"github.com/hupe1980/ndstore/library"
	"github.com/hupe1980/ndstore/metadata"
	"github.com/hupe1980/ndstore/metrics"
	"github.com/hupe1980/ndstore/schema"
)

func seedV1(t *testing.T, lib *library.Library, n int) []core.ID {
	t.Helper()
	ids := make([]core.ID, n)
	for i := range ids {
		ids[i] = core.NewID()
		item := &core.DataItem{
			ID: ids[i],
			Metadata: metadata.Document{
				metadata.TypeKey:    metadata.String(schema.TypeDataItem),
				metadata.VersionKey: metadata.Int(1),
				"caption":           metadata.String("legacy"),
				"created":           metadata.String("2012-06-01 08:30:00"),
			},
		}
		require.NoError(t, lib.Store(t.Context(), ids[i], item, library.StoreOptions{}))
	}
	return ids
}

func storedVersion(t *testing.T, lib *library.Library, id core.ID) int64 {
	t.Helper()
	item, err := lib.Fetch(t.Context(), id)
	require.NoError(t, err)
	v, _ := item.Metadata[metadata.VersionKey].AsInt64()
	return v
}

func newProfileWithLibrary(t *testing.T, opts ...Option) (*Profile, *library.Library) {
	t.Helper()
	p, err := Create(t.Context(), t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	require.NoError(t, p.AddLibrary(t.Context(), "main", "main", core.FormatNative))
	lib, ok := p.Library("main")
	require.True(t, ok)
	return p, lib
}

func TestUpgradePerItem(t *testing.T) {
	obs := &metrics.BasicObserver{}
	p, lib := newProfileWithLibrary(t, WithMetrics(obs))
	ids := seedV1(t, lib, 3)

	future := core.NewID()
	require.NoError(t, lib.Store(t.Context(), future, &core.DataItem{ID: future, Metadata: metadata.Document{
		metadata.TypeKey:    metadata.String(schema.TypeDataItem),
		metadata.VersionKey: metadata.Int(42),
	}}, library.StoreOptions{}))

	report, err := p.Upgrade(t.Context(), UpgradeOptions{Format: core.FormatHierarchical})
	require.NoError(t, err)
	require.Len(t, report.Libraries, 1)
	lu := report.Libraries[0]
	assert.ElementsMatch(t, ids, lu.Upgraded)
	require.Len(t, lu.Failed, 1)
	assert.ErrorIs(t, lu.Failed[future], schema.ErrUnsupportedVersion)
	assert.False(t, lu.RolledBack)
	assert.ErrorIs(t, report.Err(), schema.ErrUnsupportedVersion)

	for _, id := range ids {
		assert.Equal(t, int64(3), storedVersion(t, lib, id))
		e, _ := lib.Entry(id)
		assert.Equal(t, core.FormatHierarchical, e.Format)
	}
	e, _ := lib.Entry(future)
	assert.Equal(t, core.FormatNative, e.Format)

	problems, err := lib.Verify(t.Context())
	require.NoError(t, err)
	assert.Empty(t, problems)

	// The reloaded model sees current records.
	m, _ := p.Model("main")
	ent, err := m.Get(t.Context(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, 3, ent.StoredVersion)
	assert.Equal(t, metadata.String("legacy"), ent.Get("description"))

	s := obs.Stats()
	assert.Equal(t, int64(3), s.Upgraded)
	assert.Equal(t, int64(1), s.UpgradeFailed)

	// A second pass has nothing left to do but the broken item.
	report, err = p.Upgrade(t.Context(), UpgradeOptions{Format: core.FormatHierarchical})
	require.NoError(t, err)
	assert.Empty(t, report.Libraries[0].Upgraded)
	assert.Len(t, report.Libraries[0].Failed, 1)
}

func TestUpgradeAllOrNothingRestores(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	p, lib := newProfileWithLibrary(t, WithFileSystem(ffs))
	seedV1(t, lib, 4)

	entries := lib.Entries()
	last := entries[len(entries)-1].ID
	ffs.AddRule(last.String(), fs.Fault{FailOnRename: true})

	report, err := p.Upgrade(t.Context(), UpgradeOptions{Policy: PolicyAllOrNothing})
	require.NoError(t, err)
	lu := report.Libraries[0]
	assert.True(t, lu.RolledBack)
	assert.Empty(t, lu.Upgraded)
	assert.Empty(t, lu.RestoreFailed)
	require.Contains(t, lu.Failed, last)
	assert.ErrorIs(t, lu.Failed[last], fs.ErrInjected)

	ffs.ClearRules()
	for _, e := range entries {
		assert.Equal(t, int64(1), storedVersion(t, lib, e.ID), "item %s", e.ID)
	}

	report, err = p.Upgrade(t.Context(), UpgradeOptions{Policy: PolicyAllOrNothing})
	require.NoError(t, err)
	assert.Len(t, report.Libraries[0].Upgraded, 4)
	assert.NoError(t, report.Err())
}

func TestUpgradeFlushesModelFirst(t *testing.T) {
	p, lib := newProfileWithLibrary(t)
	ids := seedV1(t, lib, 1)
	require.NoError(t, p.Reload(t.Context(), "main"))

	m, _ := p.Model("main")
	require.NoError(t, m.Set(t.Context(), ids[0], "title", metadata.String("edited")))

	report, err := p.Upgrade(t.Context(), UpgradeOptions{})
	require.NoError(t, err)
	// The flush already wrote the record at the current version.
	assert.Empty(t, report.Libraries[0].Upgraded)

	item, err := lib.Fetch(t.Context(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, metadata.String("edited"), item.Metadata["title"])
	assert.Equal(t, int64(3), storedVersion(t, lib, ids[0]))
}

func TestUpgradeContinuesAfterFlushFailure(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	p, _ := newProfileWithLibrary(t, WithFileSystem(ffs))
	require.NoError(t, p.AddLibrary(t.Context(), "second", "second", core.FormatNative))
	second, ok := p.Library("second")
	require.True(t, ok)
	ids := seedV1(t, second, 2)
	require.NoError(t, p.Reload(t.Context(), "second"))

	m, _ := p.Model("main")
	g, err := m.Create(schema.TypeGraphic, metadata.Document{"graphic_type": metadata.String("line-graphic")}, nil)
	require.NoError(t, err)
	ffs.AddRule(g.ID.String(), fs.Fault{FailOnRename: true})

	report, err := p.Upgrade(t.Context(), UpgradeOptions{})
	require.NoError(t, err)
	require.Len(t, report.Libraries, 2)

	first := report.Libraries[0]
	assert.Equal(t, "main", first.Name)
	assert.True(t, first.Skipped)
	require.Contains(t, first.Failed, g.ID)
	assert.ErrorIs(t, first.Failed[g.ID], fs.ErrInjected)
	assert.ErrorIs(t, report.Err(), fs.ErrInjected)

	rest := report.Libraries[1]
	assert.Equal(t, "second", rest.Name)
	assert.False(t, rest.Skipped)
	assert.ElementsMatch(t, ids, rest.Upgraded)

	// The unsaved entity survives the skipped library.
	m, _ = p.Model("main")
	assert.True(t, m.IsDirty(g.ID))
}
