// Package ndstore stores scientific data items (metadata plus an
// n-dimensional array payload) in plain directories and keeps their
// metadata records readable across schema versions.
//
// # Quick Start
//
//	ctx := context.Background()
//	p, _ := ndstore.Create(ctx, "./profile")
//	_ = p.AddLibrary(ctx, "main", "libraries/main", core.FormatNative)
//
//	m, _ := p.Model("main")
//	e, _ := m.Create(schema.TypeDataItem, metadata.Document{
//	    "title":             metadata.String("calibration run"),
//	    "created":           metadata.String("2024-05-01 09:30:00"),
//	    "datetime_original": metadata.Map(nil),
//	}, payload)
//	_ = p.Flush(ctx)
//
//	p, _ = ndstore.Open(ctx, "./profile")  // re-open existing
//
// # Layers
//
//   - library: one directory of item files, indexed by identifier
//   - codec/storage: native and hierarchical containers, written atomically
//   - schema: typed, versioned records with step-wise migrations
//   - model: lazy, migrated view of a library with dirty tracking and Flush
//   - profile: named libraries plus a versioned settings record
//   - archive/blobstore: move libraries between machines via local disk,
//     S3 or MinIO
//
// Older records are migrated in memory when they are read and written back
// at the current version only when they change, or when Upgrade rewrites a
// whole profile.
//
// # Errors
//
// Errors returned by this package match ErrNotFound, ErrClosed or
// ErrCorrupt where applicable, in addition to the package sentinels they
// wrap.
package ndstore
