// Package model is the application-facing entity graph over one library.
//
// A Model holds one entity per item of its library. Entities are decoded and
// migrated to the current schema version on first access, modified only
// through the model's setters, and written back by Flush:
//
//	m, err := model.Load(ctx, lib, schema.DefaultRegistry())
//	if err != nil { ... }
//	_ = m.Set(ctx, id, "rating", metadata.Int(4))
//	if err := m.Flush(ctx).Err(); err != nil {
//		// per-item failures; failed entities stay dirty
//	}
//
// Entities reference each other by identifier only. Resolve turns a
// reference into an entity or reports it absent; dangling references never
// fail a load.
package model
