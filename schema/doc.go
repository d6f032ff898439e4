// Package schema declares entity types as versioned field sets and migrates
// stored records forward to the current version.
//
// A Registry is built once with a Builder and is immutable afterwards:
//
//	reg, err := schema.NewBuilder().
//		Type("note").
//		Version(1, schema.Required("text", metadata.FieldTypeString)).
//		Migrate(1, schema.AddField("pinned", metadata.Bool(false))).
//		Version(2,
//			schema.Required("text", metadata.FieldTypeString),
//			schema.Optional("pinned", metadata.FieldTypeBool),
//		).
//		Build()
//
// Migrations are chained single steps N -> N+1. Before each step the record
// is checked against version N, so a step may rely on the required fields of
// its input version and nothing else. Records stamped with a version newer
// than the registry knows are rejected with ErrUnsupportedVersion.
package schema
