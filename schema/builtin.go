package schema

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hupe1980/ndstore/metadata"
)

// Built-in type names.
const (
	TypeDataItem    = "data_item"
	TypeDisplayItem = "display_item"
	TypeGraphic     = "graphic"
	TypeProfile     = "profile"
)

// Domain limits applied by the data_item normalizer.
const (
	MinRating = 0
	MaxRating = 5
	MinFlag   = -1
	MaxFlag   = 1
)

const localDatetimeLayout = "2006-01-02T15:04:05.000000"

var (
	tString = metadata.FieldTypeString
	tInt    = metadata.FieldTypeInt
	tFloat  = metadata.FieldTypeFloat
	tBool   = metadata.FieldTypeBool
	tArray  = metadata.FieldTypeArray
	tMap    = metadata.FieldTypeMap
)

// DefaultRegistry returns the registry of built-in entity types.
func DefaultRegistry() *Registry {
	return Builtin(NewBuilder()).MustBuild()
}

// Builtin adds the built-in entity types to b so callers can extend them
// with their own types before building.
func Builtin(b *Builder) *Builder {
	b.Type(TypeDataItem).
		Version(1,
			Optional("title", tString),
			Optional("caption", tString),
			Optional("rating", tInt),
			Optional("flag", tInt),
			Required("created", tString),
		).
		Migrate(1, DeriveField("datetime_original", datetimeFromCreated)).
		Version(2,
			Optional("title", tString),
			Optional("caption", tString),
			Optional("rating", tInt),
			Optional("flag", tInt),
			Required("created", tString),
			Required("datetime_original", tMap),
		).
		Migrate(2, Chain(
			RenameField("caption", "description"),
			AddField("session_id", metadata.String("")),
			AddField("metadata", metadata.Map(nil)),
			ConvertField("rating", clamp(MinRating, MaxRating)),
			ConvertField("flag", clamp(MinFlag, MaxFlag)),
		)).
		Version(3,
			Optional("title", tString),
			Optional("description", tString),
			Optional("rating", tInt),
			Optional("flag", tInt),
			Required("created", tString),
			Required("datetime_original", tMap),
			Optional("session_id", tString),
			Optional("metadata", tMap),
		).
		Normalize(normalizeDataItem)

	b.Type(TypeDisplayItem).
		Version(1,
			Optional("title", tString),
			Optional("display_type", tString),
			Optional("data_item_reference", tString),
		).
		Migrate(1, Chain(
			ConvertField("data_item_reference", func(v metadata.Value) (metadata.Value, error) {
				s, _ := v.AsString()
				if s == "" {
					return metadata.Array(nil), nil
				}
				return metadata.Strings(s), nil
			}),
			RenameField("data_item_reference", "data_item_references"),
			AddField("data_item_references", metadata.Array(nil)),
		)).
		Version(2,
			Optional("title", tString),
			Optional("display_type", tString),
			Required("data_item_references", tArray),
		)

	b.Type(TypeGraphic).
		Version(1,
			Required("graphic_type", tString),
			Optional("label", tString),
			Optional("position", tArray),
			Optional("center", tArray),
			Optional("size", tArray),
			Optional("angle", tFloat),
			Optional("vector", tArray),
			Optional("interval", tArray),
			Optional("is_position_locked", tBool),
			Optional("is_shape_locked", tBool),
			Optional("display_item", tString),
		)

	b.Type(TypeProfile).
		Version(1,
			Required("library_paths", tArray),
		).
		Migrate(1, Chain(
			DeriveField("libraries", librariesFromPaths),
			RemoveField("library_paths"),
		)).
		Version(2,
			Required("libraries", tArray),
		).
		Migrate(2, Chain(
			ConvertField("libraries", func(v metadata.Value) (metadata.Value, error) {
				libs, _ := v.AsArray()
				out := make([]metadata.Value, len(libs))
				for i, l := range libs {
					m, ok := l.AsMap()
					if !ok {
						return v, fmt.Errorf("library %d is %s, want map", i, l.Kind)
					}
					m = m.Clone()
					if !m.Has("preferred_format") {
						m["preferred_format"] = metadata.String("native")
					}
					out[i] = metadata.Map(m)
				}
				return metadata.Array(out), nil
			}),
			AddField("options", metadata.Map(nil)),
		)).
		Version(3,
			Required("libraries", tArray),
			Optional("options", tMap),
		)

	return b
}

func normalizeDataItem(field string, v metadata.Value) metadata.Value {
	var lo, hi int64
	switch field {
	case "rating":
		lo, hi = MinRating, MaxRating
	case "flag":
		lo, hi = MinFlag, MaxFlag
	default:
		return v
	}
	nv, err := clamp(lo, hi)(v)
	if err != nil {
		return v
	}
	return nv
}

func clamp(lo, hi int64) func(metadata.Value) (metadata.Value, error) {
	return func(v metadata.Value) (metadata.Value, error) {
		f, ok := v.AsFloat64()
		if !ok {
			return v, fmt.Errorf("cannot clamp %s", v.Kind)
		}
		return metadata.Int(min(max(int64(f), lo), hi)), nil
	}
}

var createdLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

// datetimeFromCreated builds the {local_datetime, tz, dst} item from the
// free-form created timestamp of version 1 records.
func datetimeFromCreated(fields metadata.Document) (metadata.Value, error) {
	s, ok := fields.Get("created").AsString()
	if !ok {
		return metadata.Null(), errors.New("created is not a string")
	}
	for i, layout := range createdLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		tz := "+0000"
		if i == 0 {
			tz = t.Format("-0700")
		}
		return metadata.Map(metadata.Document{
			"local_datetime": metadata.String(t.Format(localDatetimeLayout)),
			"tz":             metadata.String(tz),
			"dst":            metadata.String("+00"),
		}), nil
	}
	return metadata.Null(), fmt.Errorf("unparseable created timestamp %q", s)
}

func librariesFromPaths(fields metadata.Document) (metadata.Value, error) {
	paths, _ := fields.Get("library_paths").AsArray()
	seen := make(map[string]int, len(paths))
	libs := make([]metadata.Value, 0, len(paths))
	for i, p := range paths {
		root, ok := p.AsString()
		if !ok || root == "" {
			return metadata.Null(), fmt.Errorf("library path %d is not a string", i)
		}
		name := filepath.Base(filepath.Clean(root))
		seen[name]++
		if n := seen[name]; n > 1 {
			name += "-" + strconv.Itoa(n)
		}
		libs = append(libs, metadata.Map(metadata.Document{
			"name": metadata.String(name),
			"root": metadata.String(root),
		}))
	}
	return metadata.Array(libs), nil
}
