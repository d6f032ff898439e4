package profile

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/fs"
	"github.com/hupe1980/ndstore/metadata"
	"github.com/hupe1980/ndstore/schema"
)

const (
	// DescriptorName is the profile descriptor file inside a profile directory.
	DescriptorName = "profile.yaml"
	// LegacyName is the SQLite profile database written by old releases.
	LegacyName = "profile.db"

	versionKey = "version"
)

// LibraryRef names one library of a profile.
type LibraryRef struct {
	Name string `yaml:"name"`
	// Root is absolute or relative to the profile directory.
	Root            string      `yaml:"root"`
	PreferredFormat core.Format `yaml:"preferred_format,omitempty"`
}

// Settings is the current-version profile settings record.
type Settings struct {
	Libraries []LibraryRef
	Options   map[string]any
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := Settings{Libraries: slices.Clone(s.Libraries)}
	if s.Options != nil {
		doc, err := metadata.DocumentFromAny(s.Options)
		if err == nil {
			out.Options = doc.ToAny()
		}
	}
	return out
}

// descriptorFile is the YAML layout of the current version.
type descriptorFile struct {
	Version   int            `yaml:"version"`
	Libraries []LibraryRef   `yaml:"libraries"`
	Options   map[string]any `yaml:"options,omitempty"`
}

// parseDescriptor reads the version and the untyped settings fields of a
// YAML descriptor of any version.
func parseDescriptor(data []byte) (metadata.Document, int, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	if raw == nil {
		return nil, 0, fmt.Errorf("%w: empty document", ErrInvalidDescriptor)
	}
	version := 1
	if v, ok := raw[versionKey]; ok {
		n, ok := v.(int)
		if !ok {
			return nil, 0, fmt.Errorf("%w: version is %T", ErrInvalidDescriptor, v)
		}
		version = n
		delete(raw, versionKey)
	}
	doc, err := metadata.DocumentFromAny(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	return doc, version, nil
}

// settingsFromRecord converts a migrated profile record.
func settingsFromRecord(rec schema.Record) (Settings, error) {
	var s Settings
	libs, _ := rec.Get("libraries").AsArray()
	seen := make(map[string]bool, len(libs))
	for i, v := range libs {
		m, ok := v.AsMap()
		if !ok {
			return Settings{}, fmt.Errorf("%w: library %d is %s", ErrInvalidDescriptor, i, v.Kind)
		}
		name, _ := m.Get("name").AsString()
		root, _ := m.Get("root").AsString()
		if name == "" || root == "" {
			return Settings{}, fmt.Errorf("%w: library %d needs name and root", ErrInvalidDescriptor, i)
		}
		if seen[name] {
			return Settings{}, fmt.Errorf("%w: %w: %q", ErrInvalidDescriptor, ErrDuplicateLibrary, name)
		}
		seen[name] = true

		ref := LibraryRef{Name: name, Root: root}
		if f, ok := m.Get("preferred_format").AsString(); ok && f != "" {
			format, err := core.ParseFormat(f)
			if err != nil {
				return Settings{}, fmt.Errorf("%w: library %q: %w", ErrInvalidDescriptor, name, err)
			}
			ref.PreferredFormat = format
		}
		s.Libraries = append(s.Libraries, ref)
	}
	if opts, ok := rec.Get("options").AsMap(); ok && len(opts) > 0 {
		s.Options = opts.ToAny()
	}
	return s, nil
}

// settingsDocument converts settings to the current record shape.
func settingsDocument(s Settings) (metadata.Document, error) {
	libs := make([]metadata.Value, len(s.Libraries))
	for i, l := range s.Libraries {
		m := metadata.Document{
			"name": metadata.String(l.Name),
			"root": metadata.String(l.Root),
		}
		if l.PreferredFormat != core.FormatUnknown {
			m["preferred_format"] = metadata.String(l.PreferredFormat.String())
		}
		libs[i] = metadata.Map(m)
	}
	opts, err := metadata.DocumentFromAny(s.Options)
	if err != nil {
		return nil, fmt.Errorf("%w: options: %w", ErrInvalidDescriptor, err)
	}
	return metadata.Document{
		"libraries": metadata.Array(libs),
		"options":   metadata.Map(opts),
	}, nil
}

// writeDescriptor validates s against the current profile schema and
// replaces the descriptor atomically.
func writeDescriptor(fsys fs.FileSystem, reg *schema.Registry, dir string, s Settings) error {
	doc, err := settingsDocument(s)
	if err != nil {
		return err
	}
	if err := reg.Validate(schema.TypeProfile, doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	current, err := reg.Current(schema.TypeProfile)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(descriptorFile{
		Version:   current,
		Libraries: s.Libraries,
		Options:   s.Options,
	})
	if err != nil {
		return err
	}
	err = fs.WriteFileAtomic(fsys, filepath.Join(dir, DescriptorName), data, 0o644)
	var syncErr *fs.DirSyncError
	if errors.As(err, &syncErr) {
		return nil
	}
	return err
}
