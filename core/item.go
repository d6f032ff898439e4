package core

import (
	"fmt"
	"strings"

	"github.com/hupe1980/ndstore/metadata"
)

// Format tags the on-disk container format of a data item.
type Format uint8

const (
	// FormatUnknown marks an item whose container was not recognized.
	FormatUnknown Format = iota
	// FormatNative is the compact single-header binary container.
	FormatNative
	// FormatHierarchical is the group/dataset container.
	FormatHierarchical
)

// File extensions used to recognize containers during a directory scan.
const (
	ExtNative       = ".ndat"
	ExtHierarchical = ".h5z"
)

func (f Format) String() string {
	switch f {
	case FormatNative:
		return "native"
	case FormatHierarchical:
		return "hierarchical"
	default:
		return "unknown"
	}
}

// Extension returns the file extension used for the format.
func (f Format) Extension() string {
	switch f {
	case FormatNative:
		return ExtNative
	case FormatHierarchical:
		return ExtHierarchical
	default:
		return ""
	}
}

// ParseFormat parses a format name ("native", "hierarchical"). Empty means native.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "native", "ndat":
		return FormatNative, nil
	case "hierarchical", "h5z", "hdf":
		return FormatHierarchical, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown container format %q", s)
	}
}

// FormatForExtension maps a file extension to a format.
func FormatForExtension(ext string) Format {
	switch strings.ToLower(ext) {
	case ExtNative:
		return FormatNative
	case ExtHierarchical:
		return FormatHierarchical
	default:
		return FormatUnknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(b []byte) error {
	parsed, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// DataItem is one persisted unit: metadata plus an optional array payload.
type DataItem struct {
	ID       ID
	Metadata metadata.Document
	Payload  *Array
	// Format is the container the item was read from or should be written as.
	Format Format
	// SchemaVersion is the on-disk schema version of the record stored in Metadata.
	SchemaVersion int
}

// Clone returns a deep copy of the item.
func (it *DataItem) Clone() *DataItem {
	if it == nil {
		return nil
	}
	return &DataItem{
		ID:            it.ID,
		Metadata:      it.Metadata.Clone(),
		Payload:       it.Payload.Clone(),
		Format:        it.Format,
		SchemaVersion: it.SchemaVersion,
	}
}

// Equal compares identifier, metadata and payload. Format and version are ignored.
func (it *DataItem) Equal(o *DataItem) bool {
	if it == nil || o == nil {
		return it == o
	}
	return it.ID == o.ID && it.Metadata.Equal(o.Metadata) && it.Payload.Equal(o.Payload)
}
