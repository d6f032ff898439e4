// Package codec turns data items into container bytes and back.
//
// Two container formats are supported: the compact Native format and the
// zip-based Hierarchical format. Both implement ContainerCodec and must
// round-trip any valid item. Encoders return either a complete buffer or an
// error, never a partial one.
//
// The package also keeps the small value Codec abstraction (JSON, GoJSON)
// used for attribute groups and descriptors.
package codec

import (
	"fmt"
	"io"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/metadata"
)

// ContainerCodec encodes and decodes one container format.
// Implementations must be safe for concurrent use.
type ContainerCodec interface {
	// Format returns the container format handled by the codec.
	Format() core.Format
	// Encode serializes the item into a complete container.
	Encode(item *core.DataItem) ([]byte, error)
	// Decode parses a complete container. The returned item never aliases data.
	Decode(data []byte) (*core.DataItem, error)
	// Inspect reads only what is needed to index the container.
	Inspect(r io.ReaderAt, size int64) (Info, error)
	// Sniff reports whether head starts with the format's signature.
	Sniff(head []byte) bool
}

// SniffLen is the number of leading bytes Sniff needs.
const SniffLen = 8

// Info is the index-level view of a container: identity and version without
// the payload.
type Info struct {
	ID            core.ID
	Format        core.Format
	SchemaVersion int
	Type          string
	HasPayload    bool
	DType         core.DType
	Shape         []int
}

// stampID returns a shallow copy of doc carrying the item identifier.
func stampID(doc metadata.Document, id core.ID) metadata.Document {
	out := make(metadata.Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out[metadata.IDKey] = metadata.String(id.String())
	return out
}

// splitID removes the identifier stamp from doc and parses it.
func splitID(doc metadata.Document) (core.ID, error) {
	v, ok := doc[metadata.IDKey]
	if !ok {
		return core.NilID, nil
	}
	delete(doc, metadata.IDKey)
	s, ok := v.AsString()
	if !ok {
		return core.NilID, fmt.Errorf("%w: identifier stamp is %s", ErrCorruptHeader, v.Kind)
	}
	id, err := core.ParseID(s)
	if err != nil {
		return core.NilID, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	return id, nil
}

// versionOf returns the schema version stamped into doc, or 0.
func versionOf(doc metadata.Document) int {
	v, ok := doc[metadata.VersionKey].AsInt64()
	if !ok {
		return 0
	}
	return int(v)
}

// typeOf returns the entity type stamped into doc, or "".
func typeOf(doc metadata.Document) string {
	s, _ := doc[metadata.TypeKey].AsString()
	return s
}
