package codec

import (
	"fmt"
	"strings"

	"github.com/hupe1980/ndstore/core"
)

// Registry is the closed, ordered set of container codecs. Probing follows
// registration order, so cheaper signature checks go first.
type Registry struct {
	codecs []ContainerCodec
}

// NewRegistry creates a registry probing codecs in the given order.
func NewRegistry(codecs ...ContainerCodec) *Registry {
	return &Registry{codecs: codecs}
}

// DefaultRegistry returns the native codec followed by the hierarchical one.
func DefaultRegistry(optFns ...Option) *Registry {
	return NewRegistry(NewNative(optFns...), NewHierarchical())
}

// Codecs returns the codecs in probe order.
func (r *Registry) Codecs() []ContainerCodec {
	return append([]ContainerCodec(nil), r.codecs...)
}

// Formats returns the registered formats in probe order.
func (r *Registry) Formats() []core.Format {
	out := make([]core.Format, len(r.codecs))
	for i, c := range r.codecs {
		out[i] = c.Format()
	}
	return out
}

// ByFormat returns the codec for a format.
func (r *Registry) ByFormat(f core.Format) (ContainerCodec, error) {
	for _, c := range r.codecs {
		if c.Format() == f {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, f)
}

// ByExtension returns the codec whose format uses ext (with leading dot).
func (r *Registry) ByExtension(ext string) (ContainerCodec, bool) {
	f := core.FormatForExtension(strings.ToLower(ext))
	if f == core.FormatUnknown {
		return nil, false
	}
	c, err := r.ByFormat(f)
	return c, err == nil
}

// Recognized reports whether ext belongs to a registered format.
func (r *Registry) Recognized(ext string) bool {
	_, ok := r.ByExtension(ext)
	return ok
}

// Detect picks the codec for a file. The extension's codec wins when its
// signature matches head; otherwise every codec is probed in order.
func (r *Registry) Detect(ext string, head []byte) (ContainerCodec, error) {
	if c, ok := r.ByExtension(ext); ok && c.Sniff(head) {
		return c, nil
	}
	for _, c := range r.codecs {
		if c.Sniff(head) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: no signature match", ErrUnknownFormat)
}
