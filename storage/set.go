package storage

import (
	"fmt"
	"path/filepath"

	"github.com/hupe1980/ndstore/codec"
	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/fs"
)

// Set is the closed list of handlers a library dispatches to, in probe order.
type Set struct {
	fs       fs.FileSystem
	reg      *codec.Registry
	handlers []Handler
}

// NewSet creates one FileHandler per codec in reg. If reg is nil the default
// registry (native, then hierarchical) is used.
func NewSet(reg *codec.Registry, optFns ...Option) *Set {
	if reg == nil {
		reg = codec.DefaultRegistry()
	}
	s := &Set{reg: reg, fs: fs.Default}
	for _, c := range reg.Codecs() {
		h := NewHandler(c, optFns...)
		s.fs = h.fs
		s.handlers = append(s.handlers, h)
	}
	return s
}

// Handlers returns the handlers in probe order.
func (s *Set) Handlers() []Handler {
	return append([]Handler(nil), s.handlers...)
}

// Registry returns the codec registry backing the set.
func (s *Set) Registry() *codec.Registry { return s.reg }

// FileSystem returns the file system shared by the handlers.
func (s *Set) FileSystem() fs.FileSystem { return s.fs }

// ByFormat returns the handler for a format.
func (s *Set) ByFormat(f core.Format) (Handler, error) {
	for _, h := range s.handlers {
		if h.Format() == f {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", codec.ErrUnknownFormat, f)
}

// Recognized reports whether path has an extension of a registered format.
func (s *Set) Recognized(path string) bool {
	return s.reg.Recognized(filepath.Ext(path))
}

// Detect selects the handler for an existing file from its extension and
// leading signature.
func (s *Set) Detect(path string) (Handler, error) {
	head, err := ReadHead(s.fs, path)
	if err != nil {
		return nil, err
	}
	c, err := s.reg.Detect(filepath.Ext(path), head)
	if err != nil {
		return nil, err
	}
	return s.ByFormat(c.Format())
}
