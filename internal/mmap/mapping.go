package mmap

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
)

var (
	// ErrClosed is returned by reads after Close.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrOutOfBounds is returned for sections outside the file.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
)

// Hint tells the kernel how a mapped range is about to be read.
type Hint uint8

const (
	// HintNormal drops any earlier hint.
	HintNormal Hint = iota
	// HintSequential is used for whole-container decodes.
	HintSequential
	// HintWillNeed prefetches a payload range that is read next.
	HintWillNeed
)

// Mapping is a read-only view of one container file.
type Mapping struct {
	data   []byte
	closed atomic.Bool
	unmap  func([]byte) error
}

// Open maps the file at path read-only. Empty files map to an empty view
// without a system mapping.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return &Mapping{}, nil
	}
	if fi.Size() != int64(int(fi.Size())) {
		return nil, &os.PathError{Op: "mmap", Path: path, Err: ErrOutOfBounds}
	}

	data, unmap, err := osMap(f, int(fi.Size()))
	if err != nil {
		return nil, &os.PathError{Op: "mmap", Path: path, Err: err}
	}
	return &Mapping{data: data, unmap: unmap}, nil
}

// Close unmaps the file. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) || m.unmap == nil {
		return nil
	}
	return m.unmap(m.data)
}

// Bytes returns the mapped contents, or nil once closed. The slice must not
// be retained past Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Len returns the file size in bytes.
func (m *Mapping) Len() int { return len(m.data) }

// Section returns the n bytes at off and applies hint to them. Failed hints
// are ignored.
func (m *Mapping) Section(off, n int, hint Hint) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if off < 0 || n < 0 || off > len(m.data)-n {
		return nil, ErrOutOfBounds
	}
	if n > 0 {
		// Mappings start on a page boundary; the advised range must too.
		start := off - off%os.Getpagesize()
		_ = osAdvise(m.data[start:off+n], hint)
	}
	return m.data[off : off+n], nil
}

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrOutOfBounds
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
