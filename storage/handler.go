// Package storage adapts container codecs to files.
//
// A Handler owns one codec and exposes uniform read, write, delete and exists
// operations on paths. Writes are atomic: the encoded container is fully
// built in memory, written to a temporary file beside the target, synced and
// renamed over it. A crash at any point leaves the previously committed file
// readable.
package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/hupe1980/ndstore/codec"
	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/fs"
	"github.com/hupe1980/ndstore/internal/mmap"
	"github.com/hupe1980/ndstore/internal/resource"
)

// DefaultMmapThreshold is the file size above which local reads are mapped
// instead of copied.
const DefaultMmapThreshold = 4 << 20

// FilePerm is the permission of committed item files.
const FilePerm os.FileMode = 0o644

// Handler performs item IO for one container format.
type Handler interface {
	Format() core.Format
	Codec() codec.ContainerCodec
	Read(ctx context.Context, path string) (*core.DataItem, error)
	Write(ctx context.Context, path string, item *core.DataItem) error
	Delete(path string) error
	Exists(path string) (bool, error)
	// Probe reports whether the file carries this handler's signature.
	Probe(path string) (bool, error)
	// Inspect reads the index-level view of the file.
	Inspect(path string) (codec.Info, error)
}

// Option configures a FileHandler.
type Option func(*FileHandler)

// WithFileSystem sets the file system used for IO.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(h *FileHandler) {
		h.fs = fsys
	}
}

// WithMmapThreshold sets the size above which reads use mmap. Zero or less
// disables mapping.
func WithMmapThreshold(n int64) Option {
	return func(h *FileHandler) {
		h.mmapThreshold = n
	}
}

// WithResourceController throttles container IO.
func WithResourceController(rc *resource.Controller) Option {
	return func(h *FileHandler) {
		h.rc = rc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *FileHandler) {
		h.logger = l
	}
}

// FileHandler is the Handler implementation over internal/fs.
type FileHandler struct {
	codec         codec.ContainerCodec
	fs            fs.FileSystem
	mmapThreshold int64
	rc            *resource.Controller
	logger        *slog.Logger
}

// NewHandler creates a handler for the codec.
func NewHandler(c codec.ContainerCodec, optFns ...Option) *FileHandler {
	h := &FileHandler{
		codec:         c,
		fs:            fs.Default,
		mmapThreshold: DefaultMmapThreshold,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(h)
	}
	return h
}

// Format implements Handler.
func (h *FileHandler) Format() core.Format { return h.codec.Format() }

// Codec implements Handler.
func (h *FileHandler) Codec() codec.ContainerCodec { return h.codec }

// Read implements Handler.
func (h *FileHandler) Read(ctx context.Context, path string) (*core.DataItem, error) {
	info, err := h.fs.Stat(path)
	if err != nil {
		return nil, err
	}
	if err := h.rc.AcquireIO(ctx, int(info.Size())); err != nil {
		return nil, err
	}

	if h.canMap(info.Size()) {
		return h.readMapped(path)
	}

	data, err := fs.ReadFile(h.fs, path)
	if err != nil {
		return nil, err
	}
	return h.codec.Decode(data)
}

func (h *FileHandler) canMap(size int64) bool {
	if h.mmapThreshold <= 0 || size < h.mmapThreshold {
		return false
	}
	_, local := h.fs.(fs.LocalFS)
	return local
}

func (h *FileHandler) readMapped(path string) (*core.DataItem, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	data := m.Bytes()
	if hdr, err := codec.ParseNativeHeader(data); err == nil {
		_, _ = m.Section(int(hdr.PayloadOffset()), int(hdr.PayloadLen), mmap.HintWillNeed)
	} else {
		_, _ = m.Section(0, m.Len(), mmap.HintSequential)
	}
	// Decode copies everything it keeps out of the mapping.
	return h.codec.Decode(data)
}

// Write implements Handler. The item is encoded completely before the file
// system is touched; an in-flight write is never interrupted by ctx.
func (h *FileHandler) Write(ctx context.Context, path string, item *core.DataItem) error {
	data, err := h.codec.Encode(item)
	if err != nil {
		return err
	}
	if err := h.rc.AcquireIO(ctx, len(data)); err != nil {
		return err
	}
	if err := h.fs.MkdirAll(dirOf(path), 0o755); err != nil {
		return err
	}

	err = fs.WriteFileAtomic(h.fs, path, data, FilePerm)
	var syncErr *fs.DirSyncError
	if errors.As(err, &syncErr) {
		h.logger.Warn("directory sync failed after commit", "path", path, "error", syncErr.Err)
		return nil
	}
	return err
}

// Delete implements Handler. Deleting a missing file succeeds.
func (h *FileHandler) Delete(path string) error {
	if err := h.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists implements Handler.
func (h *FileHandler) Exists(path string) (bool, error) {
	_, err := h.fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Probe implements Handler.
func (h *FileHandler) Probe(path string) (bool, error) {
	head, err := ReadHead(h.fs, path)
	if err != nil {
		return false, err
	}
	return h.codec.Sniff(head), nil
}

// Inspect implements Handler.
func (h *FileHandler) Inspect(path string) (codec.Info, error) {
	f, err := h.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return codec.Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return codec.Info{}, err
	}
	return h.codec.Inspect(f, st.Size())
}

// ReadHead reads up to codec.SniffLen leading bytes of a file.
func ReadHead(fsys fs.FileSystem, path string) ([]byte, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, codec.SniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return head[:n], nil
}
