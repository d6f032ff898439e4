package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// ErrConflict is returned by PutIfNotExists when the name is already taken.
var ErrConflict = errors.New("blobstore: object already exists")

// BlobStore holds named, immutable blobs. Names use forward slashes.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Put writes a blob atomically, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob succeeds.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a stored blob.
type Blob interface {
	// ReadAt reads len(p) bytes at off. It returns io.EOF when fewer bytes
	// remain.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// Size returns the size of the blob in bytes.
	Size() int64
	io.Closer
}

// RangeReader is an optional interface for blobs that can stream a byte
// range without buffering it first.
type RangeReader interface {
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
}

// ConditionalPutter is implemented by stores that can create a blob only if
// the name is still free.
type ConditionalPutter interface {
	PutIfNotExists(ctx context.Context, name string, data []byte) error
}

// ReadAll reads the whole blob stored under name.
func ReadAll(ctx context.Context, store BlobStore, name string) ([]byte, error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	size := b.Size()
	if size == 0 {
		return []byte{}, nil
	}
	if rr, ok := b.(RangeReader); ok {
		r, err := rr.ReadRange(ctx, 0, size)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != size {
			return nil, fmt.Errorf("blobstore: %s: read %d of %d bytes: %w", name, len(data), size, io.ErrUnexpectedEOF)
		}
		return data, nil
	}

	data := make([]byte, size)
	n, err := b.ReadAt(ctx, data, 0)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == size) {
		return nil, err
	}
	if int64(n) != size {
		return nil, fmt.Errorf("blobstore: %s: read %d of %d bytes: %w", name, n, size, io.ErrUnexpectedEOF)
	}
	return data, nil
}

// PutIfNotExists writes data under name only when nothing is stored there
// yet. Stores without native support fall back to an Open probe followed by
// Put, which is not atomic across writers.
func PutIfNotExists(ctx context.Context, store BlobStore, name string, data []byte) error {
	if cp, ok := store.(ConditionalPutter); ok {
		return cp.PutIfNotExists(ctx, name, data)
	}
	b, err := store.Open(ctx, name)
	switch {
	case err == nil:
		_ = b.Close()
		return fmt.Errorf("%w: %s", ErrConflict, name)
	case !errors.Is(err, ErrNotFound):
		return err
	}
	return store.Put(ctx, name, data)
}
