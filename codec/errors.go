package codec

import "errors"

var (
	// ErrCorruptHeader is returned when a container signature, version or
	// header field is not recognized.
	ErrCorruptHeader = errors.New("codec: corrupt header")
	// ErrTruncatedPayload is returned when declared lengths exceed the
	// available bytes.
	ErrTruncatedPayload = errors.New("codec: truncated payload")
	// ErrChecksumMismatch is returned when stored bytes fail their checksum.
	ErrChecksumMismatch = errors.New("codec: checksum mismatch")
	// ErrCorruptPayload is returned when a payload cannot be decompressed or
	// does not match its declared dtype and shape.
	ErrCorruptPayload = errors.New("codec: corrupt payload")
	// ErrMissingDataset is returned when a hierarchical container declares an
	// array but the dataset is absent.
	ErrMissingDataset = errors.New("codec: missing dataset")
	// ErrIncompatibleLayout is returned when a hierarchical container lacks the
	// expected group layout.
	ErrIncompatibleLayout = errors.New("codec: incompatible layout")
	// ErrUnknownFormat is returned when no registered codec handles a format,
	// extension or signature.
	ErrUnknownFormat = errors.New("codec: unknown format")
	// ErrUnsupportedCompression is returned for an unknown compression code.
	ErrUnsupportedCompression = errors.New("codec: unsupported compression")
)
