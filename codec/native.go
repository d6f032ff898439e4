package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/internal/hash"
	"github.com/hupe1980/ndstore/metadata"
)

// Native container layout (little endian):
//
//	offset size field
//	0      4    magic "NDAT"
//	4      2    format version (2)
//	6      2    flags (compression code)
//	8      8    metadata block length
//	16     8    stored payload length
//	24     8    raw payload length
//	32     1    dtype (0 = no payload)
//	33     1    ndim
//	34     2    reserved
//	36     4    CRC32C of metadata block + stored payload
//	40     4    schema version
//	44     4    reserved
//	48     8*n  shape
//
// Version 1 headers are 40 bytes: magic, version, reserved u16, metadata
// length, payload length, dtype, ndim, 14 reserved bytes, then the shape.
// Version 1 carries no checksum and no compression.
const (
	nativeMagic = "NDAT"

	// NativeVersion is the format version written by this package.
	NativeVersion = 2

	nativeHeaderV1 = 40
	nativeHeaderV2 = 48

	maxNativeHeader = nativeHeaderV2 + 8*core.MaxDims
)

// NativeHeader is the decoded fixed header of a native container.
type NativeHeader struct {
	Version       uint16
	Compression   Compression
	MetadataLen   uint64
	PayloadLen    uint64
	RawPayloadLen uint64
	DType         core.DType
	Shape         []int
	Checksum      uint32
	SchemaVersion uint32
}

// Size returns the encoded header length including the shape.
func (h NativeHeader) Size() int {
	fixed := nativeHeaderV2
	if h.Version == 1 {
		fixed = nativeHeaderV1
	}
	return fixed + 8*len(h.Shape)
}

// PayloadOffset returns the file offset of the stored payload.
func (h NativeHeader) PayloadOffset() int64 {
	return int64(h.Size()) + int64(h.MetadataLen)
}

// TotalSize returns the expected container length.
func (h NativeHeader) TotalSize() int64 {
	return h.PayloadOffset() + int64(h.PayloadLen)
}

// ParseNativeHeader decodes the header at the start of b, which must hold at
// least the full header including the shape.
func ParseNativeHeader(b []byte) (NativeHeader, error) {
	var h NativeHeader
	if len(b) < 6 || string(b[:4]) != nativeMagic {
		return h, fmt.Errorf("%w: bad magic", ErrCorruptHeader)
	}
	h.Version = binary.LittleEndian.Uint16(b[4:])

	var ndim int
	switch h.Version {
	case 1:
		if len(b) < nativeHeaderV1 {
			return h, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncatedPayload, nativeHeaderV1, len(b))
		}
		h.MetadataLen = binary.LittleEndian.Uint64(b[8:])
		h.PayloadLen = binary.LittleEndian.Uint64(b[16:])
		h.RawPayloadLen = h.PayloadLen
		h.DType = core.DType(b[24])
		ndim = int(b[25])
	case 2:
		if len(b) < nativeHeaderV2 {
			return h, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncatedPayload, nativeHeaderV2, len(b))
		}
		h.Compression = Compression(binary.LittleEndian.Uint16(b[6:]))
		h.MetadataLen = binary.LittleEndian.Uint64(b[8:])
		h.PayloadLen = binary.LittleEndian.Uint64(b[16:])
		h.RawPayloadLen = binary.LittleEndian.Uint64(b[24:])
		h.DType = core.DType(b[32])
		ndim = int(b[33])
		h.Checksum = binary.LittleEndian.Uint32(b[36:])
		h.SchemaVersion = binary.LittleEndian.Uint32(b[40:])
		if !h.Compression.Valid() {
			return h, fmt.Errorf("%w: compression code %d", ErrCorruptHeader, uint16(h.Compression))
		}
	default:
		return h, fmt.Errorf("%w: unsupported version %d", ErrCorruptHeader, h.Version)
	}

	if ndim > core.MaxDims {
		return h, fmt.Errorf("%w: %d dimensions", ErrCorruptHeader, ndim)
	}
	if h.DType != core.DTypeInvalid && !h.DType.Valid() {
		return h, fmt.Errorf("%w: dtype code %d", ErrCorruptHeader, uint8(h.DType))
	}
	if h.DType == core.DTypeInvalid && (ndim != 0 || h.PayloadLen != 0) {
		return h, fmt.Errorf("%w: payload without dtype", ErrCorruptHeader)
	}
	// Guard later int conversions.
	if h.MetadataLen > math.MaxInt32*8 || h.PayloadLen > math.MaxInt64/4 || h.RawPayloadLen > math.MaxInt64/4 {
		return h, fmt.Errorf("%w: declared lengths out of range", ErrTruncatedPayload)
	}

	fixed := nativeHeaderV2
	if h.Version == 1 {
		fixed = nativeHeaderV1
	}
	if len(b) < fixed+8*ndim {
		return h, fmt.Errorf("%w: shape needs %d bytes", ErrTruncatedPayload, 8*ndim)
	}
	if ndim > 0 {
		h.Shape = make([]int, ndim)
		for i := range h.Shape {
			d := binary.LittleEndian.Uint64(b[fixed+8*i:])
			if d > math.MaxInt32*8 {
				return h, fmt.Errorf("%w: dimension %d out of range", ErrCorruptHeader, i)
			}
			h.Shape[i] = int(d)
		}
	}
	if err := h.checkPayloadLen(); err != nil {
		return h, err
	}
	return h, nil
}

// lz4MaxRatio bounds the expansion of an LZ4 block.
const lz4MaxRatio = 255

// checkPayloadLen ties the raw payload length to dtype and shape, and the
// stored length to the raw one. Neither length is covered by the checksum.
func (h NativeHeader) checkPayloadLen() error {
	if h.DType == core.DTypeInvalid {
		if h.RawPayloadLen != 0 {
			return fmt.Errorf("%w: raw payload without dtype", ErrCorruptHeader)
		}
		return nil
	}
	want, err := core.PayloadSize(h.DType, h.Shape)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	if h.RawPayloadLen != uint64(want) {
		return fmt.Errorf("%w: raw payload %d bytes, shape %v of %s needs %d", ErrCorruptHeader, h.RawPayloadLen, h.Shape, h.DType, want)
	}
	switch h.Compression {
	case CompressionNone:
		if h.PayloadLen != h.RawPayloadLen {
			return fmt.Errorf("%w: stored %d bytes, raw %d", ErrCorruptHeader, h.PayloadLen, h.RawPayloadLen)
		}
	case CompressionLZ4:
		if h.RawPayloadLen > h.PayloadLen*lz4MaxRatio+16 {
			return fmt.Errorf("%w: lz4 payload cannot expand to %d bytes", ErrCorruptHeader, h.RawPayloadLen)
		}
	}
	return nil
}

func (h NativeHeader) appendTo(buf []byte) []byte {
	buf = append(buf, nativeMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, NativeVersion)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(h.Compression))
	buf = binary.LittleEndian.AppendUint64(buf, h.MetadataLen)
	buf = binary.LittleEndian.AppendUint64(buf, h.PayloadLen)
	buf = binary.LittleEndian.AppendUint64(buf, h.RawPayloadLen)
	buf = append(buf, byte(h.DType), byte(len(h.Shape)), 0, 0)
	buf = binary.LittleEndian.AppendUint32(buf, h.Checksum)
	buf = binary.LittleEndian.AppendUint32(buf, h.SchemaVersion)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	for _, d := range h.Shape {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(d))
	}
	return buf
}

// Option configures a container codec.
type Option func(*options)

type options struct {
	compression Compression
	attrs       Codec
}

// WithCompression sets the payload compression. Payloads that do not shrink
// by at least 10% are stored raw regardless.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithAttrCodec sets the JSON codec for hierarchical attribute groups.
// Native containers ignore it.
func WithAttrCodec(c Codec) Option {
	return func(o *options) {
		o.attrs = c
	}
}

// Native is the compact single-header container codec.
type Native struct {
	compression Compression
}

// NewNative creates a native codec. Payloads are stored raw by default.
func NewNative(optFns ...Option) *Native {
	o := options{compression: CompressionNone}
	for _, fn := range optFns {
		fn(&o)
	}
	return &Native{compression: o.compression}
}

// Format implements ContainerCodec.
func (*Native) Format() core.Format { return core.FormatNative }

// Sniff implements ContainerCodec.
func (*Native) Sniff(head []byte) bool {
	if len(head) < 6 || string(head[:4]) != nativeMagic {
		return false
	}
	v := binary.LittleEndian.Uint16(head[4:])
	return v == 1 || v == NativeVersion
}

// Encode implements ContainerCodec.
func (n *Native) Encode(item *core.DataItem) ([]byte, error) {
	if item == nil {
		return nil, errors.New("codec: nil item")
	}

	meta, err := stampID(item.Metadata, item.ID).MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("codec: encode metadata: %w", err)
	}

	h := NativeHeader{
		Version:       NativeVersion,
		MetadataLen:   uint64(len(meta)),
		SchemaVersion: uint32(schemaVersion(item)),
	}

	var stored []byte
	if p := item.Payload; p != nil {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		stored, h.Compression, err = compress(p.Data, n.compression)
		if err != nil {
			return nil, fmt.Errorf("codec: compress payload: %w", err)
		}
		h.DType = p.DType
		h.Shape = p.Shape
		h.PayloadLen = uint64(len(stored))
		h.RawPayloadLen = uint64(len(p.Data))
	}
	h.Checksum = hash.CRC32CParts(meta, stored)

	buf := make([]byte, 0, h.Size()+len(meta)+len(stored))
	buf = h.appendTo(buf)
	buf = append(buf, meta...)
	buf = append(buf, stored...)
	return buf, nil
}

// Decode implements ContainerCodec.
func (n *Native) Decode(data []byte) (*core.DataItem, error) {
	h, err := ParseNativeHeader(data)
	if err != nil {
		return nil, err
	}

	total := h.TotalSize()
	if total > int64(len(data)) {
		return nil, fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncatedPayload, total, len(data))
	}
	if total < int64(len(data)) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptHeader, int64(len(data))-total)
	}

	metaStart := h.Size()
	payloadStart := metaStart + int(h.MetadataLen)
	meta := data[metaStart:payloadStart]
	stored := data[payloadStart:]

	if h.Version >= 2 && hash.CRC32CParts(meta, stored) != h.Checksum {
		return nil, ErrChecksumMismatch
	}

	item, err := decodeNativeMetadata(h, meta)
	if err != nil {
		return nil, err
	}

	if h.DType != core.DTypeInvalid {
		raw, err := decompress(stored, h.Compression, int(h.RawPayloadLen))
		if err != nil {
			return nil, err
		}
		arr, err := core.NewArray(h.DType, h.Shape, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
		}
		item.Payload = arr
	}
	return item, nil
}

// Inspect implements ContainerCodec. Only the header and metadata block are
// read; the payload checksum is verified by Decode.
func (n *Native) Inspect(r io.ReaderAt, size int64) (Info, error) {
	head := make([]byte, min(size, maxNativeHeader))
	if err := readFull(r, head, 0); err != nil {
		return Info{}, err
	}
	h, err := ParseNativeHeader(head)
	if err != nil {
		return Info{}, err
	}
	if total := h.TotalSize(); total > size {
		return Info{}, fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncatedPayload, total, size)
	} else if total < size {
		return Info{}, fmt.Errorf("%w: %d trailing bytes", ErrCorruptHeader, size-total)
	}

	meta := make([]byte, h.MetadataLen)
	if err := readFull(r, meta, int64(h.Size())); err != nil {
		return Info{}, err
	}
	item, err := decodeNativeMetadata(h, meta)
	if err != nil {
		return Info{}, err
	}
	return Info{
		ID:            item.ID,
		Format:        core.FormatNative,
		SchemaVersion: item.SchemaVersion,
		Type:          typeOf(item.Metadata),
		HasPayload:    h.DType != core.DTypeInvalid,
		DType:         h.DType,
		Shape:         h.Shape,
	}, nil
}

func decodeNativeMetadata(h NativeHeader, meta []byte) (*core.DataItem, error) {
	var doc metadata.Document
	if err := doc.UnmarshalBinary(meta); err != nil {
		return nil, fmt.Errorf("%w: metadata block: %v", ErrCorruptHeader, err)
	}
	if doc == nil {
		doc = metadata.Document{}
	}
	id, err := splitID(doc)
	if err != nil {
		return nil, err
	}
	version := int(h.SchemaVersion)
	if version == 0 {
		version = versionOf(doc)
	}
	return &core.DataItem{
		ID:            id,
		Metadata:      doc,
		Format:        core.FormatNative,
		SchemaVersion: version,
	}, nil
}

// schemaVersion prefers the explicit item version over the metadata stamp.
func schemaVersion(item *core.DataItem) int {
	if item.SchemaVersion > 0 {
		return item.SchemaVersion
	}
	return versionOf(item.Metadata)
}

// readFull reads len(buf) bytes at off, mapping short reads to
// ErrTruncatedPayload.
func readFull(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: short read at offset %d", ErrTruncatedPayload, off)
	}
	return err
}
