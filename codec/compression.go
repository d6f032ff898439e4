package codec

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm applied to a stored payload.
type Compression uint8

const (
	// CompressionNone stores the payload as raw bytes.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast, good for hot data).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD (better ratio, good for archived libraries).
	CompressionZSTD Compression = 2
	// CompressionSnappy uses Snappy block compression.
	CompressionSnappy Compression = 3
)

// minCompressSize is the smallest payload worth compressing.
const minCompressSize = 512

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	case CompressionSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// Valid reports whether c is a known algorithm.
func (c Compression) Valid() bool {
	return c <= CompressionSnappy
}

// ParseCompression parses a compression name. Empty means none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "store":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	case "snappy":
		return CompressionSnappy, nil
	default:
		return CompressionNone, fmt.Errorf("%w: %q", ErrUnsupportedCompression, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compression) UnmarshalText(b []byte) error {
	parsed, err := ParseCompression(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// compress returns the stored form of data and the algorithm actually used.
// Payloads that do not shrink by at least 10% are stored raw.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	if c == CompressionNone || len(data) < minCompressSize {
		return data, CompressionNone, nil
	}

	var out []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, CompressionNone, err
		}
		out = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		out = enc.EncodeAll(data, nil)
		putZstdEncoder(enc)
	case CompressionSnappy:
		out = snappy.Encode(nil, data)
	default:
		return nil, CompressionNone, fmt.Errorf("%w: %d", ErrUnsupportedCompression, uint8(c))
	}

	// n == 0 from lz4 means incompressible.
	if len(out) == 0 || float64(len(out)) > float64(len(data))*0.9 {
		return data, CompressionNone, nil
	}
	return out, c, nil
}

// decompress restores a stored payload to exactly rawLen bytes.
// The result never aliases stored.
func decompress(stored []byte, c Compression, rawLen int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(stored) != rawLen {
			return nil, fmt.Errorf("%w: stored %d bytes, declared %d", ErrCorruptPayload, len(stored), rawLen)
		}
		out := make([]byte, rawLen)
		copy(out, stored)
		return out, nil
	case CompressionLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorruptPayload, err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("%w: lz4 size mismatch", ErrCorruptPayload)
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)
		// The frame is checksummed; its own content size drives allocation.
		out, err := dec.DecodeAll(stored, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptPayload, err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("%w: zstd size mismatch", ErrCorruptPayload)
		}
		return out, nil
	case CompressionSnappy:
		n, err := snappy.DecodedLen(stored)
		if err != nil || n != rawLen {
			return nil, fmt.Errorf("%w: snappy size mismatch", ErrCorruptPayload)
		}
		out, err := snappy.Decode(make([]byte, rawLen), stored)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrCorruptPayload, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, uint8(c))
	}
}
