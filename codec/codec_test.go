package codec

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/metadata"
)

func sampleItem(t *testing.T, payload *core.Array) *core.DataItem {
	t.Helper()
	return &core.DataItem{
		ID: core.NewID(),
		Metadata: metadata.Document{
			metadata.TypeKey:    metadata.String("data_item"),
			metadata.VersionKey: metadata.Int(3),
			"title":             metadata.String("spectrum"),
			"rating":            metadata.Int(4),
			"exposure":          metadata.Float(0.125),
			"tags":              metadata.Strings("eels", "low-loss"),
			"calibration": metadata.Map(metadata.Document{
				"offset": metadata.Float(-12.5),
				"units":  metadata.String("eV"),
			}),
			"empty": metadata.Null(),
			"limits": metadata.Array([]metadata.Value{
				metadata.Float(math.NaN()),
				metadata.Float(math.Inf(1)),
				metadata.Float(math.Inf(-1)),
				metadata.Float(math.Copysign(0, -1)),
			}),
		},
		Payload:       payload,
		SchemaVersion: 3,
	}
}

func matrix(t *testing.T, rows, cols int) *core.Array {
	t.Helper()
	values := make([]float64, rows*cols)
	for i := range values {
		values[i] = float64(i) * 0.5
	}
	arr, err := core.Float64Array([]int{rows, cols}, values)
	require.NoError(t, err)
	return arr
}

func randomBytes(n int) []byte {
	r := rand.New(rand.NewPCG(1, 2))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.IntN(256))
	}
	return b
}

func TestContainerRoundTrip(t *testing.T) {
	scalar, err := core.NewArray(core.DTypeInt32, nil, []byte{1, 0, 0, 0})
	require.NoError(t, err)
	empty, err := core.NewArray(core.DTypeUint8, []int{0}, nil)
	require.NoError(t, err)
	noisy, err := core.NewArray(core.DTypeUint8, []int{64, 64}, randomBytes(64*64))
	require.NoError(t, err)

	payloads := map[string]*core.Array{
		"none":   nil,
		"matrix": matrix(t, 3, 4),
		"large":  matrix(t, 128, 64),
		"scalar": scalar,
		"empty":  empty,
		"noisy":  noisy,
	}

	codecs := []ContainerCodec{
		NewNative(),
		NewNative(WithCompression(CompressionLZ4)),
		NewNative(WithCompression(CompressionZSTD)),
		NewNative(WithCompression(CompressionSnappy)),
		NewHierarchical(),
		NewHierarchical(WithCompression(CompressionNone)),
	}

	for _, c := range codecs {
		for name, p := range payloads {
			t.Run(c.Format().String()+"/"+name, func(t *testing.T) {
				in := sampleItem(t, p)
				data, err := c.Encode(in)
				require.NoError(t, err)
				assert.True(t, c.Sniff(data))

				out, err := c.Decode(data)
				require.NoError(t, err)
				assert.True(t, in.Equal(out), "decoded item differs")
				assert.Equal(t, c.Format(), out.Format)
				assert.Equal(t, 3, out.SchemaVersion)

				info, err := c.Inspect(bytes.NewReader(data), int64(len(data)))
				require.NoError(t, err)
				assert.Equal(t, in.ID, info.ID)
				assert.Equal(t, 3, info.SchemaVersion)
				assert.Equal(t, "data_item", info.Type)
				assert.Equal(t, p != nil, info.HasPayload)
			})
		}
	}
}

func TestDecodeDoesNotAliasInput(t *testing.T) {
	c := NewNative()
	data, err := c.Encode(sampleItem(t, matrix(t, 2, 2)))
	require.NoError(t, err)

	out, err := c.Decode(data)
	require.NoError(t, err)
	want := bytes.Clone(out.Payload.Data)
	clear(data)
	assert.Equal(t, want, out.Payload.Data)
}

func TestNativeCompressionSelection(t *testing.T) {
	compressible := matrix(t, 64, 64)
	noisy, err := core.NewArray(core.DTypeUint8, []int{4096}, randomBytes(4096))
	require.NoError(t, err)

	tests := []struct {
		name    string
		comp    Compression
		payload *core.Array
		want    Compression
	}{
		{"lz4", CompressionLZ4, compressible, CompressionLZ4},
		{"zstd", CompressionZSTD, compressible, CompressionZSTD},
		{"snappy", CompressionSnappy, compressible, CompressionSnappy},
		{"incompressible", CompressionZSTD, noisy, CompressionNone},
		{"disabled", CompressionNone, compressible, CompressionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := NewNative(WithCompression(tt.comp)).Encode(sampleItem(t, tt.payload))
			require.NoError(t, err)
			h, err := ParseNativeHeader(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.Compression)
			assert.Equal(t, uint64(tt.payload.ByteLen()), h.RawPayloadLen)
			if tt.want != CompressionNone {
				assert.Less(t, h.PayloadLen, h.RawPayloadLen)
			}
		})
	}
}

func TestNativeErrors(t *testing.T) {
	c := NewNative()
	data, err := c.Encode(sampleItem(t, matrix(t, 8, 8)))
	require.NoError(t, err)

	t.Run("bad magic", func(t *testing.T) {
		bad := bytes.Clone(data)
		copy(bad, "XXXX")
		_, err := c.Decode(bad)
		assert.ErrorIs(t, err, ErrCorruptHeader)
		assert.False(t, c.Sniff(bad))
	})

	t.Run("unknown version", func(t *testing.T) {
		bad := bytes.Clone(data)
		binary.LittleEndian.PutUint16(bad[4:], 99)
		_, err := c.Decode(bad)
		assert.ErrorIs(t, err, ErrCorruptHeader)
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := c.Decode(data[:len(data)-10])
		assert.ErrorIs(t, err, ErrTruncatedPayload)

		_, err = c.Inspect(bytes.NewReader(data[:len(data)-10]), int64(len(data)-10))
		assert.ErrorIs(t, err, ErrTruncatedPayload)
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := c.Decode(data[:20])
		assert.ErrorIs(t, err, ErrTruncatedPayload)
	})

	t.Run("trailing bytes", func(t *testing.T) {
		_, err := c.Decode(append(bytes.Clone(data), 0))
		assert.ErrorIs(t, err, ErrCorruptHeader)
	})

	t.Run("checksum", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[len(bad)-1] ^= 0xff
		_, err := c.Decode(bad)
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := c.Decode(nil)
		assert.ErrorIs(t, err, ErrCorruptHeader)
	})

	t.Run("raw length disagrees with shape", func(t *testing.T) {
		bad := bytes.Clone(data)
		binary.LittleEndian.PutUint64(bad[24:], 8*8*8+1)
		_, err := c.Decode(bad)
		assert.ErrorIs(t, err, ErrCorruptHeader)
	})
}

func TestNativeRejectsOversizedRawLength(t *testing.T) {
	c := NewNative(WithCompression(CompressionLZ4))
	data, err := c.Encode(sampleItem(t, matrix(t, 128, 64)))
	require.NoError(t, err)
	h, err := ParseNativeHeader(data)
	require.NoError(t, err)
	require.Equal(t, CompressionLZ4, h.Compression)

	bad := bytes.Clone(data)
	binary.LittleEndian.PutUint64(bad[24:], 1<<60)

	assert.NotPanics(t, func() {
		_, err = c.Decode(bad)
	})
	assert.ErrorIs(t, err, ErrCorruptHeader)

	_, err = c.Inspect(bytes.NewReader(bad), int64(len(bad)))
	assert.ErrorIs(t, err, ErrCorruptHeader)
}

func TestNativeRejectsOverflowingShape(t *testing.T) {
	c := NewNative()
	data, err := c.Encode(sampleItem(t, matrix(t, 2, 2)))
	require.NoError(t, err)
	h, err := ParseNativeHeader(data)
	require.NoError(t, err)

	// Both dimensions at 2^32 wrap the element count to zero.
	bad := bytes.Clone(data)
	off := h.Size() - 16
	binary.LittleEndian.PutUint64(bad[off:], 1<<32)
	binary.LittleEndian.PutUint64(bad[off+8:], 1<<32)
	_, err = c.Decode(bad)
	assert.ErrorIs(t, err, ErrCorruptHeader)
}

// encodeV1 writes the 40-byte version 1 layout.
func encodeV1(t *testing.T, item *core.DataItem) []byte {
	t.Helper()
	meta, err := stampID(item.Metadata, item.ID).MarshalBinary()
	require.NoError(t, err)

	var buf []byte
	buf = append(buf, "NDAT"...)
	buf = binary.LittleEndian.AppendUint16(buf, 1)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(meta)))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(item.Payload.Data)))
	buf = append(buf, byte(item.Payload.DType), byte(len(item.Payload.Shape)))
	buf = append(buf, make([]byte, 14)...)
	for _, d := range item.Payload.Shape {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(d))
	}
	buf = append(buf, meta...)
	return append(buf, item.Payload.Data...)
}

func TestNativeDecodesVersion1(t *testing.T) {
	in := sampleItem(t, matrix(t, 2, 3))
	data := encodeV1(t, in)

	c := NewNative()
	require.True(t, c.Sniff(data))
	out, err := c.Decode(data)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
	// No header version in v1; taken from the metadata stamp.
	assert.Equal(t, 3, out.SchemaVersion)

	info, err := c.Inspect(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, info.Shape)
}

func buildZip(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestHierarchicalErrors(t *testing.T) {
	c := NewHierarchical()

	tests := []struct {
		name    string
		members map[string]string
		want    error
	}{
		{
			name:    "no properties group",
			members: map[string]string{"data/0": "x"},
			want:    ErrIncompatibleLayout,
		},
		{
			name:    "foreign layout",
			members: map[string]string{propertiesAttrs: `{"layout":"other/2","attributes":{}}`},
			want:    ErrIncompatibleLayout,
		},
		{
			name:    "declared dataset absent",
			members: map[string]string{propertiesAttrs: `{"layout":"ndstore/1","dataset":"data","attributes":{}}`},
			want:    ErrMissingDataset,
		},
		{
			name: "dataset without chunk",
			members: map[string]string{
				propertiesAttrs: `{"layout":"ndstore/1","dataset":"data","attributes":{}}`,
				datasetDesc:     `{"dtype":"uint8","shape":[2],"method":"store","size":2}`,
			},
			want: ErrMissingDataset,
		},
		{
			name: "short chunk",
			members: map[string]string{
				propertiesAttrs: `{"layout":"ndstore/1","dataset":"data","attributes":{}}`,
				datasetDesc:     `{"dtype":"uint8","shape":[4],"method":"store","size":4}`,
				datasetChunk:    "ab",
			},
			want: ErrTruncatedPayload,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(buildZip(t, tt.members))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("not a zip", func(t *testing.T) {
		_, err := c.Decode([]byte("PK\x03\x04garbage"))
		assert.ErrorIs(t, err, ErrCorruptHeader)
	})

	t.Run("truncated file", func(t *testing.T) {
		data, err := c.Encode(sampleItem(t, matrix(t, 4, 4)))
		require.NoError(t, err)
		_, err = c.Decode(data[:len(data)/2])
		assert.Error(t, err)
	})
}

func TestRegistryDetect(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []core.Format{core.FormatNative, core.FormatHierarchical}, reg.Formats())

	native, err := NewNative().Encode(sampleItem(t, nil))
	require.NoError(t, err)
	hier, err := NewHierarchical().Encode(sampleItem(t, nil))
	require.NoError(t, err)

	c, err := reg.Detect(".ndat", native[:SniffLen])
	require.NoError(t, err)
	assert.Equal(t, core.FormatNative, c.Format())

	// Misnamed file falls back to signature probing.
	c, err = reg.Detect(".ndat", hier[:SniffLen])
	require.NoError(t, err)
	assert.Equal(t, core.FormatHierarchical, c.Format())

	_, err = reg.Detect(".txt", []byte("hello world"))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	assert.True(t, reg.Recognized(".H5Z"))
	assert.False(t, reg.Recognized(".json"))

	_, err = reg.ByFormat(core.FormatUnknown)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD, CompressionSnappy} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestAttrCodecs(t *testing.T) {
	doc := metadata.Document{"a": metadata.Int(1), "b": metadata.Strings("x", "y")}
	arr, err := core.Float32Array([]int{2}, []float32{1, 2})
	require.NoError(t, err)
	item := &core.DataItem{ID: core.NewID(), Metadata: doc, Payload: arr}

	for _, name := range []string{"json", "go-json"} {
		c, ok := AttrCodec(name)
		require.True(t, ok)
		assert.Equal(t, name, c.Name())

		// Containers written with one codec read back with the other.
		data, err := NewHierarchical(WithAttrCodec(c)).Encode(item)
		require.NoError(t, err)
		got, err := NewHierarchical().Decode(data)
		require.NoError(t, err)
		assert.True(t, doc.Equal(got.Metadata))
	}
	_, ok := AttrCodec("xml")
	assert.False(t, ok)
}
