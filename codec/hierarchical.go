package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/ndstore/core"
	"github.com/hupe1980/ndstore/metadata"
)

// Hierarchical container layout. Groups are zip directories; a group's
// attributes live in its ".attrs" member and a dataset is described by
// ".dataset" with its bytes in chunk "0".
//
//	properties/.attrs   reserved metadata group (JSON attributes)
//	data/.dataset       dtype, shape, chunk compression
//	data/0              raw array bytes
const (
	// HierarchicalLayout identifies the group layout written by this package.
	HierarchicalLayout = "ndstore/1"

	propertiesAttrs = "properties/.attrs"
	datasetName     = "data"
	datasetDesc     = "data/.dataset"
	datasetChunk    = "data/0"

	// zstdChunkThreshold is the smallest chunk stored with the zstd method.
	zstdChunkThreshold = 4096
)

var zipSignature = []byte("PK\x03\x04")

// groupAttrs is the JSON body of properties/.attrs.
type groupAttrs struct {
	Layout        string            `json:"layout"`
	ID            string            `json:"id,omitempty"`
	SchemaVersion int               `json:"schema_version,omitempty"`
	Dataset       string            `json:"dataset,omitempty"`
	Attributes    metadata.Document `json:"attributes"`
}

// datasetInfo is the JSON body of data/.dataset.
type datasetInfo struct {
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Method string `json:"method"`
	Size   int    `json:"size"`
}

// Hierarchical is the zip-backed group/dataset container codec.
type Hierarchical struct {
	compression Compression
	attrs       Codec
}

// NewHierarchical creates a hierarchical codec. Large chunks use the zstd zip
// method unless WithCompression(CompressionNone) is given; any other
// compression selects zstd.
func NewHierarchical(optFns ...Option) *Hierarchical {
	o := options{compression: CompressionZSTD, attrs: GoJSON{}}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.attrs == nil {
		o.attrs = GoJSON{}
	}
	return &Hierarchical{compression: o.compression, attrs: o.attrs}
}

// Format implements ContainerCodec.
func (*Hierarchical) Format() core.Format { return core.FormatHierarchical }

// Sniff implements ContainerCodec.
func (*Hierarchical) Sniff(head []byte) bool {
	return bytes.HasPrefix(head, zipSignature)
}

// Encode implements ContainerCodec.
func (h *Hierarchical) Encode(item *core.DataItem) ([]byte, error) {
	if item == nil {
		return nil, errors.New("codec: nil item")
	}
	attrs := groupAttrs{
		Layout:        HierarchicalLayout,
		SchemaVersion: schemaVersion(item),
		Attributes:    item.Metadata,
	}
	if !item.ID.IsZero() {
		attrs.ID = item.ID.String()
	}
	if attrs.Attributes == nil {
		attrs.Attributes = metadata.Document{}
	}
	if item.Payload != nil {
		if err := item.Payload.Validate(); err != nil {
			return nil, err
		}
		attrs.Dataset = datasetName
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())

	if err := h.writeJSON(zw, propertiesAttrs, attrs); err != nil {
		return nil, err
	}

	if p := item.Payload; p != nil {
		method, methodName := zip.Store, "store"
		if h.compression != CompressionNone && len(p.Data) >= zstdChunkThreshold {
			method, methodName = zstd.ZipMethodWinZip, "zstd"
		}
		desc := datasetInfo{
			DType:  p.DType.String(),
			Shape:  p.Shape,
			Method: methodName,
			Size:   len(p.Data),
		}
		if desc.Shape == nil {
			desc.Shape = []int{}
		}
		if err := h.writeJSON(zw, datasetDesc, desc); err != nil {
			return nil, err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: datasetChunk, Method: method})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(p.Data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *Hierarchical) writeJSON(zw *zip.Writer, name string, v any) error {
	b, err := h.attrs.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: encode %s: %w", name, err)
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Decode implements ContainerCodec.
func (h *Hierarchical) Decode(data []byte) (*core.DataItem, error) {
	zr, err := h.open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	item, attrs, err := h.readAttrs(zr)
	if err != nil {
		return nil, err
	}
	if attrs.Dataset == "" {
		return item, nil
	}

	desc, err := h.readDataset(zr, attrs.Dataset)
	if err != nil {
		return nil, err
	}
	dtype, err := core.ParseDType(desc.DType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleLayout, err)
	}
	chunk := find(zr, attrs.Dataset+"/0")
	if chunk == nil {
		return nil, fmt.Errorf("%w: %s has no chunk", ErrMissingDataset, attrs.Dataset)
	}
	raw, err := readMember(chunk)
	if err != nil {
		return nil, err
	}
	if len(raw) != desc.Size {
		return nil, fmt.Errorf("%w: chunk holds %d bytes, dataset declares %d", ErrTruncatedPayload, len(raw), desc.Size)
	}
	arr, err := core.NewArray(dtype, desc.Shape, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	item.Payload = arr
	return item, nil
}

// Inspect implements ContainerCodec. It reads the central directory, the
// attribute group and the dataset descriptor but not the chunk.
func (h *Hierarchical) Inspect(r io.ReaderAt, size int64) (Info, error) {
	zr, err := h.open(r, size)
	if err != nil {
		return Info{}, err
	}
	item, attrs, err := h.readAttrs(zr)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		ID:            item.ID,
		Format:        core.FormatHierarchical,
		SchemaVersion: item.SchemaVersion,
		Type:          typeOf(item.Metadata),
	}
	if attrs.Dataset == "" {
		return info, nil
	}
	desc, err := h.readDataset(zr, attrs.Dataset)
	if err != nil {
		return Info{}, err
	}
	if find(zr, attrs.Dataset+"/0") == nil {
		return Info{}, fmt.Errorf("%w: %s has no chunk", ErrMissingDataset, attrs.Dataset)
	}
	dtype, err := core.ParseDType(desc.DType)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrIncompatibleLayout, err)
	}
	if want, err := core.PayloadSize(dtype, desc.Shape); err != nil || want != desc.Size {
		return Info{}, fmt.Errorf("%w: dataset size %d does not match shape %v of %s", ErrCorruptPayload, desc.Size, desc.Shape, dtype)
	}
	info.HasPayload = true
	info.DType = dtype
	info.Shape = desc.Shape
	return info, nil
}

func (h *Hierarchical) open(r io.ReaderAt, size int64) (*zip.Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
		}
		return nil, err
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	return zr, nil
}

func (h *Hierarchical) readAttrs(zr *zip.Reader) (*core.DataItem, groupAttrs, error) {
	var attrs groupAttrs
	f := find(zr, propertiesAttrs)
	if f == nil {
		return nil, attrs, fmt.Errorf("%w: no properties group", ErrIncompatibleLayout)
	}
	b, err := readMember(f)
	if err != nil {
		return nil, attrs, err
	}
	if err := h.attrs.Unmarshal(b, &attrs); err != nil {
		return nil, attrs, fmt.Errorf("%w: properties attributes: %v", ErrIncompatibleLayout, err)
	}
	if attrs.Layout != HierarchicalLayout {
		return nil, attrs, fmt.Errorf("%w: layout %q", ErrIncompatibleLayout, attrs.Layout)
	}

	item := &core.DataItem{
		Metadata:      attrs.Attributes,
		Format:        core.FormatHierarchical,
		SchemaVersion: attrs.SchemaVersion,
	}
	if item.Metadata == nil {
		item.Metadata = metadata.Document{}
	}
	if item.SchemaVersion == 0 {
		item.SchemaVersion = versionOf(item.Metadata)
	}
	if attrs.ID != "" {
		id, err := core.ParseID(attrs.ID)
		if err != nil {
			return nil, attrs, fmt.Errorf("%w: %v", ErrIncompatibleLayout, err)
		}
		item.ID = id
	}
	return item, attrs, nil
}

func (h *Hierarchical) readDataset(zr *zip.Reader, name string) (datasetInfo, error) {
	var desc datasetInfo
	f := find(zr, name+"/.dataset")
	if f == nil {
		return desc, fmt.Errorf("%w: %s", ErrMissingDataset, name)
	}
	b, err := readMember(f)
	if err != nil {
		return desc, err
	}
	if err := h.attrs.Unmarshal(b, &desc); err != nil {
		return desc, fmt.Errorf("%w: dataset descriptor: %v", ErrIncompatibleLayout, err)
	}
	return desc, nil
}

func find(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		if errors.Is(err, zip.ErrAlgorithm) {
			return nil, fmt.Errorf("%w: %s: %v", ErrIncompatibleLayout, f.Name, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptHeader, f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		if errors.Is(err, zip.ErrChecksum) {
			return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, f.Name)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s", ErrTruncatedPayload, f.Name)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptPayload, f.Name, err)
	}
	return b, nil
}
