package core

import (
	"testing"

	"github.com/hupe1980/ndstore/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDParseRoundTrip(t *testing.T) {
	id := NewID()
	assert.False(t, id.IsZero())

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseID("not-a-uuid")
	assert.Error(t, err)

	text, err := id.MarshalText()
	require.NoError(t, err)
	var back ID
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
}

func TestIDLess(t *testing.T) {
	a := MustParseID("00000000-0000-0000-0000-000000000001")
	b := MustParseID("00000000-0000-0000-0000-000000000002")
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

func TestArrayValidate(t *testing.T) {
	arr, err := Float64Array([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, 6, arr.Len())
	assert.Equal(t, 48, arr.ByteLen())

	values, err := arr.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, values)

	_, err = NewArray(DTypeFloat32, []int{4}, make([]byte, 15))
	assert.ErrorIs(t, err, ErrInvalidArray)

	_, err = NewArray(DTypeInvalid, []int{1}, nil)
	assert.ErrorIs(t, err, ErrInvalidArray)

	_, err = NewArray(DTypeUint8, []int{-1}, nil)
	assert.ErrorIs(t, err, ErrInvalidArray)
}

func TestArrayShapeOverflow(t *testing.T) {
	// 2^32 * 2^32 wraps to zero elements without checked multiplication.
	_, err := NewArray(DTypeFloat64, []int{1 << 32, 1 << 32}, nil)
	assert.ErrorIs(t, err, ErrInvalidArray)

	_, err = PayloadSize(DTypeFloat64, []int{1 << 62, 4})
	assert.ErrorIs(t, err, ErrInvalidArray)

	_, err = PayloadSize(DTypeUint8, []int{MaxPayloadBytes + 1})
	assert.ErrorIs(t, err, ErrInvalidArray)

	n, err := PayloadSize(DTypeComplex128, []int{3, 0, 7})
	require.NoError(t, err)
	assert.Zero(t, n)

	arr := &Array{DType: DTypeFloat64, Shape: []int{1 << 32, 1 << 32}}
	assert.Equal(t, -1, arr.Len())
	assert.Equal(t, -1, arr.ByteLen())
	assert.ErrorIs(t, arr.Validate(), ErrInvalidArray)
}

func TestArrayCloneEqual(t *testing.T) {
	arr, err := Float32Array([]int{2}, []float32{1.5, -2})
	require.NoError(t, err)

	clone := arr.Clone()
	assert.True(t, arr.Equal(clone))

	clone.Data[0] ^= 0xff
	assert.False(t, arr.Equal(clone))

	var nilArr *Array
	assert.True(t, nilArr.Equal(nil))
	assert.False(t, nilArr.Equal(arr))
}

func TestDTypeNames(t *testing.T) {
	for d := DTypeBool; d <= DTypeComplex128; d++ {
		parsed, err := ParseDType(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
		assert.Positive(t, d.Size())
	}
	_, err := ParseDType("invalid")
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	f, err := ParseFormat("hierarchical")
	require.NoError(t, err)
	assert.Equal(t, FormatHierarchical, f)
	assert.Equal(t, ExtHierarchical, f.Extension())
	assert.Equal(t, FormatNative, FormatForExtension(".NDAT"))
	assert.Equal(t, FormatUnknown, FormatForExtension(".txt"))

	_, err = ParseFormat("tiff")
	assert.Error(t, err)
}

func TestDataItemClone(t *testing.T) {
	arr, err := Float64Array([]int{1}, []float64{3})
	require.NoError(t, err)
	item := &DataItem{
		ID:       NewID(),
		Metadata: metadata.Document{"title": metadata.String("a")},
		Payload:  arr,
		Format:   FormatNative,
	}

	clone := item.Clone()
	assert.True(t, item.Equal(clone))

	clone.Metadata["title"] = metadata.String("b")
	assert.False(t, item.Equal(clone))
}
