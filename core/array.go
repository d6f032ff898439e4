package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// DType identifies the element type of an array payload.
// Codes are persisted in container headers; keep them stable.
type DType uint8

const (
	DTypeInvalid DType = iota
	DTypeBool
	DTypeInt8
	DTypeUint8
	DTypeInt16
	DTypeUint16
	DTypeInt32
	DTypeUint32
	DTypeInt64
	DTypeUint64
	DTypeFloat32
	DTypeFloat64
	DTypeComplex64
	DTypeComplex128
)

var dtypeNames = [...]string{
	DTypeInvalid:    "invalid",
	DTypeBool:       "bool",
	DTypeInt8:       "int8",
	DTypeUint8:      "uint8",
	DTypeInt16:      "int16",
	DTypeUint16:     "uint16",
	DTypeInt32:      "int32",
	DTypeUint32:     "uint32",
	DTypeInt64:      "int64",
	DTypeUint64:     "uint64",
	DTypeFloat32:    "float32",
	DTypeFloat64:    "float64",
	DTypeComplex64:  "complex64",
	DTypeComplex128: "complex128",
}

// Size returns the element size in bytes, or 0 for an invalid type.
func (d DType) Size() int {
	switch d {
	case DTypeBool, DTypeInt8, DTypeUint8:
		return 1
	case DTypeInt16, DTypeUint16:
		return 2
	case DTypeInt32, DTypeUint32, DTypeFloat32:
		return 4
	case DTypeInt64, DTypeUint64, DTypeFloat64, DTypeComplex64:
		return 8
	case DTypeComplex128:
		return 16
	default:
		return 0
	}
}

// Valid reports whether d is a known element type.
func (d DType) Valid() bool {
	return d != DTypeInvalid && int(d) < len(dtypeNames)
}

func (d DType) String() string {
	if int(d) < len(dtypeNames) {
		return dtypeNames[d]
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// ParseDType returns the element type with the given name.
func ParseDType(s string) (DType, error) {
	for i, name := range dtypeNames {
		if i != 0 && name == s {
			return DType(i), nil
		}
	}
	return DTypeInvalid, fmt.Errorf("unknown dtype %q", s)
}

// MaxDims is the maximum number of array dimensions.
const MaxDims = 32

// MaxPayloadBytes is the largest payload an array may describe.
const MaxPayloadBytes = 1 << 40

var (
	// ErrInvalidArray is returned when an array's shape, dtype and data disagree.
	ErrInvalidArray = errors.New("invalid array")
)

// Array is a dense, C-ordered n-dimensional array held as raw little-endian bytes.
type Array struct {
	DType DType
	Shape []int
	Data  []byte
}

// NewArray builds an array and validates that data matches dtype and shape.
func NewArray(dtype DType, shape []int, data []byte) (*Array, error) {
	a := &Array{DType: dtype, Shape: append([]int(nil), shape...), Data: data}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Len returns the number of elements, or -1 if the shape overflows.
func (a *Array) Len() int {
	n, ok := elements(a.Shape)
	if !ok {
		return -1
	}
	return n
}

// ByteLen returns the expected size of Data in bytes, or -1 if the shape
// overflows.
func (a *Array) ByteLen() int {
	n, err := PayloadSize(a.DType, a.Shape)
	if err != nil {
		return -1
	}
	return n
}

// PayloadSize returns the byte length of a dtype/shape pair. It fails when the
// product overflows or exceeds MaxPayloadBytes.
func PayloadSize(dtype DType, shape []int) (int, error) {
	n, ok := elements(shape)
	if !ok {
		return 0, fmt.Errorf("%w: shape %v overflows", ErrInvalidArray, shape)
	}
	hi, lo := bits.Mul64(uint64(n), uint64(dtype.Size()))
	if hi != 0 || lo > MaxPayloadBytes {
		return 0, fmt.Errorf("%w: shape %v of %s exceeds %d bytes", ErrInvalidArray, shape, dtype, MaxPayloadBytes)
	}
	return int(lo), nil
}

func elements(shape []int) (int, bool) {
	n := uint64(1)
	for _, d := range shape {
		if d < 0 {
			return 0, false
		}
		hi, lo := bits.Mul64(n, uint64(d))
		if hi != 0 || lo > math.MaxInt64 {
			return 0, false
		}
		n = lo
	}
	return int(n), true
}

// Validate checks dtype, shape and data length for consistency.
func (a *Array) Validate() error {
	if !a.DType.Valid() {
		return fmt.Errorf("%w: dtype %s", ErrInvalidArray, a.DType)
	}
	if len(a.Shape) > MaxDims {
		return fmt.Errorf("%w: %d dimensions exceeds %d", ErrInvalidArray, len(a.Shape), MaxDims)
	}
	for i, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("%w: negative dimension %d at axis %d", ErrInvalidArray, d, i)
		}
	}
	want, err := PayloadSize(a.DType, a.Shape)
	if err != nil {
		return err
	}
	if want != len(a.Data) {
		return fmt.Errorf("%w: shape %v of %s needs %d bytes, have %d", ErrInvalidArray, a.Shape, a.DType, want, len(a.Data))
	}
	return nil
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	if a == nil {
		return nil
	}
	return &Array{
		DType: a.DType,
		Shape: append([]int(nil), a.Shape...),
		Data:  bytes.Clone(a.Data),
	}
}

// Equal reports whether two arrays have the same dtype, shape and bytes.
func (a *Array) Equal(o *Array) bool {
	if a == nil || o == nil {
		return a == o
	}
	if a.DType != o.DType || len(a.Shape) != len(o.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return bytes.Equal(a.Data, o.Data)
}

// Float64Array builds a float64 array from values in C order.
func Float64Array(shape []int, values []float64) (*Array, error) {
	data := make([]byte, 0, len(values)*8)
	for _, v := range values {
		data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
	}
	return NewArray(DTypeFloat64, shape, data)
}

// Float32Array builds a float32 array from values in C order.
func Float32Array(shape []int, values []float32) (*Array, error) {
	data := make([]byte, 0, len(values)*4)
	for _, v := range values {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
	}
	return NewArray(DTypeFloat32, shape, data)
}

// Float64s decodes a float32 or float64 array into float64 values.
func (a *Array) Float64s() ([]float64, error) {
	switch a.DType {
	case DTypeFloat64:
		out := make([]float64, len(a.Data)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(a.Data[i*8:]))
		}
		return out, nil
	case DTypeFloat32:
		out := make([]float64, len(a.Data)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(a.Data[i*4:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot read %s as float64", ErrInvalidArray, a.DType)
	}
}
