package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unique"
)

// maxNesting bounds recursion when decoding untrusted bytes.
const maxNesting = 64

var (
	// ErrShortBuffer is returned when encoded metadata ends prematurely.
	ErrShortBuffer = errors.New("metadata: short buffer")
	// ErrUnknownKind is returned for an unrecognized value tag.
	ErrUnknownKind = errors.New("metadata: unknown kind")
)

// MarshalBinary implements encoding.BinaryMarshaler.
//
// The encoding is self-describing: every value carries its kind tag, and
// keys are written in sorted order so equal documents produce equal bytes.
func (d Document) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 4+len(d)*16)
	return appendDocument(buf, d, 0)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *Document) UnmarshalBinary(data []byte) error {
	doc, rest, err := parseDocument(data, 0)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return fmt.Errorf("metadata: %d trailing bytes", len(rest))
	}
	*d = doc
	return nil
}

func appendDocument(buf []byte, d Document, depth int) ([]byte, error) {
	if depth > maxNesting {
		return nil, errors.New("metadata: nesting too deep")
	}
	buf = binary.AppendUvarint(buf, uint64(len(d)))
	for _, k := range d.Keys() {
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)

		var err error
		buf, err = appendValue(buf, d[k], depth)
		if err != nil {
			return nil, fmt.Errorf("metadata: key %q: %w", k, err)
		}
	}
	return buf, nil
}

func parseDocument(data []byte, depth int) (Document, []byte, error) {
	if depth > maxNesting {
		return nil, nil, errors.New("metadata: nesting too deep")
	}
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, nil, errors.New("metadata: invalid document length")
	}
	data = data[n:]
	// Each entry needs at least two bytes; reject absurd counts before allocating.
	if count > uint64(len(data)) {
		return nil, nil, ErrShortBuffer
	}

	d := make(Document, count)
	for range count {
		kLen, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, nil, errors.New("metadata: invalid key length")
		}
		data = data[n:]
		if uint64(len(data)) < kLen {
			return nil, nil, ErrShortBuffer
		}
		key := string(data[:kLen])
		data = data[kLen:]

		val, remaining, err := parseValue(data, depth)
		if err != nil {
			return nil, nil, err
		}
		d[key] = val
		data = remaining
	}
	return d, data, nil
}

func appendValue(buf []byte, v Value, depth int) ([]byte, error) {
	buf = append(buf, byte(v.Kind))

	switch v.Kind {
	case KindNull:
		// No payload
	case KindInt:
		buf = binary.AppendVarint(buf, v.I64)
	case KindFloat:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.F64))
	case KindString:
		s := v.s.Value()
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	case KindBool:
		if v.B {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindArray:
		buf = binary.AppendUvarint(buf, uint64(len(v.A)))
		for _, item := range v.A {
			var err error
			buf, err = appendValue(buf, item, depth+1)
			if err != nil {
				return nil, err
			}
		}
	case KindMap:
		return appendDocument(buf, v.M, depth+1)
	default:
		return nil, ErrUnknownKind
	}
	return buf, nil
}

func parseValue(data []byte, depth int) (Value, []byte, error) {
	if len(data) == 0 {
		return Value{}, nil, ErrShortBuffer
	}
	kind := Kind(data[0])
	data = data[1:]

	var v Value
	v.Kind = kind

	switch kind {
	case KindNull:
		// No payload
	case KindInt:
		i, n := binary.Varint(data)
		if n <= 0 {
			return v, nil, errors.New("metadata: invalid int value")
		}
		v.I64 = i
		data = data[n:]
	case KindFloat:
		if len(data) < 8 {
			return v, nil, ErrShortBuffer
		}
		v.F64 = math.Float64frombits(binary.LittleEndian.Uint64(data))
		data = data[8:]
	case KindString:
		sLen, n := binary.Uvarint(data)
		if n <= 0 {
			return v, nil, errors.New("metadata: invalid string length")
		}
		data = data[n:]
		if uint64(len(data)) < sLen {
			return v, nil, ErrShortBuffer
		}
		v.s = unique.Make(string(data[:sLen]))
		data = data[sLen:]
	case KindBool:
		if len(data) == 0 {
			return v, nil, ErrShortBuffer
		}
		v.B = data[0] != 0
		data = data[1:]
	case KindArray:
		aLen, n := binary.Uvarint(data)
		if n <= 0 {
			return v, nil, errors.New("metadata: invalid array length")
		}
		data = data[n:]
		if aLen > uint64(len(data)) {
			return v, nil, ErrShortBuffer
		}
		if depth+1 > maxNesting {
			return v, nil, errors.New("metadata: nesting too deep")
		}
		v.A = make([]Value, aLen)
		for i := uint64(0); i < aLen; i++ {
			item, remaining, err := parseValue(data, depth+1)
			if err != nil {
				return v, nil, err
			}
			v.A[i] = item
			data = remaining
		}
	case KindMap:
		m, remaining, err := parseDocument(data, depth+1)
		if err != nil {
			return v, nil, err
		}
		v.M = m
		data = remaining
	default:
		return v, nil, ErrUnknownKind
	}
	return v, data, nil
}
