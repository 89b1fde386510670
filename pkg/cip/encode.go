package cip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Marshaler is the interface implemented by types that can marshal
// themselves into a CIP binary description.
type Marshaler interface {
	MarshalCIP() ([]byte, error)
}

// Marshal returns the CIP encoding of v.
func Marshal(v any) ([]byte, error) {
	// 1. Check if v implements Marshaler
	if m, ok := v.(Marshaler); ok {
		return m.MarshalCIP()
	}

	// 2. Handle basic types and structs using binary.Write
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("cip: binary.Write failed: %w", err)
	}

	return buf.Bytes(), nil
}

// EncodeRangeError is returned when a value is out of range for the
// atomic type it's being packed as (spec.md §4.1).
type EncodeRangeError struct {
	Type  DataType
	Value int64
}

func (e EncodeRangeError) Error() string {
	return fmt.Sprintf("cip: value %d out of range for %s", e.Value, e.Type)
}

// DataFunctionSize maps an atomic CIP data type to its fixed wire width
// in bytes (spec.md §4.1). Types with no fixed scalar width (STRING,
// STRUCT, ...) are absent.
var DataFunctionSize = map[DataType]int{
	TypeBOOL:  1,
	TypeSINT:  1,
	TypeUSINT: 1,
	TypeBYTE:  1,
	TypeINT:   2,
	TypeUINT:  2,
	TypeWORD:  2,
	TypeDINT:  4,
	TypeUDINT: 4,
	TypeREAL:  4,
	TypeDWORD: 4,
	TypeLINT:  8,
	TypeULINT: 8,
	TypeLREAL: 8,
	TypeLWORD: 8,
}

// PackInt packs a signed integer value as the given atomic type,
// range-checking it first.
func PackInt(t DataType, v int64) ([]byte, error) {
	switch t.Base() {
	case TypeSINT:
		if v < -128 || v > 127 {
			return nil, EncodeRangeError{Type: t, Value: v}
		}
		return []byte{byte(int8(v))}, nil
	case TypeINT:
		if v < -32768 || v > 32767 {
			return nil, EncodeRangeError{Type: t, Value: v}
		}
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
		return b, nil
	case TypeDINT:
		if v < -2147483648 || v > 2147483647 {
			return nil, EncodeRangeError{Type: t, Value: v}
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		return b, nil
	case TypeLINT:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v))
		return b, nil
	default:
		return nil, fmt.Errorf("cip: PackInt: unsupported type %s", t)
	}
}

// PackUint packs an unsigned integer value as the given atomic type,
// range-checking it first.
func PackUint(t DataType, v uint64) ([]byte, error) {
	switch t.Base() {
	case TypeUSINT, TypeBYTE, TypeBOOL:
		if v > 0xFF {
			return nil, EncodeRangeError{Type: t, Value: int64(v)}
		}
		return []byte{byte(v)}, nil
	case TypeUINT, TypeWORD:
		if v > 0xFFFF {
			return nil, EncodeRangeError{Type: t, Value: int64(v)}
		}
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		return b, nil
	case TypeUDINT, TypeDWORD:
		if v > 0xFFFFFFFF {
			return nil, EncodeRangeError{Type: t, Value: int64(v)}
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v))
		return b, nil
	case TypeULINT, TypeLWORD:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v)
		return b, nil
	default:
		return nil, fmt.Errorf("cip: PackUint: unsupported type %s", t)
	}
}

// PackFloat packs a floating point value as REAL (4 bytes) or LREAL
// (8 bytes).
func PackFloat(t DataType, v float64) ([]byte, error) {
	switch t.Base() {
	case TypeREAL:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		return b, nil
	case TypeLREAL:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		return b, nil
	default:
		return nil, fmt.Errorf("cip: PackFloat: unsupported type %s", t)
	}
}
