package cip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// Unmarshaler is the interface implemented by types that can unmarshal
// a CIP binary description of themselves.
type Unmarshaler interface {
	UnmarshalCIP(data []byte) error
}

// Unmarshal parses the CIP-encoded data and stores the result
// in the value pointed to by v. If v is nil or not a pointer,
// Unmarshal returns an error.
func Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("cip: Unmarshal(non-pointer %T)", v)
	}

	// 1. Check if v implements Unmarshaler
	if u, ok := v.(Unmarshaler); ok {
		return u.UnmarshalCIP(data)
	}

	// 2. Handle basic types and structs using binary.Read
	// binary.Read handles:
	// - bool, int8, uint8, int16, uint16, int32, uint32, int64, uint64, float32, float64, complex64, complex128
	// - Arrays of the above
	// - Structs containing only the above (recursively)
	// It uses LittleEndian by default for CIP? Yes, CIP is Little Endian.

	// We need a reader
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("cip: binary.Read failed: %w", err)
	}

	return nil
}

// UnpackInt decodes data (width matching t's DataFunctionSize) as a
// signed integer of the given atomic type.
func UnpackInt(t DataType, data []byte) (int64, error) {
	switch t.Base() {
	case TypeSINT:
		if len(data) < 1 {
			return 0, Error{Status: StatusNotEnoughData}
		}
		return int64(int8(data[0])), nil
	case TypeINT:
		if len(data) < 2 {
			return 0, Error{Status: StatusNotEnoughData}
		}
		return int64(int16(binary.LittleEndian.Uint16(data))), nil
	case TypeDINT:
		if len(data) < 4 {
			return 0, Error{Status: StatusNotEnoughData}
		}
		return int64(int32(binary.LittleEndian.Uint32(data))), nil
	case TypeLINT:
		if len(data) < 8 {
			return 0, Error{Status: StatusNotEnoughData}
		}
		return int64(binary.LittleEndian.Uint64(data)), nil
	default:
		return 0, fmt.Errorf("cip: UnpackInt: unsupported type %s", t)
	}
}

// UnpackUint decodes data as an unsigned integer of the given atomic
// type.
func UnpackUint(t DataType, data []byte) (uint64, error) {
	switch t.Base() {
	case TypeUSINT, TypeBYTE, TypeBOOL:
		if len(data) < 1 {
			return 0, Error{Status: StatusNotEnoughData}
		}
		return uint64(data[0]), nil
	case TypeUINT, TypeWORD:
		if len(data) < 2 {
			return 0, Error{Status: StatusNotEnoughData}
		}
		return uint64(binary.LittleEndian.Uint16(data)), nil
	case TypeUDINT, TypeDWORD:
		if len(data) < 4 {
			return 0, Error{Status: StatusNotEnoughData}
		}
		return uint64(binary.LittleEndian.Uint32(data)), nil
	case TypeULINT, TypeLWORD:
		if len(data) < 8 {
			return 0, Error{Status: StatusNotEnoughData}
		}
		return binary.LittleEndian.Uint64(data), nil
	default:
		return 0, fmt.Errorf("cip: UnpackUint: unsupported type %s", t)
	}
}

// UnpackFloat decodes data as REAL or LREAL.
func UnpackFloat(t DataType, data []byte) (float64, error) {
	switch t.Base() {
	case TypeREAL:
		if len(data) < 4 {
			return 0, Error{Status: StatusNotEnoughData}
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data))), nil
	case TypeLREAL:
		if len(data) < 8 {
			return 0, Error{Status: StatusNotEnoughData}
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	default:
		return 0, fmt.Errorf("cip: UnpackFloat: unsupported type %s", t)
	}
}
