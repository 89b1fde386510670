package cip

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies which field of a Value is populated.
type Kind int

const (
	KindBool Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindReal
	KindLReal
	KindBytes
	KindString
	KindStruct
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindInt8:
		return "Int8"
	case KindInt16:
		return "Int16"
	case KindInt32:
		return "Int32"
	case KindInt64:
		return "Int64"
	case KindUint8:
		return "Uint8"
	case KindUint16:
		return "Uint16"
	case KindUint32:
		return "Uint32"
	case KindUint64:
		return "Uint64"
	case KindReal:
		return "Real"
	case KindLReal:
		return "LReal"
	case KindBytes:
		return "Bytes"
	case KindString:
		return "String"
	case KindStruct:
		return "Struct"
	case KindArray:
		return "Array"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is the tagged variant used to carry a decoded/encoded tag value
// across the planner boundary, replacing raw reflect-based (de)serialization
// for scalar reads/writes (spec.md §9 "polymorphic tag values").
type Value struct {
	Kind     Kind
	Type     DataType
	Bool     bool
	Int      int64
	Uint     uint64
	Real     float64
	Bytes    []byte
	Str      string
	Struct   map[string]Value
	Array    []Value
}

// BoolValue constructs a BOOL Value.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Type: TypeBOOL, Bool: v} }

// IntValue constructs a signed-integer Value of the given atomic type.
func IntValue(t DataType, v int64) Value { return Value{Kind: kindForSignedType(t), Type: t, Int: v} }

// UintValue constructs an unsigned-integer Value of the given atomic type.
func UintValue(t DataType, v uint64) Value { return Value{Kind: kindForUnsignedType(t), Type: t, Uint: v} }

// RealValue constructs a REAL Value.
func RealValue(v float32) Value { return Value{Kind: KindReal, Type: TypeREAL, Real: float64(v)} }

// LRealValue constructs an LREAL Value.
func LRealValue(v float64) Value { return Value{Kind: KindLReal, Type: TypeLREAL, Real: v} }

// StringValue constructs a STRING Value.
func StringValue(s string) Value { return Value{Kind: KindString, Type: TypeSTRING, Str: s} }

// BytesValue constructs a raw-bytes Value (BYTE/WORD/DWORD/LWORD or
// otherwise un-typed payload).
func BytesValue(t DataType, b []byte) Value { return Value{Kind: KindBytes, Type: t, Bytes: b} }

func kindForSignedType(t DataType) Kind {
	switch t.Base() {
	case TypeSINT:
		return KindInt8
	case TypeINT:
		return KindInt16
	case TypeLINT:
		return KindInt64
	default:
		return KindInt32
	}
}

func kindForUnsignedType(t DataType) Kind {
	switch t.Base() {
	case TypeUSINT, TypeBYTE, TypeBOOL:
		return KindUint8
	case TypeUINT, TypeWORD:
		return KindUint16
	case TypeULINT, TypeLWORD:
		return KindUint64
	default:
		return KindUint32
	}
}

// Encode packs the Value back into its wire representation as the
// atomic type it carries.
func (v Value) Encode() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return PackInt(v.Type, v.Int)
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return PackUint(v.Type, v.Uint)
	case KindReal:
		return PackFloat(TypeREAL, v.Real)
	case KindLReal:
		return PackFloat(TypeLREAL, v.Real)
	case KindBytes:
		return append([]byte(nil), v.Bytes...), nil
	case KindString:
		return encodeStructString(v.Str), nil
	default:
		return nil, fmt.Errorf("cip: Value.Encode: unsupported kind %s", v.Kind)
	}
}

// encodeStructString packs a Go string as the Logix {LEN:DINT, DATA:SINT[n]}
// STRING structure.
func encodeStructString(s string) []byte {
	buf := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(s)))
	copy(buf[4:], s)
	return buf
}

// DecodeValue decodes data as an atomic CIP type into a Value.
func DecodeValue(t DataType, data []byte) (Value, error) {
	switch t.Base() {
	case TypeBOOL:
		u, err := UnpackUint(t, data)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(u != 0), nil
	case TypeSINT, TypeINT, TypeDINT, TypeLINT:
		i, err := UnpackInt(t, data)
		if err != nil {
			return Value{}, err
		}
		return IntValue(t, i), nil
	case TypeUSINT, TypeUINT, TypeUDINT, TypeULINT, TypeBYTE, TypeWORD, TypeDWORD, TypeLWORD:
		u, err := UnpackUint(t, data)
		if err != nil {
			return Value{}, err
		}
		return UintValue(t, u), nil
	case TypeREAL:
		f, err := UnpackFloat(t, data)
		if err != nil {
			return Value{}, err
		}
		return RealValue(float32(f)), nil
	case TypeLREAL:
		f, err := UnpackFloat(t, data)
		if err != nil {
			return Value{}, err
		}
		return LRealValue(f), nil
	default:
		return BytesValue(t, data), nil
	}
}
