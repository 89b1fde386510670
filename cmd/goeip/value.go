package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/iceisfun/goeip/pkg/cip"
)

// parseValue builds a cip.Value from a --type name and a string
// representation of the value, for the write subcommand.
func parseValue(typeName, raw string) (cip.Value, error) {
	switch strings.ToUpper(typeName) {
	case "BOOL":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return cip.Value{}, fmt.Errorf("parse BOOL %q: %w", raw, err)
		}
		return cip.BoolValue(b), nil
	case "SINT":
		return parseSignedValue(cip.TypeSINT, raw, 8)
	case "INT":
		return parseSignedValue(cip.TypeINT, raw, 16)
	case "DINT":
		return parseSignedValue(cip.TypeDINT, raw, 32)
	case "LINT":
		return parseSignedValue(cip.TypeLINT, raw, 64)
	case "USINT", "BYTE":
		return parseUnsignedValue(cip.TypeUSINT, raw, 8)
	case "UINT", "WORD":
		return parseUnsignedValue(cip.TypeUINT, raw, 16)
	case "UDINT", "DWORD":
		return parseUnsignedValue(cip.TypeUDINT, raw, 32)
	case "ULINT", "LWORD":
		return parseUnsignedValue(cip.TypeULINT, raw, 64)
	case "REAL":
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return cip.Value{}, fmt.Errorf("parse REAL %q: %w", raw, err)
		}
		return cip.RealValue(float32(f)), nil
	case "LREAL":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return cip.Value{}, fmt.Errorf("parse LREAL %q: %w", raw, err)
		}
		return cip.LRealValue(f), nil
	case "STRING":
		return cip.StringValue(raw), nil
	default:
		return cip.Value{}, fmt.Errorf("unsupported --type %q", typeName)
	}
}

func parseSignedValue(t cip.DataType, raw string, bits int) (cip.Value, error) {
	v, err := strconv.ParseInt(raw, 10, bits)
	if err != nil {
		return cip.Value{}, fmt.Errorf("parse %s %q: %w", t, raw, err)
	}
	return cip.IntValue(t, v), nil
}

func parseUnsignedValue(t cip.DataType, raw string, bits int) (cip.Value, error) {
	v, err := strconv.ParseUint(raw, 10, bits)
	if err != nil {
		return cip.Value{}, fmt.Errorf("parse %s %q: %w", t, raw, err)
	}
	return cip.UintValue(t, v), nil
}
