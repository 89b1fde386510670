package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iceisfun/goeip/pkg/cip"
)

// formatValue renders a cip.Value the way a human reading CLI output
// expects, independent of the tagged union's internal field names.
func formatValue(v cip.Value) string {
	switch v.Kind {
	case cip.KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case cip.KindInt8, cip.KindInt16, cip.KindInt32, cip.KindInt64:
		return fmt.Sprintf("%d", v.Int)
	case cip.KindUint8, cip.KindUint16, cip.KindUint32, cip.KindUint64:
		return fmt.Sprintf("%d", v.Uint)
	case cip.KindReal, cip.KindLReal:
		return fmt.Sprintf("%g", v.Real)
	case cip.KindString:
		return v.Str
	case cip.KindBytes:
		return fmt.Sprintf("% x", v.Bytes)
	case cip.KindArray:
		parts := make([]string, len(v.Array))
		for i, e := range v.Array {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case cip.KindStruct:
		parts := make([]string, 0, len(v.Struct))
		for name, field := range v.Struct {
			parts = append(parts, name+"="+formatValue(field))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "<unknown>"
	}
}

// printTag writes one tag result line to the command's output stream.
func printTag(cmd *cobra.Command, name string, typ cip.DataType, value cip.Value, err error) {
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: error: %v\n", name, err)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) = %s\n", name, typ, formatValue(value))
}
