package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/iceisfun/goeip/pkg/catalog"
	"github.com/iceisfun/goeip/pkg/cip"
)

// BitKind distinguishes the two bit-addressing modes spec.md §4.5
// describes: a single bit of an atomic integer, and an element of a
// BOOL array physically packed into a DWORD.
type BitKind int

const (
	BitNone BitKind = iota
	BitInteger
	BitBoolArray
)

// ParsedTag is the decomposition of a user tag-path string (spec.md
// §4.5: "{plc_tag, bit: Option<(Kind, u32)>, elements: u32, tag_info}").
type ParsedTag struct {
	Raw      string
	BaseTag  string // leading symbol name, used for catalog lookup
	PathExpr string // tag-path string (bit/brace suffix stripped) fed to cip.CompileTagPath
	Elements uint32
	BitKind  BitKind
	BitPos   uint32 // bit position within the addressed element (0..31)
}

// ParseTagString parses a tag-path string per spec.md §4.5's grammar:
// "Tag", "Tag{N}", "Tag[i]"/"Tag[i,j,k]", "Tag.Member.Sub", "Tag.5", and
// the BOOL-array-over-DWORD rewrite "BoolArray[37]" -> element 1, bit 5.
// cat resolves the base tag's declared type to detect the BOOL-array
// rewrite; it may be nil, in which case that rewrite is skipped.
func ParseTagString(raw string, cat *catalog.Catalog) (*ParsedTag, error) {
	if raw == "" {
		return nil, fmt.Errorf("planner: empty tag string")
	}

	rest := raw
	elements := uint32(1)
	if i := strings.IndexByte(rest, '{'); i >= 0 {
		if !strings.HasSuffix(rest, "}") {
			return nil, fmt.Errorf("planner: unterminated {N} in %q", raw)
		}
		n, err := strconv.ParseUint(rest[i+1:len(rest)-1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("planner: non-numeric element count in %q: %w", raw, err)
		}
		elements = uint32(n)
		rest = rest[:i]
	}

	p := &ParsedTag{Raw: raw, Elements: elements}

	// A trailing bare-numeric dot segment ("Tag.5") addresses a bit of
	// an atomic integer; it is not a struct member and is not itself
	// part of the compiled EPATH.
	if dot := strings.LastIndexByte(rest, '.'); dot >= 0 {
		candidate := rest[dot+1:]
		if n, err := strconv.ParseUint(candidate, 10, 32); err == nil {
			p.BitKind = BitInteger
			p.BitPos = uint32(n)
			rest = rest[:dot]
		}
	}

	base := rest
	if i := strings.IndexAny(base, ".["); i >= 0 {
		base = base[:i]
	}
	p.BaseTag = base

	// BOOL-array-over-DWORD rewrite: a single bracketed index against a
	// tag whose declared element type is DWORD addresses a bit, not a
	// DWORD element.
	if cat != nil && p.BitKind == BitNone {
		if info, ok := cat.Tag(base); ok && !info.IsStruct() &&
			info.AtomicType().Base() == cip.TypeDWORD && info.ArrayDims() > 0 {
			if newRest, bitIndex, ok := rewriteBoolArrayIndex(rest, base); ok {
				p.BitKind = BitBoolArray
				p.BitPos = bitIndex % 32
				rest = newRest
			}
		}
	}

	p.PathExpr = rest
	return p, nil
}

// rewriteBoolArrayIndex rewrites "Base[N]" (with no member chain) into
// "Base[N/32]" and returns N as the overall bit index; ok is false for
// any shape other than a single bracketed index directly on base.
func rewriteBoolArrayIndex(rest, base string) (string, uint32, bool) {
	if rest == base {
		return "", 0, false
	}
	if !strings.HasPrefix(rest, base+"[") || !strings.HasSuffix(rest, "]") {
		return "", 0, false
	}
	inner := rest[len(base)+1 : len(rest)-1]
	if strings.ContainsAny(inner, ",") {
		return "", 0, false
	}
	n, err := strconv.ParseUint(inner, 10, 32)
	if err != nil {
		return "", 0, false
	}
	elementIndex := uint32(n) / 32
	return fmt.Sprintf("%s[%d]", base, elementIndex), uint32(n), true
}
