package cip

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Path Segment Types
const (
	SegmentTypePort      byte = 0x00 // 000xxxxx
	SegmentTypeLogical   byte = 0x20 // 001xxxxx
	SegmentTypeNetwork   byte = 0x40 // 010xxxxx
	SegmentTypeSymbolic  byte = 0x60 // 011xxxxx
	SegmentTypeData      byte = 0x80 // 100xxxxx
	SegmentTypeDataType1 byte = 0xA0 // 101xxxxx
	SegmentTypeDataType2 byte = 0xC0 // 110xxxxx
	SegmentTypeReserved  byte = 0xE0 // 111xxxxx
)

// Logical Segment Types
const (
	LogicalTypeClass     byte = 0x00 // 000xxxxx
	LogicalTypeInstance  byte = 0x04 // 001xxxxx
	LogicalTypeMember    byte = 0x08 // 010xxxxx
	LogicalTypePoint     byte = 0x0C // 011xxxxx
	LogicalTypeAttribute byte = 0x10 // 100xxxxx
	LogicalTypeSpecial   byte = 0x14 // 101xxxxx
	LogicalTypeService   byte = 0x18 // 110xxxxx
	LogicalTypeExtended  byte = 0x1C // 111xxxxx
)

// Logical Segment Formats
const (
	LogicalFormat8Bit     byte = 0x00 // xx00xxxx
	LogicalFormat16Bit    byte = 0x01 // xx01xxxx
	LogicalFormat32Bit    byte = 0x02 // xx10xxxx
	LogicalFormatReserved byte = 0x03 // xx11xxxx
)

// Path represents a CIP EPATH
type Path []byte

// NewPath creates a new empty path
func NewPath() Path {
	return make(Path, 0)
}

// AddClass adds a Class segment to the path
func (p *Path) AddClass(classID UINT) {
	if classID <= 0xFF {
		*p = append(*p, SegmentTypeLogical|LogicalTypeClass|LogicalFormat8Bit)
		*p = append(*p, byte(classID))
	} else {
		*p = append(*p, SegmentTypeLogical|LogicalTypeClass|LogicalFormat16Bit)
		*p = append(*p, 0x00) // Pad
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(classID))
		*p = append(*p, b...)
	}
}

// AddInstance adds an Instance segment to the path
func (p *Path) AddInstance(instanceID UINT) {
	if instanceID <= 0xFF {
		*p = append(*p, SegmentTypeLogical|LogicalTypeInstance|LogicalFormat8Bit)
		*p = append(*p, byte(instanceID))
	} else {
		*p = append(*p, SegmentTypeLogical|LogicalTypeInstance|LogicalFormat16Bit)
		*p = append(*p, 0x00) // Pad
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(instanceID))
		*p = append(*p, b...)
	}
}

// AddInstance32 adds a 32-bit Instance segment to the path
func (p *Path) AddInstance32(instanceID uint32) {
	if instanceID <= 0xFF {
		*p = append(*p, SegmentTypeLogical|LogicalTypeInstance|LogicalFormat8Bit)
		*p = append(*p, byte(instanceID))
	} else if instanceID <= 0xFFFF {
		*p = append(*p, SegmentTypeLogical|LogicalTypeInstance|LogicalFormat16Bit)
		*p = append(*p, 0x00) // Pad
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(instanceID))
		*p = append(*p, b...)
	} else {
		*p = append(*p, SegmentTypeLogical|LogicalTypeInstance|LogicalFormat32Bit)
		*p = append(*p, 0x00) // Pad
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, instanceID)
		*p = append(*p, b...)
	}
}

// AddAttribute adds an Attribute segment to the path
func (p *Path) AddAttribute(attributeID UINT) {
	if attributeID <= 0xFF {
		*p = append(*p, SegmentTypeLogical|LogicalTypeAttribute|LogicalFormat8Bit)
		*p = append(*p, byte(attributeID))
	} else {
		*p = append(*p, SegmentTypeLogical|LogicalTypeAttribute|LogicalFormat16Bit)
		*p = append(*p, 0x00) // Pad
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(attributeID))
		*p = append(*p, b...)
	}
}

// AddMember adds a Member segment to the path
func (p *Path) AddMember(memberID UINT) {
	if memberID <= 0xFF {
		*p = append(*p, SegmentTypeLogical|LogicalTypeMember|LogicalFormat8Bit)
		*p = append(*p, byte(memberID))
	} else {
		*p = append(*p, SegmentTypeLogical|LogicalTypeMember|LogicalFormat16Bit)
		*p = append(*p, 0x00) // Pad
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(memberID))
		*p = append(*p, b...)
	}
}

// AddSymbolicSegment adds a Symbolic segment (ANSI Extended Symbol)
func (p *Path) AddSymbolicSegment(symbol string) {
	*p = append(*p, 0x91) // Extended Symbol Segment (Data Segment 0x80 | 0x11)
	l := len(symbol)
	*p = append(*p, byte(l))
	*p = append(*p, []byte(symbol)...)
	if l%2 != 0 {
		*p = append(*p, 0x00) // Pad to even length
	}
}

// AddPortSegment adds a Port segment
func (p *Path) AddPortSegment(port UINT, linkAddress []byte) {
	// Simple port segment: 000xxxxx where xxxxx is port number if < 15
	// If port >= 15, then 00001111 followed by extended port
	// For now, assume port < 15 and link address is simple
	if port < 15 {
		b := SegmentTypePort | byte(port)
		if len(linkAddress) > 1 {
			b |= 0x10 // Link Address Size bit (0 = 1 byte, 1 = >1 byte)
			// Actually, if Link Address is > 1 byte, we need to add the length byte
			// If Link Address is 1 byte, we just append it.
			// Let's implement the simple case: Port < 15, Link Address 1 byte (e.g. Backplane slot)
		}
		*p = append(*p, b)
		*p = append(*p, linkAddress...)
		if len(linkAddress)%2 == 0 {
			// Port segment must be even length?
			// "The Port Segment shall be padded to a 16-bit boundary if necessary."
			// 1 byte segment + 1 byte link address = 2 bytes (OK)
			// 1 byte segment + 2 byte link address = 3 bytes -> Pad to 4
		}
	} else {
		// Extended port not implemented yet
		panic("Extended port segments not implemented")
	}
}

// Bytes returns the byte slice of the path
func (p Path) Bytes() []byte {
	return []byte(p)
}

// LenWords returns the length in words (16-bit), rounding an odd byte count up
func (p Path) LenWords() byte {
	return byte((len(p) + 1) / 2)
}

// String returns a string representation of the path
func (p Path) String() string {
	return fmt.Sprintf("%X", []byte(p))
}

// BuildPath creates a standard Class/Instance/Attribute path
func BuildPath(classID, instanceID, attributeID UINT) Path {
	p := NewPath()
	p.AddClass(classID)
	p.AddInstance(instanceID)
	if attributeID != 0 {
		p.AddAttribute(attributeID)
	}
	return p
}

// EncodeError is returned by the EPATH compiler when a tag-string
// segment can't be represented (spec.md §4.2).
type EncodeError struct {
	Input  string
	Reason string
}

func (e EncodeError) Error() string {
	return fmt.Sprintf("cip: cannot encode EPATH %q: %s", e.Input, e.Reason)
}

// AddElementIndex adds a numeric element-id (array index) segment,
// choosing the smallest encoding that fits per spec.md §4.2:
// 0x28 b for 0..255, 0x29 00 ww for 256..65535, 0x2A 00 dddd for
// 17-bit..32-bit values.
func (p *Path) AddElementIndex(index uint32) error {
	switch {
	case index <= 0xFF:
		*p = append(*p, 0x28, byte(index))
	case index <= 0xFFFF:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(index))
		*p = append(*p, 0x29, 0x00)
		*p = append(*p, b...)
	default:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, index)
		*p = append(*p, 0x2A, 0x00)
		*p = append(*p, b...)
	}
	return nil
}

// addInstanceLogical16 always emits the 16-bit instance-logical segment
// form (0x25 0x00 ii ii), regardless of how small instanceID is. This is
// the literal encoding spec.md §4.2's firmware >= v21 shortcut requires,
// unlike AddInstance32 which picks the narrowest format for the value.
func (p *Path) addInstanceLogical16(instanceID uint32) {
	*p = append(*p, SegmentTypeLogical|LogicalTypeInstance|LogicalFormat16Bit)
	*p = append(*p, 0x00) // Pad
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(instanceID))
	*p = append(*p, b...)
}

// tagSegment is one dot-separated piece of a tag-path string, split into
// its name and (possibly multi-dimensional) numeric indices.
type tagSegment struct {
	name    string
	indices []uint32
}

// parseTagSegments splits a tag-path string on '.' and extracts each
// segment's optional [i] / [i,j] / [i,j,k] indices.
func parseTagSegments(tagString string) ([]tagSegment, error) {
	if tagString == "" {
		return nil, EncodeError{Input: tagString, Reason: "empty tag path"}
	}

	parts := strings.Split(tagString, ".")
	segs := make([]tagSegment, 0, len(parts))
	for _, part := range parts {
		seg := tagSegment{}
		name := part
		if br := strings.IndexByte(part, '['); br >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, EncodeError{Input: tagString, Reason: "unterminated index bracket"}
			}
			name = part[:br]
			inner := part[br+1 : len(part)-1]
			for _, tok := range strings.Split(inner, ",") {
				tok = strings.TrimSpace(tok)
				n, err := strconv.ParseUint(tok, 10, 32)
				if err != nil {
					return nil, EncodeError{Input: tagString, Reason: "non-numeric array index " + tok}
				}
				seg.indices = append(seg.indices, uint32(n))
			}
		}
		seg.name = name
		segs = append(segs, seg)
	}
	return segs, nil
}

// CompileTagPath compiles a tag-path string such as
// "Program:Main.Tank[3,2].Level.5" into CIP EPATH bytes (spec.md §4.2).
// The final "bit of an atomic integer" segment (a bare numeric segment
// with no brackets, e.g. ".5") is not itself encoded as a path element:
// callers should strip it before calling CompileTagPath and handle the
// bit index separately, as the planner does.
//
// When multi is true the returned bytes are prefixed with the
// length-in-words byte, suitable for inlining directly into a
// hand-assembled Multiple Service Packet sub-request; when false the
// bare path bytes are returned and the caller (typically
// MessageRouterRequest.Encode) is responsible for the length prefix.
func CompileTagPath(tagString string, multi bool) ([]byte, error) {
	segs, err := parseTagSegments(tagString)
	if err != nil {
		return nil, err
	}

	p := NewPath()
	for _, seg := range segs {
		if seg.name != "" {
			p.AddSymbolicSegment(seg.name)
		}
		for _, idx := range seg.indices {
			if err := p.AddElementIndex(idx); err != nil {
				return nil, err
			}
		}
	}

	if !multi {
		return p.Bytes(), nil
	}

	out := make([]byte, 0, 1+len(p))
	out = append(out, p.LenWords())
	out = append(out, p.Bytes()...)
	return out, nil
}

// CompileTagPathShortcut compiles tagString like CompileTagPath, but
// replaces the base segment's symbolic encoding with the firmware >= v21
// instance-id logical-segment shortcut (spec.md §4.2): class = Symbol
// Object (0x6B), 16-bit instance segment for instanceID. Segments after
// the base (members, array indices) are still compiled symbolically.
// Falls back to plain CompileTagPath when instanceID does not fit the
// shortcut's 16-bit instance form.
func CompileTagPathShortcut(tagString string, instanceID uint32, multi bool) ([]byte, error) {
	if instanceID > 0xFFFF {
		return CompileTagPath(tagString, multi)
	}

	segs, err := parseTagSegments(tagString)
	if err != nil {
		return nil, err
	}

	p := NewPath()
	p.AddClass(ClassSymbol)
	p.addInstanceLogical16(instanceID)
	for _, idx := range segs[0].indices {
		if err := p.AddElementIndex(idx); err != nil {
			return nil, err
		}
	}
	for _, seg := range segs[1:] {
		if seg.name != "" {
			p.AddSymbolicSegment(seg.name)
		}
		for _, idx := range seg.indices {
			if err := p.AddElementIndex(idx); err != nil {
				return nil, err
			}
		}
	}

	if !multi {
		return p.Bytes(), nil
	}
	out := make([]byte, 0, 1+len(p))
	out = append(out, p.LenWords())
	out = append(out, p.Bytes()...)
	return out, nil
}
