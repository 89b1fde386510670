package catalog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/iceisfun/goeip/pkg/cip"
)

func TestDecodeMemberType(t *testing.T) {
	tests := []struct {
		name       string
		typ        uint16
		wantDT     cip.DataType
		wantTmplID uint32
		wantStruct bool
	}{
		{"atomic DINT", uint16(cip.TypeDINT), cip.TypeDINT, 0, false},
		{"atomic BOOL with bit position in type_info, not type", uint16(cip.TypeBOOL), cip.TypeBOOL, 0, false},
		{"nested UDT instance 500", 500, 0, 500, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt, tmplID, isStruct := decodeMemberType(tt.typ)
			if isStruct != tt.wantStruct {
				t.Fatalf("isStruct = %v, want %v", isStruct, tt.wantStruct)
			}
			if isStruct {
				if tmplID != tt.wantTmplID {
					t.Errorf("templateInstanceID = %d, want %d", tmplID, tt.wantTmplID)
				}
				return
			}
			if dt != tt.wantDT {
				t.Errorf("dt = %#x, want %#x", dt, tt.wantDT)
			}
		})
	}
}

func encodeStructureMakeupReply(objDefSize, structSize uint32, memberCount, structHandle uint16) []byte {
	var buf bytes.Buffer
	var u16 [2]byte
	var u32 [4]byte

	binary.LittleEndian.PutUint16(u16[:], 4) // attribute count
	buf.Write(u16[:])

	writeAttr := func(id uint16, width int, v uint32) {
		binary.LittleEndian.PutUint16(u16[:], id)
		buf.Write(u16[:])
		binary.LittleEndian.PutUint16(u16[:], uint16(cip.StatusSuccess))
		buf.Write(u16[:])
		if width == 2 {
			binary.LittleEndian.PutUint16(u16[:], uint16(v))
			buf.Write(u16[:])
		} else {
			binary.LittleEndian.PutUint32(u32[:], v)
			buf.Write(u32[:])
		}
	}
	writeAttr(4, 4, objDefSize)
	writeAttr(5, 4, structSize)
	writeAttr(2, 2, uint32(memberCount))
	writeAttr(1, 2, uint32(structHandle))
	return buf.Bytes()
}

func TestParseStructureMakeup(t *testing.T) {
	data := encodeStructureMakeupReply(10, 37, 3, 0x1234)
	u, err := parseStructureMakeup(data)
	if err != nil {
		t.Fatalf("parseStructureMakeup() error = %v", err)
	}
	if u.ObjectDefinitionSize != 10 || u.StructureSize != 37 || u.MemberCount != 3 || u.StructureHandle != 0x1234 {
		t.Errorf("got %+v", u)
	}
}

func TestParseStructureMakeupBadStatus(t *testing.T) {
	data := encodeStructureMakeupReply(10, 37, 3, 0x1234)
	// corrupt the first attribute's status word (offset 2 = id, 4 = status)
	data[4] = 0x09
	data[5] = 0x00
	if _, err := parseStructureMakeup(data); err == nil {
		t.Fatalf("expected error for non-success attribute status")
	}
}

func TestParseStructureMakeupTruncated(t *testing.T) {
	if _, err := parseStructureMakeup([]byte{0x01}); err == nil {
		t.Fatalf("expected error for truncated input")
	}
}

// encodeTemplateBody builds the Read Template payload: fixed member
// records (type_info, type, offset) followed by an internal template
// name and member name string table, each entry null-terminated.
func encodeTemplateBody(members []rawTemplateMember, templateName string, memberNames []string) []byte {
	var buf bytes.Buffer
	var u16 [2]byte
	var u32 [4]byte
	for _, m := range members {
		binary.LittleEndian.PutUint16(u16[:], m.typeInfo)
		buf.Write(u16[:])
		binary.LittleEndian.PutUint16(u16[:], m.typ)
		buf.Write(u16[:])
		binary.LittleEndian.PutUint32(u32[:], m.offset)
		buf.Write(u32[:])
	}
	buf.WriteString(templateName)
	buf.WriteByte(';')
	buf.WriteString("n1")
	buf.WriteByte(0)
	for _, n := range memberNames {
		buf.WriteString(n)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

type rawTemplateMember struct {
	typeInfo uint16
	typ      uint16
	offset   uint32
}

func TestParseTemplateSimpleUDT(t *testing.T) {
	members := []rawTemplateMember{
		{typeInfo: 0, typ: uint16(cip.TypeDINT), offset: 0},
		{typeInfo: 0, typ: uint16(cip.TypeREAL), offset: 4},
	}
	data := encodeTemplateBody(members, "MyUDT", []string{"Count", "Ratio"})

	c := New(nil)
	makeup := &UDT{InstanceID: 1, ObjectDefinitionSize: 5, StructureSize: 8, MemberCount: 2}
	udt, err := c.parseTemplate(data, makeup)
	if err != nil {
		t.Fatalf("parseTemplate() error = %v", err)
	}
	if udt.Name != "MyUDT" {
		t.Errorf("Name = %q, want MyUDT", udt.Name)
	}
	if len(udt.Members) != 2 {
		t.Fatalf("len(Members) = %d, want 2", len(udt.Members))
	}
	if udt.Members[0].Name != "Count" || udt.Members[0].Type != cip.TypeDINT {
		t.Errorf("Members[0] = %+v", udt.Members[0])
	}
	if udt.Members[1].Name != "Ratio" || udt.Members[1].Type != cip.TypeREAL || udt.Members[1].Offset != 4 {
		t.Errorf("Members[1] = %+v", udt.Members[1])
	}
}

func TestParseTemplateStringConvention(t *testing.T) {
	members := []rawTemplateMember{
		{typeInfo: 0, typ: uint16(cip.TypeDINT), offset: 0},
		{typeInfo: 82, typ: uint16(cip.TypeSINT), offset: 4},
	}
	data := encodeTemplateBody(members, "ASCIISTRING82", []string{"LEN", "DATA"})

	c := New(nil)
	makeup := &UDT{InstanceID: 1, ObjectDefinitionSize: 22, StructureSize: 88, MemberCount: 2}
	udt, err := c.parseTemplate(data, makeup)
	if err != nil {
		t.Fatalf("parseTemplate() error = %v", err)
	}
	if udt.Name != "STRING" {
		t.Errorf("Name = %q, want STRING", udt.Name)
	}
	if udt.StringCapacity != 82 {
		t.Errorf("StringCapacity = %d, want 82", udt.StringCapacity)
	}
}

func TestParseTemplateTooShort(t *testing.T) {
	c := New(nil)
	makeup := &UDT{InstanceID: 1, MemberCount: 5}
	if _, err := c.parseTemplate([]byte{0, 1, 2}, makeup); err == nil {
		t.Fatalf("expected error when data shorter than member records")
	}
}

// fakeTemplateRequester answers Get Attributes List (structure makeup)
// and Read Template requests for a small set of canned instances,
// keyed by the 8-bit instance segment trailing the request path.
type fakeTemplateRequester struct {
	makeups   map[uint32][]byte
	templates map[uint32][]byte
}

func (f *fakeTemplateRequester) SendCIPRequest(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	path := req.RequestPath.Bytes()
	instanceID := uint32(path[len(path)-1])

	switch req.Service {
	case cip.ServiceGetAttributeList:
		return &cip.MessageRouterResponse{GeneralStatus: cip.StatusSuccess, ResponseData: f.makeups[instanceID]}, nil
	case cip.ServiceReadTemplate:
		return &cip.MessageRouterResponse{GeneralStatus: cip.StatusSuccess, ResponseData: f.templates[instanceID]}, nil
	default:
		return nil, fmt.Errorf("fakeTemplateRequester: unexpected service %#x", req.Service)
	}
}

func TestResolveUDTNestedAndCached(t *testing.T) {
	inner := []rawTemplateMember{{typeInfo: 0, typ: uint16(cip.TypeDINT), offset: 0}}
	innerData := encodeTemplateBody(inner, "Inner", []string{"Value"})

	outer := []rawTemplateMember{
		{typeInfo: 0, typ: uint16(cip.TypeDINT), offset: 0},
		{typeInfo: 0, typ: 2, offset: 4}, // nested UDT instance 2 ("Inner")
	}
	outerData := encodeTemplateBody(outer, "Outer", []string{"Count", "Nested"})

	fake := &fakeTemplateRequester{
		makeups: map[uint32][]byte{
			1: encodeStructureMakeupReply(uint32(len(outerData)+21)/4, 8, 2, 0x10),
			2: encodeStructureMakeupReply(uint32(len(innerData)+21)/4, 4, 1, 0x20),
		},
		templates: map[uint32][]byte{
			1: outerData,
			2: innerData,
		},
	}

	c := New(fake)
	udt, err := c.ResolveUDT(1)
	if err != nil {
		t.Fatalf("ResolveUDT(1) error = %v", err)
	}
	if udt.Name != "Outer" || len(udt.Members) != 2 {
		t.Fatalf("got %+v", udt)
	}
	if udt.Members[1].TemplateID != 2 {
		t.Fatalf("Members[1].TemplateID = %d, want 2", udt.Members[1].TemplateID)
	}

	nested, ok := c.UDTByInstance(2)
	if !ok || nested.Name != "Inner" {
		t.Fatalf("nested UDT not cached: %+v, ok=%v", nested, ok)
	}

	// Second resolve must hit the cache rather than calling the fake
	// requester again for instance 1.
	delete(fake.templates, 1)
	if _, err := c.ResolveUDT(1); err != nil {
		t.Fatalf("ResolveUDT(1) from cache error = %v", err)
	}
}
