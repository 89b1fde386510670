package catalog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/iceisfun/goeip/pkg/cip"
)

// templateMemberInfoLen is the fixed-width per-member record
// ({type_info:u16, type:u16, offset:u32}) in the Read Template payload.
const templateMemberInfoLen = 8

// structureMakeupAttrs is the Get Attributes List attribute set used to
// fetch a template's makeup (object definition size, structure size,
// member count, structure handle).
var structureMakeupAttrs = []cip.UINT{4, 5, 2, 1}

// ResolveUDT returns the cached UDT for instanceID, fetching and
// recursively resolving it (with memoization to guard against
// self-referential templates) if not already cached.
func (c *Catalog) ResolveUDT(instanceID uint32) (*UDT, error) {
	if u, ok := c.cachedUDT(instanceID); ok {
		return u, nil
	}

	// Reserve a placeholder before recursing so a cyclic member
	// reference resolves to the in-progress UDT instead of looping.
	placeholder := &UDT{InstanceID: instanceID}
	c.storeUDT(placeholder)

	makeup, err := c.readStructureMakeup(instanceID)
	if err != nil {
		return nil, err
	}

	raw, err := c.readTemplateBytes(instanceID, makeup.ObjectDefinitionSize)
	if err != nil {
		return nil, err
	}

	udt, err := c.parseTemplate(raw, makeup)
	if err != nil {
		return nil, err
	}
	c.storeUDT(udt)
	return udt, nil
}

func (c *Catalog) readStructureMakeup(instanceID uint32) (*UDT, error) {
	path := cip.NewPath()
	path.AddClass(cip.ClassTemplate)
	path.AddInstance32(instanceID)

	req := cip.NewGetAttributeSingleRequest(path)
	req.Service = cip.ServiceGetAttributeList
	req.RequestData = attributeListRequestData(structureMakeupAttrs)

	resp, err := c.req.SendCIPRequest(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: get template attributes: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("catalog: get template attributes: %w", resp.Error())
	}

	u, err := parseStructureMakeup(resp.ResponseData)
	if err != nil {
		return nil, err
	}
	u.InstanceID = instanceID
	return u, nil
}

func attributeListRequestData(attrs []cip.UINT) []byte {
	data := make([]byte, 2+2*len(attrs))
	binary.LittleEndian.PutUint16(data[0:2], uint16(len(attrs)))
	for i, a := range attrs {
		binary.LittleEndian.PutUint16(data[2+2*i:4+2*i], uint16(a))
	}
	return data
}

// parseStructureMakeup decodes a Get Attributes List reply body
// ({count:u16} then per-attribute {id:u16, status:u16, value}) for
// attributes {4: object_definition_size(DINT), 5: structure_size(DINT),
// 2: member_count(UINT), 1: structure_handle(UINT)}, in that order.
func parseStructureMakeup(data []byte) (*UDT, error) {
	if len(data) < 2 {
		return nil, cip.Error{Status: cip.StatusNotEnoughData}
	}
	idx := 2 // skip attribute count

	readAttr := func(width int) (uint32, error) {
		if idx+4 > len(data) {
			return 0, cip.Error{Status: cip.StatusNotEnoughData}
		}
		idx += 2 // attribute id
		status := binary.LittleEndian.Uint16(data[idx : idx+2])
		idx += 2
		if status != uint16(cip.StatusSuccess) {
			return 0, fmt.Errorf("catalog: template attribute status 0x%04X", status)
		}
		if idx+width > len(data) {
			return 0, cip.Error{Status: cip.StatusNotEnoughData}
		}
		var v uint32
		switch width {
		case 2:
			v = uint32(binary.LittleEndian.Uint16(data[idx : idx+2]))
		case 4:
			v = binary.LittleEndian.Uint32(data[idx : idx+4])
		}
		idx += width
		return v, nil
	}

	objDefSize, err := readAttr(4)
	if err != nil {
		return nil, fmt.Errorf("object_definition_size: %w", err)
	}
	structSize, err := readAttr(4)
	if err != nil {
		return nil, fmt.Errorf("structure_size: %w", err)
	}
	memberCount, err := readAttr(2)
	if err != nil {
		return nil, fmt.Errorf("member_count: %w", err)
	}
	structHandle, err := readAttr(2)
	if err != nil {
		return nil, fmt.Errorf("structure_handle: %w", err)
	}

	return &UDT{
		ObjectDefinitionSize: objDefSize,
		StructureSize:        structSize,
		MemberCount:          uint16(memberCount),
		StructureHandle:      uint16(structHandle),
	}, nil
}

// readTemplateBytes performs the paged Read Template loop (spec.md
// §4.4), continuing while the reply status is "partial transfer".
func (c *Catalog) readTemplateBytes(instanceID uint32, objDefSize uint32) ([]byte, error) {
	path := cip.NewPath()
	path.AddClass(cip.ClassTemplate)
	path.AddInstance32(instanceID)

	total := (objDefSize * 4) - 21
	var raw []byte
	offset := uint32(0)

	for {
		remaining := total - offset
		if remaining > 0xFFFF {
			remaining = 0xFFFF
		}
		req := cip.NewReadTemplateRequest(path, offset, uint16(remaining))
		resp, err := c.req.SendCIPRequest(req)
		if err != nil {
			return nil, fmt.Errorf("catalog: read template: %w", err)
		}
		if resp.GeneralStatus != cip.StatusSuccess && resp.GeneralStatus != cip.StatusPartialTransfer {
			return nil, fmt.Errorf("catalog: read template: %w", resp.Error())
		}

		raw = append(raw, resp.ResponseData...)
		if resp.GeneralStatus == cip.StatusSuccess {
			break
		}
		offset += uint32(len(resp.ResponseData))
	}

	return raw, nil
}

// parseTemplate decodes the assembled Read Template payload into member
// records and names (spec.md §4.4), recursively resolving nested struct
// members.
func (c *Catalog) parseTemplate(data []byte, makeup *UDT) (*UDT, error) {
	infoLen := int(makeup.MemberCount) * templateMemberInfoLen
	if infoLen > len(data) {
		return nil, fmt.Errorf("catalog: template data too short for %d members", makeup.MemberCount)
	}

	type rawMember struct {
		typeInfo uint16
		typ      uint16
		offset   uint32
	}
	raws := make([]rawMember, makeup.MemberCount)
	for i := 0; i < int(makeup.MemberCount); i++ {
		rec := data[i*templateMemberInfoLen : (i+1)*templateMemberInfoLen]
		raws[i] = rawMember{
			typeInfo: binary.LittleEndian.Uint16(rec[0:2]),
			typ:      binary.LittleEndian.Uint16(rec[2:4]),
			offset:   binary.LittleEndian.Uint32(rec[4:8]),
		}
	}

	var templateName string
	var names []string
	for _, part := range bytes.Split(data[infoLen:], []byte{0}) {
		if len(part) == 0 {
			continue
		}
		s := string(part)
		if templateName == "" {
			if i := strings.IndexByte(s, ';'); i >= 0 {
				templateName = s[:i]
				continue
			}
		}
		names = append(names, s)
	}

	predefined := templateName == ""
	if predefined && len(names) > 0 {
		templateName = names[0]
		names = names[1:]
	}
	if templateName == "ASCIISTRING82" {
		templateName = "STRING"
	}

	members := make([]Member, len(raws))
	for i, r := range raws {
		name := ""
		if i < len(names) {
			name = names[i]
		}

		m := Member{Name: name, Offset: r.offset, BitPos: -1}
		dt, templateID, isStruct := decodeMemberType(r.typ)
		if isStruct {
			m.Type = cip.TypeSTRUCT
			m.TemplateID = templateID
			if _, err := c.ResolveUDT(templateID); err != nil {
				return nil, fmt.Errorf("catalog: resolve nested UDT %d: %w", templateID, err)
			}
		} else {
			m.Type = dt
			if dt.Base() == cip.TypeBOOL {
				m.BitPos = int(r.typeInfo)
			} else {
				m.ArrayDim = uint32(r.typeInfo)
			}
		}
		members[i] = m
	}

	u := &UDT{
		Name:                 templateName,
		InstanceID:           makeup.InstanceID,
		ObjectDefinitionSize: makeup.ObjectDefinitionSize,
		StructureSize:        makeup.StructureSize,
		MemberCount:          makeup.MemberCount,
		StructureHandle:      makeup.StructureHandle,
		Members:              members,
	}

	if len(members) == 2 && members[0].Name == "LEN" && members[1].Name == "DATA" &&
		members[1].Type.Base() == cip.TypeSINT && members[1].ArrayDim > 0 {
		u.StringCapacity = int(members[1].ArrayDim)
	}

	return u, nil
}

// decodeMemberType resolves a raw member type word: atomic types are
// returned directly; otherwise the low 12 bits are tried as an atomic
// code and finally treated as a nested template instance id (spec.md
// §4.4, grounded on pycomm3's _parse_template_data_member_info).
func decodeMemberType(typ uint16) (dt cip.DataType, templateInstanceID uint32, isStruct bool) {
	if cip.KnownAtomicType(cip.DataType(typ)) {
		return cip.DataType(typ), 0, false
	}
	masked := cip.DataType(typ & 0x0FFF)
	if cip.KnownAtomicType(masked) {
		return masked, 0, false
	}
	return 0, uint32(typ & 0x0FFF), true
}
