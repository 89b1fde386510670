package plcsim

import (
	"encoding/binary"
	"fmt"

	"github.com/iceisfun/goeip/pkg/cip"
)

// UDTMemberDef describes one member of a simulated user-defined type.
// Set Type to 0 and TemplateID to a registered UDT's instance id to
// nest a struct member; otherwise Type names the atomic CIP type.
type UDTMemberDef struct {
	Name       string
	Type       cip.DataType
	TemplateID uint32
	ArrayDim   uint32
	BitPos     int
}

// UDTDef is the input to Controller.AddUDT.
type UDTDef struct {
	Name    string
	Members []UDTMemberDef
}

// simTemplate is a precomputed Template Object instance: the structure
// makeup attributes plus the exact byte payload Read Template pages out,
// built to satisfy pkg/catalog's parseTemplate/parseStructureMakeup
// decoding (member records, then a "name;suffix" string, then each
// member name, all null-terminated).
type simTemplate struct {
	instanceID      uint32
	structureHandle uint16
	structureSize   uint32
	objDefSize      uint32
	memberCount     uint16
	raw             []byte
}

func buildSimTemplate(instanceID uint32, def UDTDef) *simTemplate {
	type rawMember struct {
		typeInfo uint16
		typ      uint16
		offset   uint32
	}

	raws := make([]rawMember, len(def.Members))
	offset := uint32(0)
	for i, m := range def.Members {
		var typ uint16
		var typeInfo uint16
		var size uint32

		if m.Type == 0 {
			typ = uint16(m.TemplateID & 0x0FFF) // isStruct: decodeMemberType treats non-atomic low-12-bits as a template id
			size = 4
		} else {
			typ = uint16(m.Type)
			size = uint32(cip.DataFunctionSize[m.Type.Base()])
			if m.Type.Base() == cip.TypeBOOL {
				typeInfo = uint16(m.BitPos)
			} else {
				typeInfo = uint16(m.ArrayDim)
			}
		}

		raws[i] = rawMember{typeInfo: typeInfo, typ: typ, offset: offset}
		offset += size
	}
	structureSize := offset

	buf := make([]byte, 0, len(raws)*templateMemberInfoLen+64)
	for _, r := range raws {
		buf = appendUint16(buf, r.typeInfo)
		buf = appendUint16(buf, r.typ)
		buf = appendUint32(buf, r.offset)
	}

	buf = append(buf, []byte(fmt.Sprintf("%s;n%d", def.Name, instanceID))...)
	buf = append(buf, 0)
	for _, m := range def.Members {
		buf = append(buf, []byte(m.Name)...)
		buf = append(buf, 0)
	}

	// objDefSize must satisfy total = objDefSize*4 - 21 == len(buf); pad
	// with trailing zero bytes so the arithmetic always lands evenly.
	objDefSize := (uint32(len(buf)) + 21 + 3) / 4
	total := objDefSize*4 - 21
	if total > uint32(len(buf)) {
		buf = append(buf, make([]byte, total-uint32(len(buf)))...)
	}

	return &simTemplate{
		instanceID:      instanceID,
		structureHandle: uint16(instanceID),
		structureSize:   structureSize,
		objDefSize:      objDefSize,
		memberCount:     uint16(len(def.Members)),
		raw:             buf,
	}
}

const templateMemberInfoLen = 8

// templateObject implements cip.Object for the Template Object (class
// 0x6C): Get Attributes List for structure makeup, and Read Template
// (Read Tag's service code, 0x4C, applied to this class) for the paged
// member/name payload.
type templateObject struct {
	ctrl *Controller
}

func newTemplateObject(ctrl *Controller) *templateObject {
	return &templateObject{ctrl: ctrl}
}

func (t *templateObject) HandleRequest(service cip.USINT, path cip.Path, data []byte) ([]byte, error) {
	instanceID, err := decodeInstanceSegment(path.Bytes())
	if err != nil {
		return nil, cip.Error{Status: cip.StatusPathSegmentError}
	}

	t.ctrl.mu.Lock()
	tmpl, ok := t.ctrl.udts[instanceID]
	t.ctrl.mu.Unlock()
	if !ok {
		return nil, cip.Error{Status: cip.StatusObjectDoesNotExist}
	}

	// ServiceReadTemplate is intercepted by dispatchRequest before it
	// ever reaches cip.MessageRouter.Dispatch, since a paged reply needs
	// to carry StatusPartialTransfer; see dispatchReadTemplate.
	switch service {
	case cip.ServiceGetAttributeList:
		return t.handleStructureMakeup(tmpl, data)
	}
	return nil, cip.Error{Status: cip.StatusServiceNotSupported}
}

// handleStructureMakeup answers Get Attributes List for attrs
// [4,5,2,1] in request order: object_definition_size(u32),
// structure_size(u32), member_count(u16), structure_handle(u16), each
// framed as {id:u16}{status:u16}{value}.
func (t *templateObject) handleStructureMakeup(tmpl *simTemplate, data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, cip.Error{Status: cip.StatusNotEnoughData}
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	ids := make([]uint16, count)
	for i := 0; i < count; i++ {
		o := 2 + 2*i
		if o+2 > len(data) {
			return nil, cip.Error{Status: cip.StatusNotEnoughData}
		}
		ids[i] = binary.LittleEndian.Uint16(data[o : o+2])
	}

	buf := appendUint16(nil, uint16(count))
	for _, id := range ids {
		buf = appendUint16(buf, id)
		buf = appendUint16(buf, uint16(cip.StatusSuccess))
		switch id {
		case 4:
			buf = appendUint32(buf, tmpl.objDefSize)
		case 5:
			buf = appendUint32(buf, tmpl.structureSize)
		case 2:
			buf = appendUint16(buf, tmpl.memberCount)
		case 1:
			buf = appendUint16(buf, tmpl.structureHandle)
		default:
			return nil, cip.Error{Status: cip.StatusAttributeNotSupported}
		}
	}
	return buf, nil
}

// handleReadTemplate answers Read Template: RequestData is
// Offset(u32), Length(u16); it returns the raw chunk and the number of
// bytes remaining after it. Its caller, dispatchReadTemplate, turns a
// non-zero remainder into StatusPartialTransfer.
func (t *templateObject) handleReadTemplate(tmpl *simTemplate, data []byte) ([]byte, int, error) {
	if len(data) < 6 {
		return nil, 0, cip.Error{Status: cip.StatusNotEnoughData}
	}
	offset := binary.LittleEndian.Uint32(data[0:4])
	length := binary.LittleEndian.Uint16(data[4:6])

	if int(offset) > len(tmpl.raw) {
		return nil, 0, cip.Error{Status: cip.StatusPathDestinationUnknown}
	}
	end := int(offset) + int(length)
	if end > len(tmpl.raw) {
		end = len(tmpl.raw)
	}
	return tmpl.raw[offset:end], len(tmpl.raw) - end, nil
}

// dispatchReadTemplate handles Read Template directly (bypassing
// cip.MessageRouter.Dispatch), so a paged reply can carry
// StatusPartialTransfer the same way Read Tag Fragmented does.
func (t *templateObject) dispatchReadTemplate(req *cip.MessageRouterRequest) *cip.MessageRouterResponse {
	path := req.RequestPath.Bytes()
	if len(path) == 0 {
		return errorResponse(req.Service, cip.StatusPathSegmentError, fmt.Errorf("plcsim: empty path"))
	}
	var rest []byte
	switch path[0] {
	case 0x20:
		rest = path[2:]
	case 0x21:
		rest = path[4:]
	default:
		return errorResponse(req.Service, cip.StatusPathSegmentError, fmt.Errorf("plcsim: expected class segment"))
	}

	instanceID, err := decodeInstanceSegment(rest)
	if err != nil {
		return errorResponse(req.Service, cip.StatusPathSegmentError, err)
	}

	t.ctrl.mu.Lock()
	tmpl, ok := t.ctrl.udts[instanceID]
	t.ctrl.mu.Unlock()
	if !ok {
		return errorResponse(req.Service, cip.StatusObjectDoesNotExist, fmt.Errorf("plcsim: unknown template %d", instanceID))
	}

	chunk, remaining, err := t.handleReadTemplate(tmpl, req.RequestData)
	if err != nil {
		if cipErr, ok := err.(cip.Error); ok {
			return &cip.MessageRouterResponse{Service: req.Service | 0x80, GeneralStatus: cipErr.Status}
		}
		return errorResponse(req.Service, cip.StatusServiceNotSupported, err)
	}

	status := cip.USINT(cip.StatusSuccess)
	if remaining > 0 {
		status = cip.StatusPartialTransfer
	}
	return &cip.MessageRouterResponse{Service: req.Service | 0x80, GeneralStatus: status, ResponseData: chunk}
}

// decodeInstanceSegment reads a single 8/16/32-bit logical instance
// segment from the remainder of a path after its class segment has
// been stripped by cip.MessageRouter.
func decodeInstanceSegment(path []byte) (uint32, error) {
	if len(path) == 0 {
		return 0, fmt.Errorf("plcsim: missing instance segment")
	}
	switch path[0] {
	case 0x24:
		if len(path) < 2 {
			return 0, fmt.Errorf("plcsim: truncated instance segment")
		}
		return uint32(path[1]), nil
	case 0x25:
		if len(path) < 4 {
			return 0, fmt.Errorf("plcsim: truncated instance segment")
		}
		return uint32(binary.LittleEndian.Uint16(path[2:4])), nil
	case 0x26:
		if len(path) < 6 {
			return 0, fmt.Errorf("plcsim: truncated instance segment")
		}
		return binary.LittleEndian.Uint32(path[2:6]), nil
	default:
		return 0, fmt.Errorf("plcsim: expected instance segment, got 0x%02X", path[0])
	}
}
