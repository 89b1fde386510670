package cip

import (
	"encoding/binary"
)

// Logix-specific service codes (spec.md §6) not covered by the common
// CIP service table in types.go.
const (
	ServiceReadTag             USINT = 0x4C
	ServiceWriteTag            USINT = 0x4D
	ServiceReadTagFragmented   USINT = 0x52
	ServiceWriteTagFragmented  USINT = 0x53
	ServiceReadModifyWriteTag  USINT = 0xCE
	ServiceGetInstanceAttrList USINT = 0x55
	ServiceReadTemplate        USINT = 0x4C // Template Object applies ReadTag's code to itself
	ServiceForwardOpen         USINT = 0x54
	ServiceLargeForwardOpen    USINT = 0x5B
	ServiceForwardClose        USINT = 0x4E
)

// NewGetAttributeSingleRequest creates a request to read a single attribute.
func NewGetAttributeSingleRequest(path Path) *MessageRouterRequest {
	return &MessageRouterRequest{
		Service:     ServiceGetAttributeSingle,
		RequestPath: path,
		RequestData: nil,
	}
}

// NewSetAttributeSingleRequest creates a request to write a single attribute.
func NewSetAttributeSingleRequest(path Path, data []byte) *MessageRouterRequest {
	return &MessageRouterRequest{
		Service:     ServiceSetAttributeSingle,
		RequestPath: path,
		RequestData: data,
	}
}

// NewReadTagRequest builds a Read Tag (0x4C) request for the given
// number of elements.
func NewReadTagRequest(tagPath Path, elements uint16) *MessageRouterRequest {
	reqData := make([]byte, 2)
	binary.LittleEndian.PutUint16(reqData, elements)

	return &MessageRouterRequest{
		Service:     ServiceReadTag,
		RequestPath: tagPath,
		RequestData: reqData,
	}
}

// NewWriteTagRequest builds a Write Tag (0x4D) request. dataType is the
// CIP data type code written ahead of the value bytes, as required by
// the Write Tag service.
func NewWriteTagRequest(tagPath Path, dataType DataType, elements uint16, value []byte) *MessageRouterRequest {
	reqData := make([]byte, 4+len(value))
	binary.LittleEndian.PutUint16(reqData[0:2], uint16(dataType))
	binary.LittleEndian.PutUint16(reqData[2:4], elements)
	copy(reqData[4:], value)

	return &MessageRouterRequest{
		Service:     ServiceWriteTag,
		RequestPath: tagPath,
		RequestData: reqData,
	}
}

// NewReadTagFragmentedRequest builds a Read Tag Fragmented (0x52)
// request starting at byteOffset.
func NewReadTagFragmentedRequest(tagPath Path, elements uint16, byteOffset uint32) *MessageRouterRequest {
	reqData := make([]byte, 6)
	binary.LittleEndian.PutUint16(reqData[0:2], elements)
	binary.LittleEndian.PutUint32(reqData[2:6], byteOffset)

	return &MessageRouterRequest{
		Service:     ServiceReadTagFragmented,
		RequestPath: tagPath,
		RequestData: reqData,
	}
}

// NewWriteTagFragmentedRequest builds a Write Tag Fragmented (0x53)
// request for the chunk of value starting at byteOffset.
func NewWriteTagFragmentedRequest(tagPath Path, dataType DataType, elements uint16, byteOffset uint32, chunk []byte) *MessageRouterRequest {
	reqData := make([]byte, 8+len(chunk))
	binary.LittleEndian.PutUint16(reqData[0:2], uint16(dataType))
	binary.LittleEndian.PutUint16(reqData[2:4], elements)
	binary.LittleEndian.PutUint32(reqData[4:8], byteOffset)
	copy(reqData[8:], chunk)

	return &MessageRouterRequest{
		Service:     ServiceWriteTagFragmented,
		RequestPath: tagPath,
		RequestData: reqData,
	}
}

// NewReadModifyWriteRequest builds a Read-Modify-Write Tag (0xCE)
// request. maskSize must be 1, 2, or 4. orMask/andMask must each be
// maskSize bytes, little-endian.
func NewReadModifyWriteRequest(tagPath Path, maskSize uint16, orMask, andMask []byte) *MessageRouterRequest {
	reqData := make([]byte, 2+len(orMask)+len(andMask))
	binary.LittleEndian.PutUint16(reqData[0:2], maskSize)
	copy(reqData[2:], orMask)
	copy(reqData[2+len(orMask):], andMask)

	return &MessageRouterRequest{
		Service:     ServiceReadModifyWriteTag,
		RequestPath: tagPath,
		RequestData: reqData,
	}
}

// NewGetInstanceAttributesListRequest builds a Get Instance Attributes
// List (0x55) request against path (typically class 0x6B, instance
// startInstance, optionally prefixed with a Program: symbolic segment)
// requesting the given attribute ids.
func NewGetInstanceAttributesListRequest(path Path, attributes []UINT) *MessageRouterRequest {
	reqData := make([]byte, 2+2*len(attributes))
	binary.LittleEndian.PutUint16(reqData[0:2], uint16(len(attributes)))
	for i, a := range attributes {
		binary.LittleEndian.PutUint16(reqData[2+2*i:4+2*i], uint16(a))
	}

	return &MessageRouterRequest{
		Service:     ServiceGetInstanceAttrList,
		RequestPath: path,
		RequestData: reqData,
	}
}

// NewReadTemplateRequest builds a Read Template request (Read Tag's
// service code applied to the Template Object, class 0x6C) requesting
// length bytes starting at offset.
func NewReadTemplateRequest(path Path, offset uint32, length uint16) *MessageRouterRequest {
	reqData := make([]byte, 6)
	binary.LittleEndian.PutUint32(reqData[0:4], offset)
	binary.LittleEndian.PutUint16(reqData[4:6], length)

	return &MessageRouterRequest{
		Service:     ServiceReadTemplate,
		RequestPath: path,
		RequestData: reqData,
	}
}

// NewMultipleServicePacketRequest wraps subRequests (already-encoded CIP
// request bytes, service byte first) into a single Multiple Service
// Packet (0x0A) request on the Message Router (class 0x02, instance 1).
func NewMultipleServicePacketRequest(subRequests [][]byte) *MessageRouterRequest {
	p := NewPath()
	p.AddClass(ClassMessageRouter)
	p.AddInstance(1)

	n := len(subRequests)
	offsets := make([]uint16, n)
	// Offsets are counted from the start of the request data (the 2-byte
	// count), so the first service starts right after the count and the
	// n 2-byte offsets.
	headerLen := 2 + 2*n
	cur := headerLen
	for i, sr := range subRequests {
		offsets[i] = uint16(cur)
		cur += len(sr)
	}

	data := make([]byte, 0, cur)
	countBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(countBuf, uint16(n))
	data = append(data, countBuf...)
	for _, off := range offsets {
		offBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(offBuf, off)
		data = append(data, offBuf...)
	}
	for _, sr := range subRequests {
		data = append(data, sr...)
	}

	return &MessageRouterRequest{
		Service:     ServiceMultipleServicePacket,
		RequestPath: p,
		RequestData: data,
	}
}

// SubReply is one decoded entry of a Multiple Service Packet reply.
type SubReply struct {
	Service       USINT
	GeneralStatus USINT
	ExtStatus     []UINT
	ResponseData  []byte
}

// DecodeMultipleServicePacketResponse splits a Multiple Service Packet
// reply body into its per-subrequest replies, each independently decoded
// as a MessageRouterResponse.
func DecodeMultipleServicePacketResponse(data []byte) ([]SubReply, error) {
	if len(data) < 2 {
		return nil, Error{Status: StatusNotEnoughData}
	}
	count := binary.LittleEndian.Uint16(data[0:2])
	offsets := make([]uint16, count)
	for i := 0; i < int(count); i++ {
		base := 2 + 2*i
		if base+2 > len(data) {
			return nil, Error{Status: StatusNotEnoughData}
		}
		offsets[i] = binary.LittleEndian.Uint16(data[base : base+2])
	}

	replies := make([]SubReply, 0, count)
	for i := 0; i < int(count); i++ {
		start := int(offsets[i])
		end := len(data)
		if i+1 < int(count) {
			end = int(offsets[i+1])
		}
		if start > len(data) || end > len(data) || start > end {
			return nil, Error{Status: StatusNotEnoughData}
		}
		resp, err := DecodeMessageRouterResponse(data[start:end])
		if err != nil {
			return nil, err
		}
		replies = append(replies, SubReply{
			Service:       resp.Service,
			GeneralStatus: resp.GeneralStatus,
			ExtStatus:     resp.ExtStatus,
			ResponseData:  resp.ResponseData,
		})
	}
	return replies, nil
}
