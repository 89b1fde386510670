package plcsim

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/eip"
)

// handleSendRRData services an unconnected SendRRData command: Interface
// Handle(4) + Timeout(2) + CPF[NullAddress, UnconnectedMessage].
func (c *Controller) handleSendRRData(data []byte, otConnID *uint32) ([]byte, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("plcsim: short SendRRData payload")
	}
	cpf, err := eip.DecodeCommonPacketFormat(data[6:])
	if err != nil {
		return nil, err
	}
	item := cpf.FindItemByType(eip.ItemIDUnconnectedMessage)
	if item == nil {
		return nil, fmt.Errorf("plcsim: no unconnected message item")
	}

	mrReq, err := cip.DecodeMessageRouterRequest(item.Data)
	if err != nil {
		return nil, err
	}
	mrResp := c.dispatchRequest(mrReq, otConnID)

	respData, err := mrResp.Encode()
	if err != nil {
		return nil, err
	}

	respCPF := eip.NewCommonPacketFormat(
		eip.NewCPFItem(eip.ItemIDNullAddress, nil),
		eip.NewCPFItem(eip.ItemIDUnconnectedMessage, respData),
	)
	respCPFData, err := respCPF.Encode()
	if err != nil {
		return nil, err
	}
	return append(make([]byte, 6), respCPFData...), nil
}

// handleSendUnitData services a connected SendUnitData command: Interface
// Handle(4) + Timeout(2) + CPF[ConnectionBased, ConnectedTransport].
func (c *Controller) handleSendUnitData(data []byte, otConnID uint32) ([]byte, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("plcsim: short SendUnitData payload")
	}
	cpf, err := eip.DecodeCommonPacketFormat(data[6:])
	if err != nil {
		return nil, err
	}
	addrItem := cpf.FindItemByType(eip.ItemIDConnectedAddress)
	if addrItem == nil {
		return nil, fmt.Errorf("plcsim: no connected address item")
	}
	dataItem := cpf.FindItemByType(eip.ItemIDConnectedData)
	if dataItem == nil || len(dataItem.Data) < 2 {
		return nil, fmt.Errorf("plcsim: no connected data item")
	}

	seqCount := binary.LittleEndian.Uint16(dataItem.Data[0:2])
	pdu := dataItem.Data[2:]

	mrReq, err := cip.DecodeMessageRouterRequest(pdu)
	if err != nil {
		return nil, err
	}
	connID := otConnID
	mrResp := c.dispatchRequest(mrReq, &connID)

	respData, err := mrResp.Encode()
	if err != nil {
		return nil, err
	}

	respDataBuf := new(bytes.Buffer)
	binary.Write(respDataBuf, binary.LittleEndian, seqCount)
	respDataBuf.Write(respData)

	respCPF := eip.NewCommonPacketFormat(
		eip.NewCPFItem(eip.ItemIDConnectedAddress, addrItem.Data),
		eip.NewCPFItem(eip.ItemIDConnectedData, respDataBuf.Bytes()),
	)
	respCPFData, err := respCPF.Encode()
	if err != nil {
		return nil, err
	}
	return append(make([]byte, 6), respCPFData...), nil
}

// dispatchRequest routes a decoded Message Router request to whichever
// handler understands its service/path combination. Tag data services
// addressed by a leading symbolic segment bypass cip.MessageRouter
// entirely, since the router only understands class-segment-first
// paths. Connection Manager and Template Object structure-makeup
// requests go through the router like the teacher's server does; Read
// Template and Get Instance Attributes List are handled directly.
func (c *Controller) dispatchRequest(req *cip.MessageRouterRequest, otConnID *uint32) *cip.MessageRouterResponse {
	path := req.RequestPath.Bytes()

	switch req.Service {
	case cip.ServiceMultipleServicePacket:
		return c.dispatchMultiple(req, otConnID)
	}

	const extendedSymbolSegment = 0x91

	if len(path) > 0 && path[0] == extendedSymbolSegment {
		switch req.Service {
		case cip.ServiceReadTag, cip.ServiceWriteTag,
			cip.ServiceReadTagFragmented, cip.ServiceWriteTagFragmented,
			cip.ServiceReadModifyWriteTag:
			return c.dispatchTagService(req)
		case cip.ServiceGetInstanceAttrList:
			return c.dispatchListTags(req)
		}
	}

	if req.Service == cip.ServiceGetInstanceAttrList {
		return c.dispatchListTags(req)
	}

	// Read Template bypasses cip.MessageRouter: its reply must be able
	// to carry StatusPartialTransfer for a multi-page UDT definition,
	// and Object.HandleRequest's (data, error) shape has no way to
	// return a status alongside a successful chunk.
	if req.Service == cip.ServiceReadTemplate && isClassSegment(path) {
		return c.template.dispatchReadTemplate(req)
	}

	if isClassSegment(path) {
		resp, err := c.router.Dispatch(req)
		if err != nil {
			return errorResponse(req.Service, cip.StatusServiceNotSupported, err)
		}
		// Forward Open's reply echoes the O->T connection id the
		// originator chose; that id (not the newly allocated T->O id)
		// is what the client subsequently addresses SendUnitData with.
		if otConnID != nil && resp.GeneralStatus == cip.StatusSuccess &&
			(req.Service == cip.ServiceForwardOpen || req.Service == cip.ServiceLargeForwardOpen) &&
			len(resp.ResponseData) >= 4 {
			*otConnID = binary.LittleEndian.Uint32(resp.ResponseData[0:4])
		}
		return resp
	}

	return errorResponse(req.Service, cip.StatusPathSegmentError, fmt.Errorf("plcsim: unroutable path"))
}

// isClassSegment reports whether path begins with an 8-bit (0x20) or
// 16-bit (0x21) logical class segment, mirroring cip.MessageRouter's own
// acceptance check.
func isClassSegment(path []byte) bool {
	if len(path) == 0 {
		return false
	}
	return path[0] == 0x20 || path[0] == 0x21
}

// dispatchMultiple recursively decodes and dispatches each sub-request
// of a Multiple Service Packet, re-encoding replies into the same
// offset-tabled layout cip.DecodeMultipleServicePacketResponse expects.
func (c *Controller) dispatchMultiple(req *cip.MessageRouterRequest, otConnID *uint32) *cip.MessageRouterResponse {
	subReqs, err := decodeMultipleServiceRequests(req.RequestData)
	if err != nil {
		return errorResponse(req.Service, cip.StatusNotEnoughData, err)
	}

	encodedReplies := make([][]byte, 0, len(subReqs))
	for _, subReq := range subReqs {
		subResp := c.dispatchRequest(subReq, otConnID)
		encoded, err := subResp.Encode()
		if err != nil {
			return errorResponse(req.Service, cip.StatusNotEnoughData, err)
		}
		encodedReplies = append(encodedReplies, encoded)
	}

	respData := encodeMultipleServiceReplies(encodedReplies)
	return &cip.MessageRouterResponse{
		Service:       req.Service | 0x80,
		GeneralStatus: cip.StatusSuccess,
		ResponseData:  respData,
	}
}

// decodeMultipleServiceRequests parses the Multiple Service Packet
// request body: Count(2), Offset(2)*Count measured from the start of
// this body, then each sub-request back to back.
func decodeMultipleServiceRequests(data []byte) ([]*cip.MessageRouterRequest, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("plcsim: short multiple service packet")
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	offsets := make([]int, count)
	for i := 0; i < count; i++ {
		o := 2 + i*2
		if o+2 > len(data) {
			return nil, fmt.Errorf("plcsim: truncated offset table")
		}
		offsets[i] = int(binary.LittleEndian.Uint16(data[o : o+2]))
	}

	reqs := make([]*cip.MessageRouterRequest, 0, count)
	for i := 0; i < count; i++ {
		start := offsets[i]
		end := len(data)
		if i+1 < count {
			end = offsets[i+1]
		}
		if start > len(data) || end > len(data) || start > end {
			return nil, fmt.Errorf("plcsim: bad sub-request offset")
		}
		subReq, err := cip.DecodeMessageRouterRequest(data[start:end])
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, subReq)
	}
	return reqs, nil
}

// encodeMultipleServiceReplies assembles pre-encoded sub-replies into
// the Count + Offset-table + replies layout.
func encodeMultipleServiceReplies(replies [][]byte) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(len(replies)))

	offset := 2 + 2*len(replies)
	for _, r := range replies {
		binary.Write(buf, binary.LittleEndian, uint16(offset))
		offset += len(r)
	}
	for _, r := range replies {
		buf.Write(r)
	}
	return buf.Bytes()
}

func errorResponse(service cip.USINT, status cip.USINT, err error) *cip.MessageRouterResponse {
	_ = err
	return &cip.MessageRouterResponse{
		Service:       service | 0x80,
		GeneralStatus: status,
	}
}
