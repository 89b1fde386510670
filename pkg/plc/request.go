package plc

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/eip"
	"github.com/iceisfun/goeip/pkg/metrics"
	"github.com/iceisfun/goeip/pkg/plcerr"
	"github.com/iceisfun/goeip/pkg/utils"
)

// sendUnconnected wraps req in a Null Address + Unconnected Message CPF
// and sends it via SendRRData. Used for Forward Open/Close and any CIP
// service issued before a connection exists (spec.md §4.3: "unconnected
// service ... in REGISTERED").
func (c *Connection) sendUnconnected(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	reqBytes, err := req.Encode()
	if err != nil {
		return nil, plcerr.New(plcerr.ClassEncodeDecode, "encode request", err)
	}

	cpf := eip.NewCommonPacketFormat(
		eip.NewCPFItem(eip.ItemIDNullAddress, nil),
		eip.NewCPFItem(eip.ItemIDUnconnectedMessage, reqBytes),
	)
	cpfData, err := cpf.Encode()
	if err != nil {
		return nil, plcerr.New(plcerr.ClassEncodeDecode, "encode CPF", err)
	}

	rrData := make([]byte, 6+len(cpfData))
	copy(rrData[6:], cpfData)

	c.withDeadline()
	c.logger.Debugf("goeip: SendRRData (len=%d):\n%s", len(rrData), utils.HexDump(reqBytes))
	if err := c.transport.Send(eip.CommandSendRRData, rrData, c.sessionHandle); err != nil {
		return nil, plcerr.New(plcerr.ClassTransport, "SendRRData", err)
	}
	metrics.BytesSentCounter.Add(float64(len(rrData)))

	header, respData, err := c.transport.Receive()
	if err != nil {
		return nil, plcerr.New(plcerr.ClassTransport, "SendRRData", err)
	}
	metrics.BytesReceivedCounter.Add(float64(len(respData)))
	if header.Status != eip.StatusSuccess {
		return nil, plcerr.New(plcerr.ClassEncapsulation, "SendRRData",
			fmt.Errorf("encapsulation status 0x%08X", header.Status))
	}
	if len(respData) < 6 {
		return nil, plcerr.New(plcerr.ClassEncapsulation, "SendRRData", fmt.Errorf("response too short"))
	}

	respCPF, err := eip.DecodeCommonPacketFormat(respData[6:])
	if err != nil {
		return nil, plcerr.New(plcerr.ClassEncapsulation, "SendRRData", err)
	}
	item := respCPF.FindItemByType(eip.ItemIDUnconnectedMessage)
	if item == nil {
		return nil, plcerr.New(plcerr.ClassEncapsulation, "SendRRData", fmt.Errorf("missing unconnected data item"))
	}

	resp, err := cip.DecodeMessageRouterResponse(item.Data)
	if err != nil {
		return nil, plcerr.New(plcerr.ClassEncodeDecode, "decode response", err)
	}
	return resp, nil
}

// sendConnected wraps req in a Connected Address + Connected Data CPF
// (with the 16-bit sequence count prefix) and sends it via SendUnitData.
// Requires StateConnected.
func (c *Connection) sendConnected(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	if c.State() != StateConnected {
		return nil, plcerr.New(plcerr.ClassConnection, "SendUnitData",
			fmt.Errorf("connection is not open (state=%s)", c.State()))
	}

	reqBytes, err := req.Encode()
	if err != nil {
		return nil, plcerr.New(plcerr.ClassEncodeDecode, "encode request", err)
	}

	seq := c.nextSequence()
	connData := make([]byte, 2+len(reqBytes))
	binary.LittleEndian.PutUint16(connData[0:2], seq)
	copy(connData[2:], reqBytes)

	addrData := make([]byte, 4)
	binary.LittleEndian.PutUint32(addrData, c.otConnID)

	cpf := eip.NewCommonPacketFormat(
		eip.NewCPFItem(eip.ItemIDConnectionBased, addrData),
		eip.NewCPFItem(eip.ItemIDConnectedTransport, connData),
	)
	cpfData, err := cpf.Encode()
	if err != nil {
		return nil, plcerr.New(plcerr.ClassEncodeDecode, "encode CPF", err)
	}

	c.withDeadline()
	c.logger.Debugf("goeip: SendUnitData seq=%d (len=%d):\n%s", seq, len(reqBytes), utils.HexDump(reqBytes))
	if err := c.transport.Send(eip.CommandSendUnitData, cpfData, c.sessionHandle); err != nil {
		return nil, plcerr.New(plcerr.ClassTransport, "SendUnitData", err)
	}
	metrics.BytesSentCounter.Add(float64(len(cpfData)))

	header, respData, err := c.transport.Receive()
	if err != nil {
		return nil, plcerr.New(plcerr.ClassTransport, "SendUnitData", err)
	}
	metrics.BytesReceivedCounter.Add(float64(len(respData)))
	if header.Status != eip.StatusSuccess {
		return nil, plcerr.New(plcerr.ClassEncapsulation, "SendUnitData",
			fmt.Errorf("encapsulation status 0x%08X", header.Status))
	}

	respCPF, err := eip.DecodeCommonPacketFormat(respData)
	if err != nil {
		return nil, plcerr.New(plcerr.ClassEncapsulation, "SendUnitData", err)
	}
	item := respCPF.FindItemByType(eip.ItemIDConnectedTransport)
	if item == nil {
		return nil, plcerr.New(plcerr.ClassEncapsulation, "SendUnitData", fmt.Errorf("missing connected data item"))
	}
	if len(item.Data) < 2 {
		return nil, plcerr.New(plcerr.ClassEncapsulation, "SendUnitData", fmt.Errorf("connected data too short"))
	}

	resp, err := cip.DecodeMessageRouterResponse(item.Data[2:])
	if err != nil {
		return nil, plcerr.New(plcerr.ClassEncodeDecode, "decode response", err)
	}
	return resp, nil
}

// SendCIPRequest dispatches req over the connected path when a Forward
// Open has succeeded, falling back to unconnected (SendRRData) framing
// otherwise. It satisfies the Requester interface consumed by
// pkg/catalog and pkg/planner.
func (c *Connection) SendCIPRequest(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	start := time.Now()
	var resp *cip.MessageRouterResponse
	var err error
	if c.State() == StateConnected && !c.opts.DirectConnection {
		resp, err = c.sendConnected(req)
	} else {
		resp, err = c.sendUnconnected(req)
	}

	service := fmt.Sprintf("0x%02x", byte(req.Service))
	metrics.RequestLatencyHistogram.WithLabelValues(service).Observe(time.Since(start).Seconds())
	if err == nil && resp != nil && resp.GeneralStatus != cip.StatusSuccess {
		metrics.RequestErrorCount.WithLabelValues(fmt.Sprintf("0x%02x", byte(resp.GeneralStatus))).Inc()
	}
	return resp, err
}

// ReadIdentity issues ListIdentity and returns the first reported
// identity object, used by init_info.
func (c *Connection) ReadIdentity() (*eip.ListIdentityItem, error) {
	if err := c.transport.Send(eip.CommandListIdentity, nil, 0); err != nil {
		return nil, plcerr.New(plcerr.ClassTransport, "ListIdentity", err)
	}

	header, respData, err := c.transport.Receive()
	if err != nil {
		return nil, plcerr.New(plcerr.ClassTransport, "ListIdentity", err)
	}
	if header.Status != eip.StatusSuccess {
		return nil, plcerr.New(plcerr.ClassEncapsulation, "ListIdentity",
			fmt.Errorf("encapsulation status 0x%08X", header.Status))
	}

	items, err := eip.DecodeListIdentityResponse(respData)
	if err != nil {
		return nil, plcerr.New(plcerr.ClassEncodeDecode, "ListIdentity", err)
	}
	if len(items) == 0 {
		return nil, plcerr.New(plcerr.ClassEncapsulation, "ListIdentity", fmt.Errorf("no identity items returned"))
	}
	return &items[0], nil
}
