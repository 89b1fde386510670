package plc

import (
	"encoding/binary"
	"fmt"

	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/plcerr"
)

// Network connection parameter bit layouts (CIP vol 1 §3-5.5.1.2).
const (
	connTypePointToPoint = 2
	connPriorityLow      = 0
	connFixedVariable    = 1 // variable
	connOwnerExclusive   = 0
)

func standardConnectionParams(size int) uint16 {
	return uint16(connOwnerExclusive<<15) |
		uint16(connTypePointToPoint<<13) |
		uint16(connPriorityLow<<10) |
		uint16(connFixedVariable<<9) |
		uint16(size&0x1FF)
}

func largeConnectionParams(size int) uint32 {
	return uint32(connOwnerExclusive<<31) |
		uint32(connTypePointToPoint<<29) |
		uint32(connPriorityLow<<25) |
		uint32(connFixedVariable<<24) |
		uint32(size)
}

// rpiMicroseconds converts the configured RPI to the microsecond value
// Forward Open expects.
func (c *Connection) rpiMicroseconds() uint32 {
	return uint32(c.opts.RPI.Microseconds())
}

// forwardOpen issues a (Large) Forward Open to establish an explicit
// messaging connection and stores the returned target CID.
func (c *Connection) forwardOpen() error {
	c.connSerial = randomUint16()
	c.originatorSN = randomUint32()
	otConnID := randomUint32()

	path := c.buildRoutePath()
	rpi := c.rpiMicroseconds()

	var body []byte
	var service cip.USINT
	if c.opts.LargePackets {
		service = cip.ServiceLargeForwardOpen
		body = c.encodeForwardOpenBody(otConnID, rpi, largeConnectionParams(c.connectionSize), path, true)
	} else {
		service = cip.ServiceForwardOpen
		body = c.encodeForwardOpenBody(otConnID, rpi, uint32(standardConnectionParams(c.connectionSize)), path, false)
	}

	req := &cip.MessageRouterRequest{
		Service:     service,
		RequestPath: cip.BuildPath(cip.ClassConnectionMgr, 1, 0),
		RequestData: body,
	}

	resp, err := c.sendUnconnected(req)
	if err != nil {
		return plcerr.New(plcerr.ClassConnection, "ForwardOpen", err)
	}
	if err := resp.Error(); err != nil {
		return plcerr.New(plcerr.ClassConnection, "ForwardOpen", err)
	}

	if len(resp.ResponseData) < 26 {
		return plcerr.New(plcerr.ClassConnection, "ForwardOpen",
			fmt.Errorf("response too short: %d bytes", len(resp.ResponseData)))
	}

	c.otConnID = binary.LittleEndian.Uint32(resp.ResponseData[0:4])
	c.toConnID = binary.LittleEndian.Uint32(resp.ResponseData[4:8])

	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Infof("goeip: forward open complete, O->T=0x%08X T->O=0x%08X", c.otConnID, c.toConnID)
	return nil
}

// encodeForwardOpenBody builds the Forward_Open / Large_Forward_Open
// request body (the layout pkg/plcsim's connManagerObject decodes;
// spec.md §4.3).
func (c *Connection) encodeForwardOpenBody(otConnID, rpi, netParams uint32, path cip.Path, large bool) []byte {
	buf := make([]byte, 0, 40+len(path))
	buf = append(buf, 0x0A) // PriorityTimeTick
	buf = append(buf, 0x0E) // TimeoutTicks
	buf = appendU32(buf, otConnID)
	buf = appendU32(buf, 0) // T->O connection ID, assigned by target
	buf = appendU16(buf, c.connSerial)
	buf = appendU16(buf, c.vendorID)
	buf = appendU32(buf, c.originatorSN)
	buf = append(buf, 0x03)    // ConnectionTimeoutMultiplier
	buf = append(buf, 0, 0, 0) // reserved
	buf = appendU32(buf, rpi)
	if large {
		buf = appendU32(buf, netParams)
	} else {
		buf = appendU16(buf, uint16(netParams))
	}
	buf = appendU32(buf, rpi)
	if large {
		buf = appendU32(buf, netParams)
	} else {
		buf = appendU16(buf, uint16(netParams))
	}
	buf = append(buf, 0xA3) // TransportTypeTrigger: direction=server, production trigger=application object (2), transport class 3
	buf = append(buf, byte(path.LenWords()))
	buf = append(buf, path.Bytes()...)
	if len(path)%2 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// forwardClose issues a Forward Close for the currently-open connection.
func (c *Connection) forwardClose() error {
	path := c.buildRoutePath()

	body := make([]byte, 0, 16+len(path))
	body = append(body, 0x0A, 0x0E)
	body = appendU16(body, c.connSerial)
	body = appendU16(body, c.vendorID)
	body = appendU32(body, c.originatorSN)
	body = append(body, byte(path.LenWords()), 0)
	body = append(body, path.Bytes()...)
	if len(path)%2 != 0 {
		body = append(body, 0)
	}

	req := &cip.MessageRouterRequest{
		Service:     cip.ServiceForwardClose,
		RequestPath: cip.BuildPath(cip.ClassConnectionMgr, 1, 0),
		RequestData: body,
	}

	resp, err := c.sendUnconnected(req)
	if err != nil {
		return plcerr.New(plcerr.ClassConnection, "ForwardClose", err)
	}
	if err := resp.Error(); err != nil {
		return plcerr.New(plcerr.ClassConnection, "ForwardClose", err)
	}

	c.otConnID = 0
	c.toConnID = 0
	return nil
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
