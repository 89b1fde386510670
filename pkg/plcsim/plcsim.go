// Package plcsim is an in-process EtherNet/IP adapter simulator used by
// this module's own tests: it speaks just enough of the session,
// explicit-messaging, and tag-service wire protocol for pkg/plc,
// pkg/catalog, and pkg/planner to be exercised against a real TCP
// socket instead of a mocked transport.
//
// Adapted from the teacher's pkg/server (TCP accept loop + EIP framing)
// and pkg/objects/connmgr (Forward Open/Close), generalized from a
// generic CIP adapter into a fixture that understands Logix tag
// addressing.
package plcsim

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/eip"
)

// Controller is a simulated ControlLogix/CompactLogix target: a tag
// table, an optional UDT template set, and a TCP listener implementing
// just enough of the protocol to serve pkg/plc's client.
type Controller struct {
	mu       sync.Mutex
	tags     map[string]*simTag
	programs map[string]bool
	udts     map[uint32]*simTemplate

	router   *cip.MessageRouter
	connMgr  *connManagerObject
	template *templateObject

	// MaxListItems caps how many Symbol Object records are returned per
	// Get Instance Attributes List reply, forcing a multi-page scan even
	// for small tag tables. 0 means unbounded.
	MaxListItems int
	// MaxFragmentBytes caps how many bytes a Read Tag Fragmented reply
	// returns per page; Read Template replies are bounded only by the
	// length each request asks for. 0 means unbounded.
	MaxFragmentBytes int

	ln net.Listener
	wg sync.WaitGroup

	fragmentWrites map[string][]byte
}

// NewController builds an empty simulated controller.
func NewController() *Controller {
	c := &Controller{
		tags:             make(map[string]*simTag),
		programs:         make(map[string]bool),
		udts:             make(map[uint32]*simTemplate),
		fragmentWrites:   make(map[string][]byte),
		MaxFragmentBytes: 480,
	}
	c.connMgr = newConnManagerObject()
	c.template = newTemplateObject(c)

	c.router = cip.NewMessageRouter()
	c.router.RegisterObject(cip.ClassConnectionMgr, c.connMgr)
	c.router.RegisterObject(cip.ClassTemplate, c.template)
	return c
}

// Start listens on addr (host:port, e.g. "127.0.0.1:0") and begins
// accepting connections in the background. The resolved address is
// returned so callers can bind an ephemeral port.
func (c *Controller) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	c.ln = ln

	c.wg.Add(1)
	go c.acceptLoop(ln)
	return ln.Addr().String(), nil
}

// Close stops accepting connections and closes the listener.
func (c *Controller) Close() error {
	if c.ln == nil {
		return nil
	}
	err := c.ln.Close()
	c.wg.Wait()
	return err
}

func (c *Controller) acceptLoop(ln net.Listener) {
	defer c.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleConnection(conn)
		}()
	}
}

func (c *Controller) handleConnection(conn net.Conn) {
	defer conn.Close()

	var sessionHandle uint32
	var otConnID uint32 // connection id the client addresses us with in SendUnitData

	for {
		var hdr eip.EncapsulationHeader
		if err := hdr.Decode(conn); err != nil {
			return
		}

		data := make([]byte, hdr.Length)
		if hdr.Length > 0 {
			if _, err := io.ReadFull(conn, data); err != nil {
				return
			}
		}

		var respData []byte
		var status uint32
		session := sessionHandle

		switch hdr.Command {
		case eip.CommandRegisterSession:
			sessionHandle = randomSessionHandle()
			session = sessionHandle
			respData = make([]byte, 4)
			binary.LittleEndian.PutUint16(respData[0:], 1)
			binary.LittleEndian.PutUint16(respData[2:], 0)

		case eip.CommandUnregisterSession:
			return

		case eip.CommandSendRRData:
			var err error
			respData, err = c.handleSendRRData(data, &otConnID)
			if err != nil {
				status = eip.StatusIncorrectData
			}

		case eip.CommandSendUnitData:
			var err error
			respData, err = c.handleSendUnitData(data, otConnID)
			if err != nil {
				status = eip.StatusIncorrectData
			}

		default:
			status = eip.StatusUnsupportedProtocol
		}

		respHdr := eip.EncapsulationHeader{
			Command:       hdr.Command,
			Length:        uint16(len(respData)),
			SessionHandle: eip.SessionHandle(session),
			Status:        status,
			SenderContext: hdr.SenderContext,
		}
		if _, err := conn.Write(respHdr.Bytes()); err != nil {
			return
		}
		if len(respData) > 0 {
			if _, err := conn.Write(respData); err != nil {
				return
			}
		}
	}
}

func randomSessionHandle() uint32 {
	return 0x00C0FFEE
}

// AddTag registers (or replaces) a controller-scoped tag.
func (c *Controller) AddTag(name string, value cip.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags[name] = newSimTag(value)
}

// AddProgramTag registers a tag scoped to program (without the
// "Program:" prefix), addressable by clients as "Program:<program>.<name>".
func (c *Controller) AddProgramTag(program, name string, value cip.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.programs[program]; !ok {
		c.programs[program] = true
	}
	full := fmt.Sprintf("Program:%s.%s", program, name)
	c.tags[full] = newSimTag(value)
}

// TagValue returns the current value of a registered tag, for test
// assertions after a simulated write.
func (c *Controller) TagValue(name string) (cip.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tags[name]
	if !ok {
		return cip.Value{}, false
	}
	return t.toValue(), true
}

// AddUDT registers a user-defined type template under instanceID, for
// Template Object (class 0x6C) requests to resolve.
func (c *Controller) AddUDT(instanceID uint32, def UDTDef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.udts[instanceID] = buildSimTemplate(instanceID, def)
}
