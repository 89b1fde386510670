// Package plc implements the client-side EtherNet/IP session and
// connection engine: TCP transport lifecycle, RegisterSession, Forward
// Open/Close, and the connected/unconnected request framing consumed by
// pkg/catalog and pkg/planner.
package plc

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/iceisfun/goeip/internal"
	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/eip"
	"github.com/iceisfun/goeip/pkg/metrics"
	"github.com/iceisfun/goeip/pkg/plcerr"
	"github.com/iceisfun/goeip/pkg/transport"
)

// State is a Connection's position in the CLOSED -> TCP_OPEN ->
// REGISTERED -> CONNECTED lifecycle (spec.md §4.3).
type State int

const (
	StateClosed State = iota
	StateTCPOpen
	StateRegistered
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateTCPOpen:
		return "TCP_OPEN"
	case StateRegistered:
		return "REGISTERED"
	case StateConnected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Connection is a single EtherNet/IP session plus, once Forward Open
// succeeds, an explicit messaging connection to a target controller.
// Not safe for concurrent use by multiple goroutines except where noted
// (use pkg/plcpool to fan out across independent Connections).
type Connection struct {
	opts   Options
	logger internal.Logger

	mu    sync.Mutex
	state State

	transport transport.Transport

	sessionHandle eip.SessionHandle

	otConnID       uint32
	toConnID       uint32
	connSerial     uint16
	vendorID       uint16
	originatorSN   uint32
	connectionSize int

	seqMu sync.Mutex
	seq   uint16

	// Identity captured during Open when InitInfo is set.
	Identity *eip.ListIdentityItem

	tagSupportOnce tagSupport
}

// Open, with vendorID identifying this client in Forward Open requests
// (Rockwell-reserved IDs are fine for a client; 0 lets the target assign
// no particular meaning). 1 = Rockwell Automation/Allen-Bradley.
const clientVendorID = 1

// Open dials the target, registers a session, and (unless the caller
// only needs unconnected services) performs a Forward Open. It also
// honors InitInfo.
func Open(opts Options) (*Connection, error) {
	logger := opts.Logger
	if logger == nil {
		logger = internal.NopLogger()
	}

	c := &Connection{
		opts:           opts,
		logger:         logger,
		connectionSize: opts.connectionSize(),
		vendorID:       clientVendorID,
		seq:            randomUint16(),
	}

	if err := c.openTCP(); err != nil {
		return nil, err
	}
	if err := c.registerSession(); err != nil {
		c.transport.Close()
		c.state = StateClosed
		return nil, err
	}

	if !opts.DirectConnection {
		if err := c.forwardOpen(); err != nil {
			c.Close()
			return nil, err
		}
	} else {
		c.mu.Lock()
		c.state = StateConnected
		c.mu.Unlock()
	}

	if opts.InitInfo {
		ident, err := c.ReadIdentity()
		if err != nil {
			c.logger.Warnf("init_info: ReadIdentity failed: %v", err)
		} else {
			c.Identity = ident
		}
	}

	if opts.InitTags {
		if _, err := c.ListTags(""); err != nil {
			c.logger.Warnf("init_tags: controller-scope scan failed: %v", err)
		} else if opts.InitProgramTags {
			for _, prog := range c.Catalog().Programs() {
				if _, err := c.ListTags(prog); err != nil {
					c.logger.Warnf("init_tags: program scan failed for %s: %v", prog, err)
				}
			}
		}
	}

	metrics.ActiveConnectionGauge.Inc()
	return c, nil
}

func (c *Connection) openTCP() error {
	addr := fmt.Sprintf("%s:%d", c.opts.IPAddress, c.opts.Port)
	t, err := transport.NewTCPTransport(addr, c.opts.Timeout)
	if err != nil {
		return plcerr.New(plcerr.ClassTransport, "dial", err)
	}
	c.transport = t
	c.state = StateTCPOpen
	return nil
}

func (c *Connection) registerSession() error {
	regData := eip.NewRegisterSessionData()
	data, err := regData.Encode()
	if err != nil {
		return plcerr.New(plcerr.ClassEncodeDecode, "RegisterSession", err)
	}

	c.logger.Infof("goeip: registering session with %s", c.opts.IPAddress)
	if err := c.transport.Send(eip.CommandRegisterSession, data, 0); err != nil {
		return plcerr.New(plcerr.ClassTransport, "RegisterSession", err)
	}

	header, _, err := c.transport.Receive()
	if err != nil {
		return plcerr.New(plcerr.ClassTransport, "RegisterSession", err)
	}
	if header.Status != eip.StatusSuccess {
		return plcerr.New(plcerr.ClassSession, "RegisterSession",
			fmt.Errorf("encapsulation status 0x%08X", header.Status))
	}

	c.sessionHandle = header.SessionHandle
	c.state = StateRegistered
	c.logger.Infof("goeip: session registered, handle=0x%08X", c.sessionHandle)
	return nil
}

// State returns the Connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionHandle returns the registered session handle, or 0 if not
// registered.
func (c *Connection) SessionHandle() eip.SessionHandle {
	return c.sessionHandle
}

// ConnectionSize returns the negotiated per-packet byte budget used by
// the planner's batching logic (500 standard, 4000 large).
func (c *Connection) ConnectionSize() int {
	return c.connectionSize
}

// nextSequence returns the next connected-message sequence count,
// monotone non-decreasing modulo 65536, never 0 (spec.md §3 invariant).
func (c *Connection) nextSequence() uint16 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seq++
	if c.seq == 0 {
		c.seq = 1
	}
	return c.seq
}

func randomUint16() uint16 {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func randomUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// buildRoutePath returns the connection path routed to the configured
// backplane slot (port 1, link address = slot), or an empty path when
// DirectConnection is set.
func (c *Connection) buildRoutePath() cip.Path {
	p := cip.NewPath()
	if c.opts.DirectConnection {
		return p
	}
	p.AddPortSegment(1, []byte{byte(c.opts.Slot)})
	return p
}

// Close attempts Forward Close, then UnregisterSession, then TCP
// shutdown, accumulating (not stopping on) errors, per spec.md §3
// "Lifecycles".
func (c *Connection) Close() error {
	var errs []error

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != StateClosed {
		metrics.ActiveConnectionGauge.Dec()
	}

	if state == StateConnected && c.toConnID != 0 {
		if err := c.forwardClose(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.sessionHandle != 0 {
		if err := c.transport.Send(eip.CommandUnregisterSession, nil, c.sessionHandle); err != nil {
			errs = append(errs, plcerr.New(plcerr.ClassTransport, "UnregisterSession", err))
		}
	}

	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			errs = append(errs, plcerr.New(plcerr.ClassTransport, "close", err))
		}
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("goeip: close: %v", errs)
}

// withDeadline applies the configured per-request timeout to the
// underlying transport when it supports deadlines.
func (c *Connection) withDeadline() {
	type deadliner interface {
		SetDeadline(time.Time) error
	}
	if d, ok := c.transport.(deadliner); ok && c.opts.Timeout > 0 {
		_ = d.SetDeadline(time.Now().Add(c.opts.Timeout))
	}
}
