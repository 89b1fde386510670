package transport

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/iceisfun/goeip/pkg/eip"
)

// Transport defines the interface for sending and receiving EIP packets
type Transport interface {
	Send(cmd eip.Command, data []byte, sessionHandle eip.SessionHandle) error
	Receive() (*eip.EncapsulationHeader, []byte, error)
	Close() error
}

// TCPTransport implements Transport using TCP
type TCPTransport struct {
	conn net.Conn
}

// DefaultDialTimeout is used by NewTCPTransport when the caller passes a
// zero timeout.
const DefaultDialTimeout = 5 * time.Second

// NewTCPTransport dials address (appending the standard EtherNet/IP port
// 44818 if none is given) and returns a Transport wrapping the
// connection. A zero dialTimeout falls back to DefaultDialTimeout.
func NewTCPTransport(address string, dialTimeout time.Duration) (*TCPTransport, error) {
	if !strings.Contains(address, ":") {
		address = address + ":44818"
	}
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &TCPTransport{conn: conn}, nil
}

// SetDeadline sets the read/write deadline on the underlying connection,
// used by the connection engine to bound a single request/reply
// round-trip (spec.md §6 "timeout" option).
func (t *TCPTransport) SetDeadline(deadline time.Time) error {
	return t.conn.SetDeadline(deadline)
}

// Send sends an EIP packet
func (t *TCPTransport) Send(cmd eip.Command, data []byte, sessionHandle eip.SessionHandle) error {
	header := eip.EncapsulationHeader{
		Command:       cmd,
		Length:        uint16(len(data)),
		SessionHandle: sessionHandle,
		Status:        0,
		SenderContext: [8]byte{}, // TODO: Allow setting context?
		Options:       0,
	}

	// Write Header
	if err := header.Encode(t.conn); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Write Data
	if len(data) > 0 {
		if _, err := t.conn.Write(data); err != nil {
			return fmt.Errorf("failed to write data: %w", err)
		}
	}

	return nil
}

// Receive receives an EIP packet
func (t *TCPTransport) Receive() (*eip.EncapsulationHeader, []byte, error) {
	header := &eip.EncapsulationHeader{}
	if err := header.Decode(t.conn); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	var data []byte
	if header.Length > 0 {
		data = make([]byte, header.Length)
		if _, err := io.ReadFull(t.conn, data); err != nil {
			return nil, nil, fmt.Errorf("failed to read data: %w", err)
		}
	}

	return header, data, nil
}

// Close closes the connection
func (t *TCPTransport) Close() error {
	return t.conn.Close()
}
