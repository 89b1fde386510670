// Package plcerr defines the typed error taxonomy returned by pkg/plc,
// pkg/catalog and pkg/planner, so callers can branch on failure class
// (transport vs. encapsulation vs. CIP service) without string matching.
package plcerr

import (
	"errors"
	"fmt"

	"github.com/iceisfun/goeip/pkg/cip"
)

// Class identifies which layer of the stack produced an error.
type Class int

const (
	// ClassTransport covers TCP dial/read/write failures.
	ClassTransport Class = iota
	// ClassEncapsulation covers EtherNet/IP header/command failures.
	ClassEncapsulation
	// ClassSession covers RegisterSession/UnregisterSession failures.
	ClassSession
	// ClassConnection covers Forward Open/Forward Close failures.
	ClassConnection
	// ClassRequest covers malformed or oversized CIP requests.
	ClassRequest
	// ClassService covers a general CIP service status error (cip.Error).
	ClassService
	// ClassEncodeDecode covers EPATH/value/UDT encode-decode failures.
	ClassEncodeDecode
)

func (c Class) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassEncapsulation:
		return "encapsulation"
	case ClassSession:
		return "session"
	case ClassConnection:
		return "connection"
	case ClassRequest:
		return "request"
	case ClassService:
		return "service"
	case ClassEncodeDecode:
		return "encode/decode"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Error wraps an underlying cause with the Class that produced it and,
// when known, the operation in progress (e.g. a tag name or command).
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("goeip: %s: %s: %v", e.Class, e.Op, e.Err)
	}
	return fmt.Sprintf("goeip: %s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given class and operation label. Returns nil
// if err is nil.
func New(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf returns the Class of err if it (or something it wraps) is a
// *Error, and false otherwise.
func ClassOf(err error) (Class, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class, true
	}
	return 0, false
}

// CIPStatus returns the cip.Error embedded in err, if any, by unwrapping
// through plcerr.Error and the cip.MultipleServicePacket sub-reply
// wrapping used by the planner.
func CIPStatus(err error) (cip.Error, bool) {
	var ce cip.Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return cip.Error{}, false
}

// IsPartialTransfer reports whether err represents a CIP "partial
// transfer" (0x06) status, the signal used by Read/Write Tag Fragmented
// to indicate more data remains.
func IsPartialTransfer(err error) bool {
	ce, ok := CIPStatus(err)
	return ok && ce.Status == cip.StatusPartialTransfer
}
