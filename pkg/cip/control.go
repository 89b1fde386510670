package cip

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Control represents a Rockwell Logix CONTROL structure (used by
// sequencer and shift-register instructions).
//
// Memory layout, matching the TIMER/COUNTER convention:
// Offset 0-1: Reserved (INT)
// Offset 2-5: Status bits (DINT) - EN, EU, DN, EM, ER, UL, IN, FD
// Offset 6-9: LEN (DINT)
// Offset 10-13: POS (DINT)
type Control struct {
	LEN int32
	POS int32
	EN  bool // Enable
	EU  bool // Enable Unload
	DN  bool // Done
	EM  bool // Empty
	ER  bool // Error
	UL  bool // Unload
	IN  bool // Inhibit
	FD  bool // First Done
}

const (
	ControlStatusEN = 31
	ControlStatusEU = 30
	ControlStatusDN = 29
	ControlStatusEM = 28
	ControlStatusER = 27
	ControlStatusUL = 26
	ControlStatusIN = 25
	ControlStatusFD = 24
)

// DecodeControl decodes a byte slice into a Control struct using the
// canonical Rockwell memory layout (14 bytes).
func DecodeControl(data []byte) (*Control, error) {
	if len(data) < 14 {
		return nil, fmt.Errorf("insufficient data for Control: expected at least 14 bytes, got %d", len(data))
	}

	status := binary.LittleEndian.Uint32(data[2:6])
	length := int32(binary.LittleEndian.Uint32(data[6:10]))
	pos := int32(binary.LittleEndian.Uint32(data[10:14]))

	c := &Control{
		LEN: length,
		POS: pos,
		EN:  (status & (1 << ControlStatusEN)) != 0,
		EU:  (status & (1 << ControlStatusEU)) != 0,
		DN:  (status & (1 << ControlStatusDN)) != 0,
		EM:  (status & (1 << ControlStatusEM)) != 0,
		ER:  (status & (1 << ControlStatusER)) != 0,
		UL:  (status & (1 << ControlStatusUL)) != 0,
		IN:  (status & (1 << ControlStatusIN)) != 0,
		FD:  (status & (1 << ControlStatusFD)) != 0,
	}
	return c, nil
}

// UnmarshalCIP implements the Unmarshaler interface for Control.
func (c *Control) UnmarshalCIP(data []byte) error {
	decoded, err := DecodeControl(data)
	if err != nil {
		return err
	}
	*c = *decoded
	return nil
}

// MarshalCIP implements the Marshaler interface for Control.
func (c *Control) MarshalCIP() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, uint16(0)); err != nil {
		return nil, err
	}

	var status uint32
	if c.EN {
		status |= 1 << ControlStatusEN
	}
	if c.EU {
		status |= 1 << ControlStatusEU
	}
	if c.DN {
		status |= 1 << ControlStatusDN
	}
	if c.EM {
		status |= 1 << ControlStatusEM
	}
	if c.ER {
		status |= 1 << ControlStatusER
	}
	if c.UL {
		status |= 1 << ControlStatusUL
	}
	if c.IN {
		status |= 1 << ControlStatusIN
	}
	if c.FD {
		status |= 1 << ControlStatusFD
	}
	if err := binary.Write(buf, binary.LittleEndian, status); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, c.LEN); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, c.POS); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
