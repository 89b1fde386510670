package plcsim

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/iceisfun/goeip/pkg/cip"
)

// connManagerObject implements the Connection Manager Object (class
// 0x06): Forward Open, Large Forward Open, and Forward Close. Adapted
// from the teacher's pkg/objects/connmgr. Each Forward Open records the
// T->O connection id it allocates against the originator's O->T id;
// Forward Close carries no connection id here and clears every recorded
// connection.
type connManagerObject struct {
	mu          sync.Mutex
	connections map[uint32]uint32 // T->O connection id -> O->T connection id
	nextConnID  uint32
}

func newConnManagerObject() *connManagerObject {
	return &connManagerObject{
		connections: make(map[uint32]uint32),
		nextConnID:  0x80000000,
	}
}

func (cm *connManagerObject) HandleRequest(service cip.USINT, path cip.Path, data []byte) ([]byte, error) {
	switch service {
	case cip.ServiceForwardOpen:
		return cm.handleForwardOpen(data, false)
	case cip.ServiceLargeForwardOpen:
		return cm.handleForwardOpen(data, true)
	case cip.ServiceForwardClose:
		return cm.handleForwardClose(data)
	default:
		return nil, cip.Error{Status: cip.StatusServiceNotSupported}
	}
}

// handleForwardOpen decodes a Forward_Open/Large_Forward_Open request
// (pkg/plc/forwardopen.go's encodeForwardOpenBody layout) and replies
// with a newly allocated T->O connection id.
func (cm *connManagerObject) handleForwardOpen(data []byte, large bool) ([]byte, error) {
	r := bytes.NewReader(data)

	var priorityTimeTick, timeoutTicks uint8
	var otConnID, toConnIDPlaceholder uint32
	var connSerial, vendorID uint16
	var originatorSN uint32
	var connTimeoutMultiplier uint8
	var reserved [3]uint8
	var otRPI uint32
	var toRPI uint32

	fields := []any{
		&priorityTimeTick, &timeoutTicks,
		&otConnID, &toConnIDPlaceholder,
		&connSerial, &vendorID, &originatorSN,
		&connTimeoutMultiplier, &reserved,
		&otRPI,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, cip.Error{Status: cip.StatusNotEnoughData}
		}
	}

	if large {
		var otParams uint32
		if err := binary.Read(r, binary.LittleEndian, &otParams); err != nil {
			return nil, cip.Error{Status: cip.StatusNotEnoughData}
		}
	} else {
		var otParams uint16
		if err := binary.Read(r, binary.LittleEndian, &otParams); err != nil {
			return nil, cip.Error{Status: cip.StatusNotEnoughData}
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &toRPI); err != nil {
		return nil, cip.Error{Status: cip.StatusNotEnoughData}
	}
	if large {
		var toParams uint32
		if err := binary.Read(r, binary.LittleEndian, &toParams); err != nil {
			return nil, cip.Error{Status: cip.StatusNotEnoughData}
		}
	} else {
		var toParams uint16
		if err := binary.Read(r, binary.LittleEndian, &toParams); err != nil {
			return nil, cip.Error{Status: cip.StatusNotEnoughData}
		}
	}

	var transportTypeTrigger, pathSizeWords uint8
	if err := binary.Read(r, binary.LittleEndian, &transportTypeTrigger); err != nil {
		return nil, cip.Error{Status: cip.StatusNotEnoughData}
	}
	if err := binary.Read(r, binary.LittleEndian, &pathSizeWords); err != nil {
		return nil, cip.Error{Status: cip.StatusNotEnoughData}
	}
	connPath := make([]byte, int(pathSizeWords)*2)
	if len(connPath) > 0 {
		if _, err := r.Read(connPath); err != nil {
			return nil, cip.Error{Status: cip.StatusNotEnoughData}
		}
	}

	cm.mu.Lock()
	cm.nextConnID++
	toConnID := cm.nextConnID
	cm.connections[toConnID] = otConnID
	cm.mu.Unlock()

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, otConnID)
	binary.Write(buf, binary.LittleEndian, toConnID)
	binary.Write(buf, binary.LittleEndian, connSerial)
	binary.Write(buf, binary.LittleEndian, vendorID)
	binary.Write(buf, binary.LittleEndian, originatorSN)
	binary.Write(buf, binary.LittleEndian, otRPI) // actual packet interval = requested
	binary.Write(buf, binary.LittleEndian, toRPI)
	binary.Write(buf, binary.LittleEndian, uint8(0)) // application reply size
	binary.Write(buf, binary.LittleEndian, uint8(0)) // reserved
	return buf.Bytes(), nil
}

// handleForwardClose decodes a Forward_Close request (pkg/plc's
// forwardClose body layout) and drops the matching connection, if any.
func (cm *connManagerObject) handleForwardClose(data []byte) ([]byte, error) {
	r := bytes.NewReader(data)

	var priorityTimeTick, timeoutTicks uint8
	var connSerial, vendorID uint16
	var originatorSN uint32
	var pathSizeWords, reserved uint8

	fields := []any{
		&priorityTimeTick, &timeoutTicks,
		&connSerial, &vendorID, &originatorSN,
		&pathSizeWords, &reserved,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, cip.Error{Status: cip.StatusNotEnoughData}
		}
	}
	connPath := make([]byte, int(pathSizeWords)*2)
	if len(connPath) > 0 {
		if _, err := r.Read(connPath); err != nil {
			return nil, cip.Error{Status: cip.StatusNotEnoughData}
		}
	}

	// Forward_Close carries no connection id, only the originating
	// triad; a single simulated controller only ever serves one active
	// connection at a time, so closing means dropping all of them.
	cm.mu.Lock()
	cm.connections = make(map[uint32]uint32)
	cm.mu.Unlock()

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, connSerial)
	binary.Write(buf, binary.LittleEndian, vendorID)
	binary.Write(buf, binary.LittleEndian, originatorSN)
	binary.Write(buf, binary.LittleEndian, uint8(0)) // application reply size
	binary.Write(buf, binary.LittleEndian, uint8(0)) // reserved
	return buf.Bytes(), nil
}
