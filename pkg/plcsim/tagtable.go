package plcsim

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/iceisfun/goeip/pkg/cip"
)

// simTag is a controller-scoped tag's storage: a run of elements each
// elemSize bytes wide, in wire-encoded form. Storing the already-encoded
// bytes (rather than decoded cip.Value) means Read Tag Fragmented can
// slice directly out of data without re-encoding on every page.
type simTag struct {
	typ      cip.DataType
	elements int
	elemSize int
	data     []byte
}

func newSimTag(v cip.Value) *simTag {
	if v.Kind == cip.KindArray {
		var buf []byte
		for _, e := range v.Array {
			b, err := e.Encode()
			if err != nil {
				continue
			}
			buf = append(buf, b...)
		}
		size := cip.DataFunctionSize[v.Type.Base()]
		return &simTag{typ: v.Type, elements: len(v.Array), elemSize: size, data: buf}
	}

	b, err := v.Encode()
	if err != nil {
		b = nil
	}
	size := cip.DataFunctionSize[v.Type.Base()]
	if size == 0 {
		size = len(b)
	}
	return &simTag{typ: v.Type, elements: 1, elemSize: size, data: b}
}

func (t *simTag) toValue() cip.Value {
	if t.elements <= 1 {
		v, err := cip.DecodeValue(t.typ, t.data)
		if err != nil {
			return cip.BytesValue(t.typ, t.data)
		}
		return v
	}
	arr := make([]cip.Value, 0, t.elements)
	size := t.elemSize
	if size <= 0 {
		return cip.BytesValue(t.typ, t.data)
	}
	for off := 0; off+size <= len(t.data); off += size {
		v, err := cip.DecodeValue(t.typ, t.data[off:off+size])
		if err != nil {
			continue
		}
		arr = append(arr, v)
	}
	return cip.Value{Kind: cip.KindArray, Type: t.typ, Array: arr}
}

// symbolicAddr is a decoded EPATH addressed purely by symbolic segments:
// a dotted tag name plus an optional trailing element index.
type symbolicAddr struct {
	name     string
	hasIndex bool
	index    uint32
}

// decodeSymbolicPath inverts cip.CompileTagPath: it walks a raw EPATH
// joining consecutive 0x91 symbolic segments with '.' and capturing a
// single trailing 0x28/0x29/0x2A numeric segment as an array index.
func decodeSymbolicPath(path []byte) (symbolicAddr, error) {
	var addr symbolicAddr
	var parts []string

	pos := 0
	for pos < len(path) {
		switch path[pos] {
		case 0x91:
			if pos+1 >= len(path) {
				return addr, fmt.Errorf("plcsim: truncated symbolic segment")
			}
			n := int(path[pos+1])
			start := pos + 2
			if start+n > len(path) {
				return addr, fmt.Errorf("plcsim: truncated symbolic segment name")
			}
			parts = append(parts, string(path[start:start+n]))
			pos = start + n
			if n%2 != 0 {
				pos++
			}
		case 0x28:
			if pos+1 >= len(path) {
				return addr, fmt.Errorf("plcsim: truncated element segment")
			}
			addr.hasIndex = true
			addr.index = uint32(path[pos+1])
			pos += 2
		case 0x29:
			if pos+3 >= len(path) {
				return addr, fmt.Errorf("plcsim: truncated element segment")
			}
			addr.hasIndex = true
			addr.index = uint32(binary.LittleEndian.Uint16(path[pos+2 : pos+4]))
			pos += 4
		case 0x2A:
			if pos+5 >= len(path) {
				return addr, fmt.Errorf("plcsim: truncated element segment")
			}
			addr.hasIndex = true
			addr.index = binary.LittleEndian.Uint32(path[pos+2 : pos+6])
			pos += 6
		default:
			return addr, fmt.Errorf("plcsim: unsupported path segment 0x%02X", path[pos])
		}
	}

	addr.name = strings.Join(parts, ".")
	return addr, nil
}

func (c *Controller) lookupTag(addr symbolicAddr) (*simTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tags[addr.name]
	if !ok {
		return nil, cip.Error{Status: cip.StatusPathDestinationUnknown}
	}
	return t, nil
}

// dispatchTagService handles Read/Write Tag (Fragmented) and
// Read-Modify-Write against a symbolically-addressed tag.
func (c *Controller) dispatchTagService(req *cip.MessageRouterRequest) *cip.MessageRouterResponse {
	addr, err := decodeSymbolicPath(req.RequestPath.Bytes())
	if err != nil {
		return errorResponse(req.Service, cip.StatusPathSegmentError, err)
	}

	switch req.Service {
	case cip.ServiceReadTag:
		return c.handleReadTag(req, addr, 0, 0, false)
	case cip.ServiceReadTagFragmented:
		return c.handleReadTagFragmented(req, addr)
	case cip.ServiceWriteTag:
		return c.handleWriteTag(req, addr)
	case cip.ServiceWriteTagFragmented:
		return c.handleWriteTagFragmented(req, addr)
	case cip.ServiceReadModifyWriteTag:
		return c.handleReadModifyWrite(req, addr)
	}
	return errorResponse(req.Service, cip.StatusServiceNotSupported, fmt.Errorf("plcsim: unsupported tag service"))
}

func elementWindow(t *simTag, addr symbolicAddr, requestedElements int) ([]byte, int, error) {
	if !addr.hasIndex {
		if requestedElements <= 0 || requestedElements > t.elements {
			requestedElements = t.elements
		}
		n := requestedElements * t.elemSize
		if n > len(t.data) {
			n = len(t.data)
		}
		return t.data[:n], requestedElements, nil
	}
	if t.elemSize <= 0 {
		return nil, 0, fmt.Errorf("plcsim: cannot index variable-width tag")
	}
	start := int(addr.index) * t.elemSize
	if requestedElements <= 0 {
		requestedElements = 1
	}
	end := start + requestedElements*t.elemSize
	if start < 0 || end > len(t.data) {
		return nil, 0, cip.Error{Status: cip.StatusPathDestinationUnknown}
	}
	return t.data[start:end], requestedElements, nil
}

// handleReadTag services Read Tag (0x4C): RequestData is Elements(u16).
func (c *Controller) handleReadTag(req *cip.MessageRouterRequest, addr symbolicAddr, _ uint32, _ uint16, _ bool) *cip.MessageRouterResponse {
	if len(req.RequestData) < 2 {
		return errorResponse(req.Service, cip.StatusNotEnoughData, fmt.Errorf("plcsim: short read tag request"))
	}
	elements := int(binary.LittleEndian.Uint16(req.RequestData[0:2]))

	t, err := c.lookupTag(addr)
	if err != nil {
		return errorResponse(req.Service, cip.StatusPathDestinationUnknown, err)
	}
	window, _, err := elementWindow(t, addr, elements)
	if err != nil {
		return errorResponse(req.Service, cip.StatusPathDestinationUnknown, err)
	}

	respData := make([]byte, 2+len(window))
	binary.LittleEndian.PutUint16(respData[0:2], uint16(t.typ))
	copy(respData[2:], window)

	return &cip.MessageRouterResponse{Service: req.Service | 0x80, GeneralStatus: cip.StatusSuccess, ResponseData: respData}
}

// handleReadTagFragmented services Read Tag Fragmented (0x52):
// RequestData is Elements(u16), ByteOffset(u32). Pages out at
// MaxFragmentBytes per reply, signalling 0x06 (more data) until the tag
// is exhausted.
func (c *Controller) handleReadTagFragmented(req *cip.MessageRouterRequest, addr symbolicAddr) *cip.MessageRouterResponse {
	if len(req.RequestData) < 6 {
		return errorResponse(req.Service, cip.StatusNotEnoughData, fmt.Errorf("plcsim: short read tag fragmented request"))
	}
	elements := int(binary.LittleEndian.Uint16(req.RequestData[0:2]))
	byteOffset := binary.LittleEndian.Uint32(req.RequestData[2:6])

	t, err := c.lookupTag(addr)
	if err != nil {
		return errorResponse(req.Service, cip.StatusPathDestinationUnknown, err)
	}
	full, _, err := elementWindow(t, addr, elements)
	if err != nil {
		return errorResponse(req.Service, cip.StatusPathDestinationUnknown, err)
	}
	if int(byteOffset) > len(full) {
		return errorResponse(req.Service, cip.StatusPathDestinationUnknown, fmt.Errorf("plcsim: offset past end of tag"))
	}

	remaining := full[byteOffset:]
	chunkLimit := len(remaining)
	if c.MaxFragmentBytes > 0 && chunkLimit > c.MaxFragmentBytes {
		chunkLimit = c.MaxFragmentBytes
	}
	chunk := remaining[:chunkLimit]
	status := cip.USINT(cip.StatusSuccess)
	if chunkLimit < len(remaining) {
		status = cip.StatusPartialTransfer
	}

	respData := make([]byte, 2+len(chunk))
	binary.LittleEndian.PutUint16(respData[0:2], uint16(t.typ))
	copy(respData[2:], chunk)

	return &cip.MessageRouterResponse{Service: req.Service | 0x80, GeneralStatus: status, ResponseData: respData}
}

// handleWriteTag services Write Tag (0x4D): RequestData is
// DataType(u16), Elements(u16), Value bytes.
func (c *Controller) handleWriteTag(req *cip.MessageRouterRequest, addr symbolicAddr) *cip.MessageRouterResponse {
	if len(req.RequestData) < 4 {
		return errorResponse(req.Service, cip.StatusNotEnoughData, fmt.Errorf("plcsim: short write tag request"))
	}
	dataType := cip.DataType(binary.LittleEndian.Uint16(req.RequestData[0:2]))
	elements := int(binary.LittleEndian.Uint16(req.RequestData[2:4]))
	value := req.RequestData[4:]

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tags[addr.name]
	if !ok {
		t = &simTag{typ: dataType, elements: elements, elemSize: cip.DataFunctionSize[dataType.Base()]}
		c.tags[addr.name] = t
	}

	if !addr.hasIndex {
		t.typ = dataType
		t.elements = elements
		if t.elemSize == 0 {
			t.elemSize = cip.DataFunctionSize[dataType.Base()]
		}
		t.data = append([]byte(nil), value...)
		return &cip.MessageRouterResponse{Service: req.Service | 0x80, GeneralStatus: cip.StatusSuccess}
	}

	if t.elemSize <= 0 {
		return errorResponse(req.Service, cip.StatusPathDestinationUnknown, fmt.Errorf("plcsim: cannot index variable-width tag"))
	}
	start := int(addr.index) * t.elemSize
	end := start + len(value)
	if start < 0 {
		return errorResponse(req.Service, cip.StatusPathDestinationUnknown, fmt.Errorf("plcsim: negative index"))
	}
	if end > len(t.data) {
		grown := make([]byte, end)
		copy(grown, t.data)
		t.data = grown
		if end/t.elemSize > t.elements {
			t.elements = end / t.elemSize
		}
	}
	copy(t.data[start:end], value)
	return &cip.MessageRouterResponse{Service: req.Service | 0x80, GeneralStatus: cip.StatusSuccess}
}

// handleWriteTagFragmented services Write Tag Fragmented (0x53):
// RequestData is DataType(u16), Elements(u16), ByteOffset(u32), chunk.
// The client tracks its own completion offset, so every accepted chunk
// can simply be acknowledged as Success.
func (c *Controller) handleWriteTagFragmented(req *cip.MessageRouterRequest, addr symbolicAddr) *cip.MessageRouterResponse {
	if len(req.RequestData) < 8 {
		return errorResponse(req.Service, cip.StatusNotEnoughData, fmt.Errorf("plcsim: short write tag fragmented request"))
	}
	dataType := cip.DataType(binary.LittleEndian.Uint16(req.RequestData[0:2]))
	elements := int(binary.LittleEndian.Uint16(req.RequestData[2:4]))
	byteOffset := binary.LittleEndian.Uint32(req.RequestData[4:8])
	chunk := req.RequestData[8:]

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tags[addr.name]
	if !ok {
		t = &simTag{typ: dataType, elements: elements, elemSize: cip.DataFunctionSize[dataType.Base()]}
		c.tags[addr.name] = t
	}

	buf, ok := c.fragmentWrites[addr.name]
	if !ok || byteOffset == 0 {
		buf = make([]byte, 0, elements*cip.DataFunctionSize[dataType.Base()])
	}
	needed := int(byteOffset) + len(chunk)
	if needed > cap(buf) {
		grown := make([]byte, needed)
		copy(grown, buf)
		buf = grown
	} else if needed > len(buf) {
		buf = buf[:needed]
	}
	copy(buf[byteOffset:], chunk)
	c.fragmentWrites[addr.name] = buf

	t.typ = dataType
	t.elements = elements
	t.elemSize = cip.DataFunctionSize[dataType.Base()]
	t.data = append([]byte(nil), buf...)

	return &cip.MessageRouterResponse{Service: req.Service | 0x80, GeneralStatus: cip.StatusSuccess}
}

// handleReadModifyWrite services Read-Modify-Write Tag (0xCE):
// RequestData is MaskSize(u16), OrMask(maskSize), AndMask(maskSize).
// newVal = (cur & andMask) | orMask, which the client constructs so
// orMask and the complement of andMask never overlap.
func (c *Controller) handleReadModifyWrite(req *cip.MessageRouterRequest, addr symbolicAddr) *cip.MessageRouterResponse {
	if len(req.RequestData) < 2 {
		return errorResponse(req.Service, cip.StatusNotEnoughData, fmt.Errorf("plcsim: short read-modify-write request"))
	}
	maskSize := int(binary.LittleEndian.Uint16(req.RequestData[0:2]))
	if len(req.RequestData) < 2+2*maskSize {
		return errorResponse(req.Service, cip.StatusNotEnoughData, fmt.Errorf("plcsim: truncated read-modify-write masks"))
	}
	orMask := req.RequestData[2 : 2+maskSize]
	andMask := req.RequestData[2+maskSize : 2+2*maskSize]

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tags[addr.name]
	if !ok {
		return errorResponse(req.Service, cip.StatusPathDestinationUnknown, fmt.Errorf("plcsim: unknown tag"))
	}
	if len(t.data) < maskSize {
		grown := make([]byte, maskSize)
		copy(grown, t.data)
		t.data = grown
	}
	for i := 0; i < maskSize; i++ {
		t.data[i] = (t.data[i] & andMask[i]) | orMask[i]
	}

	return &cip.MessageRouterResponse{Service: req.Service | 0x80, GeneralStatus: cip.StatusSuccess}
}
