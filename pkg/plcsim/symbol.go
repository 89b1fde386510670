package plcsim

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/iceisfun/goeip/pkg/cip"
)

// dispatchListTags services Get Instance Attributes List (0x55) against
// the Symbol Object (class 0x6B), directly — not through
// cip.MessageRouter, since the request's path may carry a leading
// "Program:X" symbolic segment ahead of the class/instance segments,
// which the router's class-segment-first parser cannot handle.
//
// The reply format mirrors pkg/catalog's ScanTags exactly: each record
// is {instance:u32}{nameLen:u16}{name}{symbolType:u16}{symbolAddr:u32}
// {symbolObjAddr:u32}{softwareControl:u32}{access:u8}{dim1:u32}{dim2:u32}
// {dim3:u32}, concatenated with no per-attribute framing.
func (c *Controller) dispatchListTags(req *cip.MessageRouterRequest) *cip.MessageRouterResponse {
	program, startInstance, err := decodeSymbolListPath(req.RequestPath.Bytes())
	if err != nil {
		return errorResponse(req.Service, cip.StatusPathSegmentError, err)
	}

	names := c.tagNamesForScope(program)
	sort.Slice(names, func(i, j int) bool { return names[i].instance < names[j].instance })

	var page []simTagRecord
	for _, n := range names {
		if n.instance < startInstance {
			continue
		}
		page = append(page, n)
		if c.MaxListItems > 0 && len(page) >= c.MaxListItems {
			break
		}
	}

	buf := make([]byte, 0, 64*len(page))
	for _, rec := range page {
		buf = appendUint32(buf, rec.instance)
		buf = appendUint16(buf, uint16(len(rec.name)))
		buf = append(buf, rec.name...)
		buf = appendUint16(buf, rec.symbolType)
		buf = appendUint32(buf, 0) // symbol address
		buf = appendUint32(buf, 0) // symbol object address
		buf = appendUint32(buf, 0) // software control
		buf = append(buf, byte(0)) // external access: read/write
		buf = appendUint32(buf, 0)
		buf = appendUint32(buf, 0)
		buf = appendUint32(buf, 0)
	}

	status := cip.USINT(cip.StatusSuccess)
	if len(page) > 0 {
		last := page[len(page)-1].instance
		hasMore := false
		for _, n := range names {
			if n.instance > last {
				hasMore = true
				break
			}
		}
		if hasMore {
			status = cip.StatusPartialTransfer
		}
	}

	return &cip.MessageRouterResponse{Service: req.Service | 0x80, GeneralStatus: status, ResponseData: buf}
}

type simTagRecord struct {
	name       string
	instance   uint32
	symbolType uint16
}

// tagNamesForScope returns the registered tags visible at program scope
// ("" for controller scope). Every registered tag (controller- and
// program-scoped alike) gets a stable instance id from its position in
// the sorted full name list, so resuming a paged scan by instance id
// stays consistent across scopes.
func (c *Controller) tagNamesForScope(program string) []simTagRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := ""
	if program != "" {
		prefix = "Program:" + program + "."
	}

	names := make([]string, 0, len(c.tags))
	for name := range c.tags {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []simTagRecord
	for i, name := range names {
		instance := uint32(i + 1)
		isProgramTag := strings.HasPrefix(name, "Program:")

		if program == "" {
			if isProgramTag {
				continue
			}
			t := c.tags[name]
			out = append(out, simTagRecord{name: name, instance: instance, symbolType: uint16(t.typ)})
			continue
		}

		if !strings.HasPrefix(name, prefix) {
			continue
		}
		t := c.tags[name]
		out = append(out, simTagRecord{name: strings.TrimPrefix(name, prefix), instance: instance, symbolType: uint16(t.typ)})
	}
	return out
}

// decodeSymbolListPath parses an optional leading "Program:X" symbolic
// segment followed by a class segment (expected ClassSymbol) and an
// instance segment (8/16/32-bit), returning the program name (without
// the "Program:" prefix, empty for controller scope) and the starting
// instance id to resume a paged scan from.
func decodeSymbolListPath(path []byte) (string, uint32, error) {
	pos := 0
	program := ""

	if pos < len(path) && path[pos] == 0x91 {
		if pos+1 >= len(path) {
			return "", 0, fmt.Errorf("plcsim: truncated program segment")
		}
		n := int(path[pos+1])
		start := pos + 2
		if start+n > len(path) {
			return "", 0, fmt.Errorf("plcsim: truncated program segment name")
		}
		seg := string(path[start : start+n])
		program = strings.TrimPrefix(seg, "Program:")
		pos = start + n
		if n%2 != 0 {
			pos++
		}
	}

	if pos >= len(path) {
		return "", 0, fmt.Errorf("plcsim: missing class segment")
	}
	switch path[pos] {
	case 0x20:
		pos += 2
	case 0x21:
		pos += 4
	default:
		return "", 0, fmt.Errorf("plcsim: expected class segment, got 0x%02X", path[pos])
	}

	if pos >= len(path) {
		return program, 0, nil
	}
	switch path[pos] {
	case 0x24:
		if pos+1 >= len(path) {
			return "", 0, fmt.Errorf("plcsim: truncated instance segment")
		}
		return program, uint32(path[pos+1]), nil
	case 0x25:
		if pos+3 >= len(path) {
			return "", 0, fmt.Errorf("plcsim: truncated instance segment")
		}
		return program, uint32(binary.LittleEndian.Uint16(path[pos+2 : pos+4])), nil
	case 0x26:
		if pos+5 >= len(path) {
			return "", 0, fmt.Errorf("plcsim: truncated instance segment")
		}
		return program, binary.LittleEndian.Uint32(path[pos+2 : pos+6]), nil
	default:
		return "", 0, fmt.Errorf("plcsim: expected instance segment, got 0x%02X", path[pos])
	}
}

func appendUint16(b []byte, v uint16) []byte {
	tmp := make([]byte, 2)
	binary.LittleEndian.PutUint16(tmp, v)
	return append(b, tmp...)
}

func appendUint32(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}
