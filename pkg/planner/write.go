package planner

import (
	"fmt"

	"github.com/iceisfun/goeip/pkg/cip"
)

// WriteRequest is one tag/value pair for WriteTags.
type WriteRequest struct {
	Tag   string
	Value cip.Value
}

// WriteTags writes each requested tag, coalescing same-tag bit writes
// into Read-Modify-Write requests and issuing ordinary Write Tag (or
// Write Tag Fragmented, for oversize payloads) requests for the rest.
// Results preserve request order.
func (p *Planner) WriteTags(writes []WriteRequest) ([]Tag, error) {
	// orMask collects bits forced to 1; clearMask collects bits forced
	// to 0. Bits touched by neither pass through the read value
	// unchanged once the final and_mask is derived at send time.
	type bitGroup struct {
		pathBytes []byte
		maskSize  uint16
		orMask    uint64
		clearMask uint64
		names     []string
	}
	bitGroups := make(map[string]*bitGroup)
	var bitOrder []string

	results := make(map[string]Tag, len(writes))
	order := make([]string, 0, len(writes))

	for _, w := range writes {
		parsed, err := ParseTagString(w.Tag, p.cat)
		if err != nil {
			return nil, err
		}
		order = append(order, w.Tag)

		if parsed.BitKind == BitNone {
			if err := p.sendScalarWrite(parsed, w, results); err != nil {
				return nil, err
			}
			continue
		}

		pathBytes, err := p.compileTagPath(parsed)
		if err != nil {
			return nil, err
		}

		maskSize := p.bitMaskSize(parsed)
		key := parsed.PathExpr
		g, ok := bitGroups[key]
		if !ok {
			g = &bitGroup{pathBytes: pathBytes, maskSize: maskSize}
			bitGroups[key] = g
			bitOrder = append(bitOrder, key)
		}
		if maskSize > g.maskSize {
			g.maskSize = maskSize
		}

		bit := uint64(1) << parsed.BitPos
		if w.Value.Bool {
			g.orMask |= bit
			g.clearMask &^= bit
		} else {
			g.clearMask |= bit
			g.orMask &^= bit
		}
		g.names = append(g.names, w.Tag)
	}

	for _, key := range bitOrder {
		g := bitGroups[key]
		ones := uint64(1)<<(8*g.maskSize) - 1
		andMask := ones &^ g.clearMask
		if err := p.sendReadModifyWrite(g.pathBytes, g.maskSize, g.orMask, andMask, g.names, results); err != nil {
			return nil, err
		}
	}

	out := make([]Tag, 0, len(order))
	for _, name := range order {
		out = append(out, results[name])
	}
	return out, nil
}

// bitMaskSize picks the mask width for a bit write (spec.md §4.5:
// "mask_size chosen as the smallest that covers the bit"): when the
// underlying tag's declared type is known, the mask always matches that
// type's width (an INT tag takes a 2-byte R-M-W regardless of which bit
// is touched); otherwise it falls back to the smallest width that covers
// the bit position. The BOOL-array-over-DWORD case always forces 4.
func (pl *Planner) bitMaskSize(p *ParsedTag) uint16 {
	if p.BitKind == BitBoolArray {
		return 4
	}
	if info, ok := pl.cat.Tag(p.BaseTag); ok && !info.IsStruct() {
		if size := cip.DataFunctionSize[info.AtomicType().Base()]; size > 0 {
			return uint16(size)
		}
	}
	switch {
	case p.BitPos < 8:
		return 1
	case p.BitPos < 16:
		return 2
	default:
		return 4
	}
}

func (p *Planner) sendReadModifyWrite(pathBytes []byte, maskSize uint16, orMask, andMask uint64, names []string, results map[string]Tag) error {
	orBytes := maskBytes(maskSize, orMask)
	andBytes := maskBytes(maskSize, andMask)

	req := cip.NewReadModifyWriteRequest(cip.Path(pathBytes), maskSize, orBytes, andBytes)
	resp, err := p.req.SendCIPRequest(req)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		for _, name := range names {
			results[name] = Tag{Name: name, Err: resp.Error()}
		}
		return nil
	}
	for _, name := range names {
		results[name] = Tag{Name: name, Value: cip.BoolValue(true)}
	}
	return nil
}

func maskBytes(size uint16, mask uint64) []byte {
	b := make([]byte, size)
	for i := uint16(0); i < size; i++ {
		b[i] = byte(mask >> (8 * i))
	}
	return b
}

func (p *Planner) sendScalarWrite(parsed *ParsedTag, w WriteRequest, results map[string]Tag) error {
	pathBytes, err := p.compileTagPath(parsed)
	if err != nil {
		return err
	}
	encoded, err := w.Value.Encode()
	if err != nil {
		return err
	}

	size := len(encoded) * int(parsed.Elements)
	if parsed.Elements > 1 {
		size = len(encoded)
	}
	if size > p.connectionSize {
		return p.sendFragmentedWrite(pathBytes, w.Value.Type, parsed.Elements, encoded, w.Tag, results)
	}

	req := cip.NewWriteTagRequest(cip.Path(pathBytes), w.Value.Type, uint16(parsed.Elements), encoded)
	resp, err := p.req.SendCIPRequest(req)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		results[w.Tag] = Tag{Name: w.Tag, Err: resp.Error()}
		return nil
	}
	results[w.Tag] = Tag{Name: w.Tag, Value: w.Value, Type: w.Value.Type}
	return nil
}

func (p *Planner) sendFragmentedWrite(pathBytes []byte, dataType cip.DataType, elements uint32, encoded []byte, name string, results map[string]Tag) error {
	offset := uint32(0)
	chunkSize := p.connectionSize - 8
	if chunkSize <= 0 {
		return fmt.Errorf("planner: connection size too small for fragmented write")
	}

	for int(offset) < len(encoded) {
		end := int(offset) + chunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		req := cip.NewWriteTagFragmentedRequest(cip.Path(pathBytes), dataType, uint16(elements), offset, encoded[offset:end])
		resp, err := p.req.SendCIPRequest(req)
		if err != nil {
			return err
		}
		if resp.GeneralStatus != cip.StatusSuccess && resp.GeneralStatus != cip.StatusPartialTransfer {
			results[name] = Tag{Name: name, Err: resp.Error()}
			return nil
		}
		offset = uint32(end)
	}
	results[name] = Tag{Name: name, Type: dataType}
	return nil
}
