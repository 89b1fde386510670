package planner

import (
	"fmt"

	"github.com/iceisfun/goeip/pkg/cip"
)

// maxSubrequestsPerBatch bounds the Multiple Service Packet's internal
// offset table (spec.md §4.5: "internal path-offset table overflow").
// 254 keeps the 2-byte offset table itself a small, fixed overhead and
// mirrors the service's own practical limit on ControlLogix firmware.
const maxSubrequestsPerBatch = 254

// readUnit is one tag queued for the read batcher, after dedup.
type readUnit struct {
	parsed    *ParsedTag
	typeSize  int // bytes per element; 0 if unknown (forces per-tag fallback)
	names     []string
	pathBytes []byte
}

// ReadTags resolves tag strings into Tag results, batching them into
// Multiple Service Packets under the connection's byte budget and
// issuing standalone Read Tag Fragmented requests for anything that
// would not fit a single packet (spec.md §4.5 "Batching (read path)").
func (p *Planner) ReadTags(tagStrings []string) ([]Tag, error) {
	units, order, err := p.planReads(tagStrings)
	if err != nil {
		return nil, err
	}

	results := make(map[string]Tag, len(tagStrings))

	var batch []*readUnit
	batchBytes := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.sendReadBatch(batch, results); err != nil {
			return err
		}
		batch = nil
		batchBytes = 0
		return nil
	}

	for _, u := range units {
		returnSize := u.typeSize * int(u.parsed.Elements)
		if u.typeSize == 0 || returnSize > p.connectionSize {
			if err := flush(); err != nil {
				return nil, err
			}
			if err := p.sendFragmentedRead(u, results); err != nil {
				return nil, err
			}
			continue
		}

		if batchBytes+returnSize > p.connectionSize || len(batch)+1 > maxSubrequestsPerBatch {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, u)
		batchBytes += returnSize
	}
	if err := flush(); err != nil {
		return nil, err
	}

	out := make([]Tag, 0, len(order))
	for _, name := range order {
		out = append(out, results[name])
	}
	return out, nil
}

// planReads parses and deduplicates tagStrings by (PathExpr, Elements),
// resolving each unit's per-element byte size from the catalog when
// known. order preserves the caller's original tag naming for the
// returned result list.
func (p *Planner) planReads(tagStrings []string) ([]*readUnit, []string, error) {
	byKey := make(map[string]*readUnit)
	var units []*readUnit
	order := make([]string, 0, len(tagStrings))

	for _, raw := range tagStrings {
		parsed, err := ParseTagString(raw, p.cat)
		if err != nil {
			return nil, nil, err
		}
		order = append(order, raw)

		key := fmt.Sprintf("%s|%d", parsed.PathExpr, parsed.Elements)
		if u, ok := byKey[key]; ok {
			u.names = append(u.names, raw)
			continue
		}

		pathBytes, err := p.compileTagPath(parsed)
		if err != nil {
			return nil, nil, err
		}

		size := 0
		if info, ok := p.cat.Tag(parsed.BaseTag); ok && !info.IsStruct() {
			size = cip.DataFunctionSize[info.AtomicType().Base()]
		}

		u := &readUnit{parsed: parsed, typeSize: size, names: []string{raw}, pathBytes: pathBytes}
		byKey[key] = u
		units = append(units, u)
	}

	return units, order, nil
}

// sendReadBatch issues one Multiple Service Packet covering units and
// demultiplexes the reply into results, keyed by every requesting name.
func (p *Planner) sendReadBatch(units []*readUnit, results map[string]Tag) error {
	subs := make([][]byte, len(units))
	for i, u := range units {
		req := cip.NewReadTagRequest(cip.Path(u.pathBytes), uint16(u.parsed.Elements))
		enc, err := req.Encode()
		if err != nil {
			return err
		}
		subs[i] = enc
	}

	mreq := cip.NewMultipleServicePacketRequest(subs)
	resp, err := p.req.SendCIPRequest(mreq)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		// A Too Much Data status on the packet as a whole is retried the
		// same way: re-split into single-tag batches.
		if resp.GeneralStatus == cip.StatusTooMuchData && len(units) > 1 {
			for _, u := range units {
				if err := p.sendReadBatch([]*readUnit{u}, results); err != nil {
					return err
				}
			}
			return nil
		}
		batchErr := resp.Error()
		for _, u := range units {
			assignError(results, u, batchErr)
		}
		return nil
	}

	subReplies, err := cip.DecodeMultipleServicePacketResponse(resp.ResponseData)
	if err != nil {
		return err
	}
	if len(subReplies) != len(units) {
		return fmt.Errorf("planner: multiple service packet reply count mismatch: got %d want %d", len(subReplies), len(units))
	}

	// Insufficient Packet Space (0x06) inside a Multiple Service Packet
	// invalidates the whole reply (spec.md §4.5 "Failure policy");
	// re-split into single-tag batches and retry individually.
	if len(units) > 1 {
		for _, sr := range subReplies {
			if sr.GeneralStatus == cip.StatusPartialTransfer {
				for _, u := range units {
					if err := p.sendReadBatch([]*readUnit{u}, results); err != nil {
						return err
					}
				}
				return nil
			}
		}
	}

	for i, sr := range subReplies {
		u := units[i]
		if sr.GeneralStatus != cip.StatusSuccess {
			assignError(results, u, cip.Error{Status: sr.GeneralStatus, ExtStatus: sr.ExtStatus})
			continue
		}
		tagType, value, decodeErr := decodeReadTagData(sr.ResponseData)
		if decodeErr != nil {
			assignError(results, u, decodeErr)
			continue
		}
		assignValue(results, u, tagType, applyBitExtract(u.parsed, tagType, value))
	}
	return nil
}

// sendFragmentedRead handles a single tag whose return size exceeds the
// connection byte budget (or whose size is unknown), continuing while
// the reply-level status is 0x06 (spec.md §4.5 "Fragmented read").
func (p *Planner) sendFragmentedRead(u *readUnit, results map[string]Tag) error {
	var data []byte
	var tagType cip.DataType
	offset := uint32(0)

	for {
		req := cip.NewReadTagFragmentedRequest(cip.Path(u.pathBytes), uint16(u.parsed.Elements), offset)
		resp, err := p.req.SendCIPRequest(req)
		if err != nil {
			return err
		}
		if resp.GeneralStatus != cip.StatusSuccess && resp.GeneralStatus != cip.StatusPartialTransfer {
			assignError(results, u, resp.Error())
			return nil
		}
		if len(resp.ResponseData) < 2 {
			assignError(results, u, fmt.Errorf("planner: fragmented read reply too short"))
			return nil
		}
		tagType = cip.DataType(uint16(resp.ResponseData[0]) | uint16(resp.ResponseData[1])<<8)
		data = append(data, resp.ResponseData[2:]...)

		if resp.GeneralStatus == cip.StatusSuccess {
			break
		}
		offset = uint32(len(data))
	}

	value, err := decodeElements(tagType, u.parsed.Elements, data)
	if err != nil {
		assignError(results, u, err)
		return nil
	}
	assignValue(results, u, tagType, applyBitExtract(u.parsed, tagType, value))
	return nil
}

func decodeReadTagData(data []byte) (cip.DataType, cip.Value, error) {
	if len(data) < 2 {
		return 0, cip.Value{}, fmt.Errorf("planner: read tag reply too short")
	}
	tagType := cip.DataType(uint16(data[0]) | uint16(data[1])<<8)
	v, err := cip.DecodeValue(tagType, data[2:])
	return tagType, v, err
}

func decodeElements(tagType cip.DataType, elements uint32, data []byte) (cip.Value, error) {
	if elements <= 1 {
		return cip.DecodeValue(tagType, data)
	}
	size := cip.DataFunctionSize[tagType.Base()]
	if size == 0 {
		return cip.BytesValue(tagType, data), nil
	}
	arr := make([]cip.Value, 0, elements)
	for off := 0; off+size <= len(data); off += size {
		v, err := cip.DecodeValue(tagType, data[off:off+size])
		if err != nil {
			return cip.Value{}, err
		}
		arr = append(arr, v)
	}
	return cip.Value{Kind: cip.KindArray, Type: tagType, Array: arr}, nil
}

// applyBitExtract narrows a decoded integer Value down to a single BOOL
// when the parsed tag addressed a bit (spec.md §4.5 "Tag.5").
func applyBitExtract(parsed *ParsedTag, tagType cip.DataType, v cip.Value) cip.Value {
	if parsed.BitKind == BitNone {
		return v
	}
	var word uint64
	switch v.Kind {
	case cip.KindUint8, cip.KindUint16, cip.KindUint32, cip.KindUint64:
		word = v.Uint
	case cip.KindInt8, cip.KindInt16, cip.KindInt32, cip.KindInt64:
		word = uint64(v.Int)
	default:
		return v
	}
	bit := (word >> parsed.BitPos) & 1
	return cip.BoolValue(bit != 0)
}

func assignValue(results map[string]Tag, u *readUnit, tagType cip.DataType, v cip.Value) {
	for _, name := range u.names {
		results[name] = Tag{Name: name, Value: v, Type: tagType}
	}
}

func assignError(results map[string]Tag, u *readUnit, err error) {
	for _, name := range u.names {
		results[name] = Tag{Name: name, Err: err}
	}
}
