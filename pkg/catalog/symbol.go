package catalog

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/metrics"
)

// symbolAttributes is the attribute id set requested from the Symbol
// Object during a scan (spec.md §4.4): name, symbol type, symbol
// address, symbol object address, software control, external access,
// array dimensions.
var symbolAttributes = []cip.UINT{1, 2, 3, 5, 6, 10, 8}

// ScanTags performs a controller-scoped (program == "") or
// program-scoped Get Instance Attributes List scan of the Symbol
// Object, paging until the reply status signals completion, and caches
// every user tag it finds. It returns the newly discovered TagInfo
// entries.
func (c *Catalog) ScanTags(program string) ([]TagInfo, error) {
	start := time.Now()
	scope := "controller"
	if program != "" {
		scope = program
	}
	defer func() {
		metrics.CatalogScanDurationHistogram.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	}()

	var programPrefix cip.Path
	if program != "" {
		if !strings.HasPrefix(program, "Program:") {
			program = "Program:" + program
		}
		programPrefix = cip.NewPath()
		programPrefix.AddSymbolicSegment(program)
	}

	var found []TagInfo
	lastInstance := uint32(0)
	for {
		path := cip.NewPath()
		path = append(path, programPrefix...)
		path.AddClass(cip.ClassSymbol)
		path.AddInstance32(lastInstance)

		req := cip.NewGetInstanceAttributesListRequest(path, symbolAttributes)
		resp, err := c.req.SendCIPRequest(req)
		if err != nil {
			return found, fmt.Errorf("catalog: scan tags: %w", err)
		}

		records, nextInstance, perr := parseInstanceAttributeList(resp.ResponseData)
		if perr != nil {
			return found, fmt.Errorf("catalog: parse instance attribute list: %w", perr)
		}

		for _, t := range records {
			if strings.HasPrefix(t.Name, "Program:") {
				c.storeProgram(t.Name)
				continue
			}
			if strings.Contains(t.Name, ":") || strings.Contains(t.Name, "__") {
				continue
			}
			if t.IsSystem() {
				continue
			}

			if program != "" {
				t.Program = strings.TrimPrefix(program, "Program:")
				// Qualify the returned name to "Program:<program>.<name>" so
				// it can be fed straight back into ReadTag/WriteTag, matching
				// pycomm3's get_tag_list contract and the wire form the
				// EPATH builder expects for a program-scoped tag string.
				t.Name = program + "." + t.Name
			}
			c.storeTag(t)
			found = append(found, t)
		}

		if resp.GeneralStatus != cip.StatusSuccess && resp.GeneralStatus != cip.StatusPartialTransfer {
			return found, fmt.Errorf("catalog: scan tags: %w", resp.Error())
		}
		if resp.GeneralStatus == cip.StatusSuccess {
			break
		}
		lastInstance = nextInstance
	}

	metrics.CatalogTagCount.WithLabelValues(scope).Set(float64(len(found)))
	return found, nil
}

// parseInstanceAttributeList walks the concatenated record stream
// returned by Get Instance Attributes List (spec.md §4.4), returning
// the decoded records and the instance id to resume from (one past the
// last instance seen, or 0 when data holds no records).
func parseInstanceAttributeList(data []byte) ([]TagInfo, uint32, error) {
	var records []TagInfo
	idx := 0
	lastSeen := uint32(0)

	for idx < len(data) {
		if idx+4 > len(data) {
			return records, 0, fmt.Errorf("truncated record at offset %d", idx)
		}
		instance := binary.LittleEndian.Uint32(data[idx : idx+4])
		idx += 4

		if idx+2 > len(data) {
			return records, 0, fmt.Errorf("truncated name length at offset %d", idx)
		}
		nameLen := int(binary.LittleEndian.Uint16(data[idx : idx+2]))
		idx += 2

		if idx+nameLen > len(data) {
			return records, 0, fmt.Errorf("truncated name at offset %d", idx)
		}
		name := string(data[idx : idx+nameLen])
		idx += nameLen

		if idx+27 > len(data) {
			return records, 0, fmt.Errorf("truncated fixed fields at offset %d", idx)
		}
		symbolType := binary.LittleEndian.Uint16(data[idx : idx+2])
		idx += 2
		symbolAddr := binary.LittleEndian.Uint32(data[idx : idx+4])
		idx += 4
		symbolObjAddr := binary.LittleEndian.Uint32(data[idx : idx+4])
		idx += 4
		softwareControl := binary.LittleEndian.Uint32(data[idx : idx+4])
		idx += 4
		access := ExternalAccess(data[idx] & 0x03)
		idx++
		dim1 := binary.LittleEndian.Uint32(data[idx : idx+4])
		idx += 4
		dim2 := binary.LittleEndian.Uint32(data[idx : idx+4])
		idx += 4
		dim3 := binary.LittleEndian.Uint32(data[idx : idx+4])
		idx += 4

		records = append(records, TagInfo{
			Name:             name,
			InstanceID:       instance,
			SymbolType:       symbolType,
			SymbolAddress:    symbolAddr,
			SymbolObjectAddr: symbolObjAddr,
			SoftwareControl:  softwareControl,
			ExternalAccess:   access,
			Dimensions:       [3]uint32{dim1, dim2, dim3},
		})
		lastSeen = instance
	}

	if len(records) == 0 {
		return records, 0, nil
	}
	return records, lastSeen + 1, nil
}
