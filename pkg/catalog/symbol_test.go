package catalog

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func encodeRecord(instance uint32, name string, symbolType uint16, access byte, dims [3]uint32) []byte {
	var buf bytes.Buffer
	var u32 [4]byte
	var u16 [2]byte

	binary.LittleEndian.PutUint32(u32[:], instance)
	buf.Write(u32[:])

	binary.LittleEndian.PutUint16(u16[:], uint16(len(name)))
	buf.Write(u16[:])
	buf.WriteString(name)

	binary.LittleEndian.PutUint16(u16[:], symbolType)
	buf.Write(u16[:])
	binary.LittleEndian.PutUint32(u32[:], 0) // symbol address
	buf.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], 0) // symbol object address
	buf.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], 0) // software control
	buf.Write(u32[:])
	buf.WriteByte(access)
	for _, d := range dims {
		binary.LittleEndian.PutUint32(u32[:], d)
		buf.Write(u32[:])
	}
	return buf.Bytes()
}

func TestParseInstanceAttributeList(t *testing.T) {
	var data []byte
	data = append(data, encodeRecord(1, "Counter", 0x00C4, 0, [3]uint32{})...)
	data = append(data, encodeRecord(2, "Status", 0x00C2, 1, [3]uint32{})...)

	records, next, err := parseInstanceAttributeList(data)
	if err != nil {
		t.Fatalf("parseInstanceAttributeList() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].Name != "Counter" || records[0].InstanceID != 1 {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[1].Name != "Status" || records[1].ExternalAccess != AccessRead {
		t.Errorf("records[1] = %+v", records[1])
	}
	if next != 3 {
		t.Errorf("next = %d, want 3 (last instance + 1)", next)
	}
}

func TestParseInstanceAttributeListEmpty(t *testing.T) {
	records, next, err := parseInstanceAttributeList(nil)
	if err != nil {
		t.Fatalf("parseInstanceAttributeList(nil) error = %v", err)
	}
	if len(records) != 0 || next != 0 {
		t.Errorf("got records=%v next=%d, want empty/0", records, next)
	}
}

func TestParseInstanceAttributeListTruncated(t *testing.T) {
	full := encodeRecord(1, "Counter", 0x00C4, 0, [3]uint32{})
	_, _, err := parseInstanceAttributeList(full[:len(full)-2])
	if err == nil {
		t.Fatalf("expected error for truncated record")
	}
}
