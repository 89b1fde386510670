package planner

import (
	"testing"

	"github.com/iceisfun/goeip/pkg/catalog"
	"github.com/iceisfun/goeip/pkg/cip"
)

func TestMaskBytes(t *testing.T) {
	tests := []struct {
		size uint16
		mask uint64
		want []byte
	}{
		{1, 0xAB, []byte{0xAB}},
		{2, 0x1234, []byte{0x34, 0x12}},
		{4, 0x12345678, []byte{0x78, 0x56, 0x34, 0x12}},
	}
	for _, tt := range tests {
		if got := maskBytes(tt.size, tt.mask); string(got) != string(tt.want) {
			t.Errorf("maskBytes(%d, %#x) = %v, want %v", tt.size, tt.mask, got, tt.want)
		}
	}
}

func TestBitMaskSizeUnknownTagFallsBackToBitPosition(t *testing.T) {
	p := &Planner{cat: catalog.New(nil)}
	tests := []struct {
		bitPos uint32
		want   uint16
	}{
		{0, 1},
		{7, 1},
		{8, 2},
		{15, 2},
		{16, 4},
		{31, 4},
	}
	for _, tt := range tests {
		parsed := &ParsedTag{BitKind: BitInteger, BitPos: tt.bitPos}
		if got := p.bitMaskSize(parsed); got != tt.want {
			t.Errorf("bitMaskSize(bit=%d) = %d, want %d", tt.bitPos, got, tt.want)
		}
	}
}

func TestBitMaskSizeBoolArrayAlwaysFour(t *testing.T) {
	p := &Planner{cat: catalog.New(nil)}
	parsed := &ParsedTag{BitKind: BitBoolArray, BitPos: 0}
	if got := p.bitMaskSize(parsed); got != 4 {
		t.Errorf("bitMaskSize(BitBoolArray) = %d, want 4", got)
	}
}

// fakeWriteRequester answers Write Tag and Read-Modify-Write requests,
// recording each request's service so a test can assert which path the
// planner took.
type fakeWriteRequester struct {
	services []cip.USINT
}

func (f *fakeWriteRequester) SendCIPRequest(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	f.services = append(f.services, req.Service)
	return &cip.MessageRouterResponse{Service: req.Service | 0x80, GeneralStatus: cip.StatusSuccess}, nil
}

func TestPlannerWriteTagsScalar(t *testing.T) {
	fake := &fakeWriteRequester{}
	p := New(fake, catalog.New(nil), 500)

	tags, err := p.WriteTags([]WriteRequest{{Tag: "Counter", Value: cip.IntValue(cip.TypeDINT, 42)}})
	if err != nil {
		t.Fatalf("WriteTags() error = %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "Counter" || tags[0].Value.Int != 42 {
		t.Fatalf("got %+v", tags)
	}
	if len(fake.services) != 1 || fake.services[0] != cip.ServiceWriteTag {
		t.Errorf("services = %v, want [ServiceWriteTag]", fake.services)
	}
}

func TestPlannerWriteTagsCoalescesBitsIntoOneReadModifyWrite(t *testing.T) {
	fake := &fakeWriteRequester{}
	p := New(fake, catalog.New(nil), 500)

	tags, err := p.WriteTags([]WriteRequest{
		{Tag: "Status.0", Value: cip.BoolValue(true)},
		{Tag: "Status.1", Value: cip.BoolValue(false)},
	})
	if err != nil {
		t.Fatalf("WriteTags() error = %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("len(tags) = %d, want 2", len(tags))
	}
	if len(fake.services) != 1 || fake.services[0] != cip.ServiceReadModifyWriteTag {
		t.Fatalf("services = %v, want a single ServiceReadModifyWriteTag (bits on the same tag coalesced)", fake.services)
	}
}

func TestPlannerWriteTagsFragmentedForOversizePayload(t *testing.T) {
	fake := &fakeWriteRequester{}
	p := New(fake, catalog.New(nil), 16) // tiny connection size forces fragmentation

	encoded := make([]byte, 40)
	tags, err := p.WriteTags([]WriteRequest{{Tag: "Buffer", Value: cip.BytesValue(cip.TypeSINT, encoded)}})
	if err != nil {
		t.Fatalf("WriteTags() error = %v", err)
	}
	if len(tags) != 1 || tags[0].Err != nil {
		t.Fatalf("got %+v", tags)
	}
	if len(fake.services) < 2 {
		t.Fatalf("services = %v, want multiple ServiceWriteTagFragmented chunks", fake.services)
	}
	for _, s := range fake.services {
		if s != cip.ServiceWriteTagFragmented {
			t.Errorf("service = %#x, want ServiceWriteTagFragmented", s)
		}
	}
}
