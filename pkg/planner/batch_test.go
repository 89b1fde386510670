package planner

import (
	"testing"

	"github.com/iceisfun/goeip/pkg/catalog"
	"github.com/iceisfun/goeip/pkg/cip"
)

func TestApplyBitExtract(t *testing.T) {
	parsed := &ParsedTag{BitKind: BitInteger, BitPos: 3}
	v := cip.IntValue(cip.TypeDINT, 0b1000) // bit 3 set

	got := applyBitExtract(parsed, cip.TypeDINT, v)
	if got.Kind != cip.KindBool || !got.Bool {
		t.Errorf("applyBitExtract() = %+v, want Bool(true)", got)
	}

	parsed.BitPos = 0
	got = applyBitExtract(parsed, cip.TypeDINT, v)
	if got.Bool {
		t.Errorf("applyBitExtract() bit 0 = true, want false")
	}
}

func TestApplyBitExtractNoneKind(t *testing.T) {
	parsed := &ParsedTag{BitKind: BitNone}
	v := cip.IntValue(cip.TypeDINT, 7)
	if got := applyBitExtract(parsed, cip.TypeDINT, v); got != v {
		t.Errorf("applyBitExtract() with BitNone should return v unchanged, got %+v", got)
	}
}

func TestDecodeElementsScalar(t *testing.T) {
	data := []byte{0x2A, 0x00, 0x00, 0x00} // DINT 42
	v, err := decodeElements(cip.TypeDINT, 1, data)
	if err != nil {
		t.Fatalf("decodeElements() error = %v", err)
	}
	if v.Int != 42 {
		t.Errorf("v.Int = %d, want 42", v.Int)
	}
}

func TestDecodeElementsArray(t *testing.T) {
	data := []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0}
	v, err := decodeElements(cip.TypeDINT, 3, data)
	if err != nil {
		t.Fatalf("decodeElements() error = %v", err)
	}
	if v.Kind != cip.KindArray || len(v.Array) != 3 {
		t.Fatalf("got %+v", v)
	}
	if v.Array[0].Int != 1 || v.Array[1].Int != 2 || v.Array[2].Int != 3 {
		t.Errorf("Array = %+v", v.Array)
	}
}

func TestAssignValueAndAssignError(t *testing.T) {
	u := &readUnit{names: []string{"A", "B"}}
	results := make(map[string]Tag)

	assignValue(results, u, cip.TypeDINT, cip.IntValue(cip.TypeDINT, 5))
	if results["A"].Value.Int != 5 || results["B"].Value.Int != 5 {
		t.Fatalf("assignValue did not fan out to both names: %+v", results)
	}

	errResults := make(map[string]Tag)
	wantErr := cip.Error{Status: cip.StatusObjectDoesNotExist}
	assignError(errResults, u, wantErr)
	for _, name := range []string{"A", "B"} {
		cipErr, ok := errResults[name].Err.(cip.Error)
		if !ok || cipErr.Status != wantErr.Status {
			t.Fatalf("assignError(%s) = %+v, want %+v", name, errResults[name].Err, wantErr)
		}
	}
}

// fakeCapturingRequester records the raw Multiple Service Packet request
// it was sent and answers with a single successful DINT reply.
type fakeCapturingRequester struct {
	sent *cip.MessageRouterRequest
}

func (f *fakeCapturingRequester) SendCIPRequest(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	f.sent = req
	reply := &cip.MessageRouterResponse{Service: cip.ServiceReadTag | 0x80, GeneralStatus: cip.StatusSuccess, ResponseData: append([]byte{byte(cip.TypeDINT), byte(cip.TypeDINT >> 8)}, 0x2A, 0x00, 0x00, 0x00)}
	enc, err := reply.Encode()
	if err != nil {
		return nil, err
	}
	mreq := cip.NewMultipleServicePacketRequest([][]byte{enc})
	return &cip.MessageRouterResponse{GeneralStatus: cip.StatusSuccess, ResponseData: mreq.RequestData}, nil
}

// TestPlannerReadTagsUsesCachedInstanceIDShortcut covers spec.md §8
// scenario 2: a tag with a known instance id is addressed via the
// firmware >= v21 logical-segment shortcut instead of its symbolic name.
func TestPlannerReadTagsUsesCachedInstanceIDShortcut(t *testing.T) {
	cat := catalogWithScalarTag(t, "Count", 42, cip.TypeDINT)

	fake := &fakeCapturingRequester{}
	p := New(fake, cat, 500)

	tags, err := p.ReadTags([]string{"Count"})
	if err != nil {
		t.Fatalf("ReadTags() error = %v", err)
	}
	if len(tags) != 1 || tags[0].Err != nil || tags[0].Value.Int != 42 {
		t.Fatalf("got %+v", tags)
	}

	// Header is 2 bytes count + 2 bytes offset (one sub-request).
	if fake.sent == nil || len(fake.sent.RequestData) < 4 {
		t.Fatalf("sent = %+v", fake.sent)
	}
	sub := fake.sent.RequestData[4:]
	want := []byte{0x4C, 0x03, 0x20, 0x6B, 0x25, 0x00, 0x2A, 0x00, 0x01, 0x00}
	if string(sub) != string(want) {
		t.Errorf("sub-request = % X, want % X", sub, want)
	}
}

// catalogWithScalarTag builds a Catalog pre-populated (via a real
// ScanTags call against a fake Requester) with a single atomic tag at
// the given instance id, so the planner's cached instance-id shortcut
// can be exercised without a live connection.
func catalogWithScalarTag(t *testing.T, name string, instanceID uint32, typ cip.DataType) *catalog.Catalog {
	t.Helper()
	return catalogWithScalarTags(t, scalarTagSpec{name, instanceID, typ})
}

// scalarTagSpec describes one atomic tag for catalogWithScalarTags.
type scalarTagSpec struct {
	name       string
	instanceID uint32
	typ        cip.DataType
}

// catalogWithScalarTags is catalogWithScalarTag for several tags scanned
// in one Get Instance Attributes List reply.
func catalogWithScalarTags(t *testing.T, specs ...scalarTagSpec) *catalog.Catalog {
	t.Helper()

	var buf []byte
	put32 := func(v uint32) {
		buf = append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	put16 := func(v uint16) {
		buf = append(buf, byte(v), byte(v>>8))
	}

	for _, s := range specs {
		put32(s.instanceID)
		put16(uint16(len(s.name)))
		buf = append(buf, s.name...)
		put16(uint16(s.typ)) // symbol type, atomic (non-struct, non-system)
		put32(0)             // symbol address
		put32(0)             // symbol object address
		put32(0)             // software control
		buf = append(buf, 0) // external access: read/write
		put32(0)
		put32(0)
		put32(0)
	}

	cat := catalog.New(&fakeSymbolRequester{record: buf})
	if _, err := cat.ScanTags(""); err != nil {
		t.Fatalf("ScanTags() error = %v", err)
	}
	return cat
}

// fakeBatchRequester answers a Multiple Service Packet request by
// encoding one canned MessageRouterResponse per subrequest, in order.
type fakeBatchRequester struct {
	replies []*cip.MessageRouterResponse
}

func (f *fakeBatchRequester) SendCIPRequest(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	subs := make([][]byte, len(f.replies))
	for i, r := range f.replies {
		enc, err := r.Encode()
		if err != nil {
			return nil, err
		}
		subs[i] = enc
	}
	mresp := cip.NewMultipleServicePacketRequest(subs)
	return &cip.MessageRouterResponse{GeneralStatus: cip.StatusSuccess, ResponseData: mresp.RequestData}, nil
}

func TestPlannerReadTagsBatchesIntoOneMultipleServicePacket(t *testing.T) {
	fake := &fakeBatchRequester{
		replies: []*cip.MessageRouterResponse{
			{Service: cip.ServiceReadTag | 0x80, GeneralStatus: cip.StatusSuccess, ResponseData: append([]byte{byte(cip.TypeDINT), byte(cip.TypeDINT >> 8)}, 1, 0, 0, 0)},
			{Service: cip.ServiceReadTag | 0x80, GeneralStatus: cip.StatusSuccess, ResponseData: append([]byte{byte(cip.TypeDINT), byte(cip.TypeDINT >> 8)}, 2, 0, 0, 0)},
		},
	}
	cat := catalogWithScalarTags(t, scalarTagSpec{"A", 1, cip.TypeDINT}, scalarTagSpec{"B", 2, cip.TypeDINT})
	p := New(fake, cat, 500)

	tags, err := p.ReadTags([]string{"A", "B"})
	if err != nil {
		t.Fatalf("ReadTags() error = %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("len(tags) = %d, want 2", len(tags))
	}
	if tags[0].Name != "A" || tags[0].Value.Int != 1 {
		t.Errorf("tags[0] = %+v", tags[0])
	}
	if tags[1].Name != "B" || tags[1].Value.Int != 2 {
		t.Errorf("tags[1] = %+v", tags[1])
	}
}

func TestPlannerReadTagsDedupsIdenticalPaths(t *testing.T) {
	fake := &fakeBatchRequester{
		replies: []*cip.MessageRouterResponse{
			{Service: cip.ServiceReadTag | 0x80, GeneralStatus: cip.StatusSuccess, ResponseData: append([]byte{byte(cip.TypeDINT), byte(cip.TypeDINT >> 8)}, 9, 0, 0, 0)},
		},
	}
	cat := catalogWithScalarTag(t, "Counter", 1, cip.TypeDINT)
	p := New(fake, cat, 500)

	tags, err := p.ReadTags([]string{"Counter", "Counter"})
	if err != nil {
		t.Fatalf("ReadTags() error = %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("len(tags) = %d, want 2 (one result per requested name, even when deduped on the wire)", len(tags))
	}
	if tags[0].Value.Int != 9 || tags[1].Value.Int != 9 {
		t.Errorf("tags = %+v", tags)
	}
}
