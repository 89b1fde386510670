package plcsim_test

import (
	"net"
	"strconv"
	"testing"

	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/plc"
	"github.com/iceisfun/goeip/pkg/plcsim"
)

func dialOptions(t *testing.T, addr string, opts ...plc.Option) plc.Options {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %q: %v", portStr, err)
	}
	base := []plc.Option{plc.WithPort(port), plc.WithDirectConnection(true)}
	return plc.NewOptions(host, append(base, opts...)...)
}

func startController(t *testing.T) (*plcsim.Controller, string) {
	t.Helper()
	ctrl := plcsim.NewController()
	addr, err := ctrl.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	return ctrl, addr
}

func TestControllerReadWriteScalarTag(t *testing.T) {
	ctrl, addr := startController(t)
	ctrl.AddTag("Counter", cip.IntValue(cip.TypeDINT, 42))

	conn, err := plc.Open(dialOptions(t, addr))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	tag, err := conn.ReadTag("Counter")
	if err != nil {
		t.Fatalf("ReadTag() error = %v", err)
	}
	if tag.Value.Int != 42 {
		t.Errorf("Counter = %d, want 42", tag.Value.Int)
	}

	if _, err := conn.WriteTag("Counter", cip.IntValue(cip.TypeDINT, 99)); err != nil {
		t.Fatalf("WriteTag() error = %v", err)
	}

	tag, err = conn.ReadTag("Counter")
	if err != nil {
		t.Fatalf("ReadTag() after write error = %v", err)
	}
	if tag.Value.Int != 99 {
		t.Errorf("Counter after write = %d, want 99", tag.Value.Int)
	}
}

func TestControllerReadModifyWriteBit(t *testing.T) {
	ctrl, addr := startController(t)
	ctrl.AddTag("Flags", cip.IntValue(cip.TypeDINT, 0))

	conn, err := plc.Open(dialOptions(t, addr))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := conn.WriteTag("Flags.3", cip.BoolValue(true)); err != nil {
		t.Fatalf("WriteTag(bit) error = %v", err)
	}

	tag, err := conn.ReadTag("Flags.3")
	if err != nil {
		t.Fatalf("ReadTag(bit) error = %v", err)
	}
	if !tag.Value.Bool {
		t.Errorf("Flags.3 = %v, want true", tag.Value.Bool)
	}

	v, _ := ctrl.TagValue("Flags")
	if v.Int&(1<<3) == 0 {
		t.Errorf("underlying Flags value did not have bit 3 set: %d", v.Int)
	}
}

func TestControllerFragmentedReadLargeArray(t *testing.T) {
	ctrl, addr := startController(t)
	ctrl.MaxFragmentBytes = 40

	elems := make([]cip.Value, 100)
	for i := range elems {
		elems[i] = cip.IntValue(cip.TypeDINT, int64(i))
	}
	ctrl.AddTag("Buffer", cip.Value{Kind: cip.KindArray, Type: cip.TypeDINT, Array: elems})

	conn, err := plc.Open(dialOptions(t, addr))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	tag, err := conn.ReadTag("Buffer{100}")
	if err != nil {
		t.Fatalf("ReadTag() error = %v", err)
	}
	if len(tag.Value.Array) != 100 {
		t.Fatalf("Buffer length = %d, want 100", len(tag.Value.Array))
	}
	if tag.Value.Array[42].Int != 42 {
		t.Errorf("Buffer[42] = %d, want 42", tag.Value.Array[42].Int)
	}
}

func TestControllerListTags(t *testing.T) {
	ctrl, addr := startController(t)
	ctrl.MaxListItems = 1
	ctrl.AddTag("Alpha", cip.IntValue(cip.TypeDINT, 1))
	ctrl.AddTag("Beta", cip.IntValue(cip.TypeDINT, 2))

	conn, err := plc.Open(dialOptions(t, addr))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	tags, err := conn.ListTags("")
	if err != nil {
		t.Fatalf("ListTags() error = %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("ListTags() returned %d tags, want 2", len(tags))
	}
}

func TestControllerListTagsProgramScopedNameRoundTrips(t *testing.T) {
	ctrl, addr := startController(t)
	ctrl.AddProgramTag("MainProgram", "Step", cip.IntValue(cip.TypeDINT, 7))

	conn, err := plc.Open(dialOptions(t, addr))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	tags, err := conn.ListTags("MainProgram")
	if err != nil {
		t.Fatalf("ListTags(MainProgram) error = %v", err)
	}
	if len(tags) != 1 {
		t.Fatalf("ListTags(MainProgram) returned %d tags, want 1", len(tags))
	}

	const want = "Program:MainProgram.Step"
	if tags[0].Name != want {
		t.Fatalf("tags[0].Name = %q, want %q", tags[0].Name, want)
	}

	// The catalog's returned name must be directly usable by ReadTag, per
	// pycomm3's get_tag_list contract ("so the tag list can be fed
	// directly into the read function").
	tag, err := conn.ReadTag(tags[0].Name)
	if err != nil {
		t.Fatalf("ReadTag(%q) error = %v", tags[0].Name, err)
	}
	if tag.Value.Int != 7 {
		t.Errorf("ReadTag(%q) = %d, want 7", tags[0].Name, tag.Value.Int)
	}
}

func TestControllerConnectedForwardOpen(t *testing.T) {
	_, addr := startController(t)

	conn, err := plc.Open(dialOptions(t, addr, plc.WithDirectConnection(false), plc.WithSlot(0)))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if conn.State() != plc.StateConnected {
		t.Fatalf("State() = %v, want StateConnected", conn.State())
	}
}

func TestControllerReadTemplatePaged(t *testing.T) {
	ctrl, addr := startController(t)
	ctrl.AddUDT(1, plcsim.UDTDef{
		Name: "MyUDT",
		Members: []plcsim.UDTMemberDef{
			{Name: "Count", Type: cip.TypeDINT},
			{Name: "Ratio", Type: cip.TypeREAL},
			{Name: "Flag", Type: cip.TypeBOOL, BitPos: 0},
		},
	})

	conn, err := plc.Open(dialOptions(t, addr))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	udt, err := conn.Catalog().ResolveUDT(1)
	if err != nil {
		t.Fatalf("ResolveUDT(1) error = %v", err)
	}
	if len(udt.Members) != 3 {
		t.Fatalf("UDT member count = %d, want 3", len(udt.Members))
	}
	if udt.Members[0].Name != "Count" {
		t.Errorf("Members[0].Name = %q, want Count", udt.Members[0].Name)
	}
}

func TestControllerBatchedReads(t *testing.T) {
	ctrl, addr := startController(t)
	ctrl.AddTag("A", cip.IntValue(cip.TypeDINT, 1))
	ctrl.AddTag("B", cip.IntValue(cip.TypeDINT, 2))
	ctrl.AddTag("C", cip.IntValue(cip.TypeDINT, 3))

	conn, err := plc.Open(dialOptions(t, addr))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	results, err := conn.ReadAll([]string{"A", "B", "C"})
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	want := map[string]int64{"A": 1, "B": 2, "C": 3}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("%s: %v", r.Name, r.Err)
			continue
		}
		if r.Value.Int != want[r.Name] {
			t.Errorf("%s = %d, want %d", r.Name, r.Value.Int, want[r.Name])
		}
	}
}
