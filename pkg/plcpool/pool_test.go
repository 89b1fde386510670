package plcpool_test

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/plc"
	"github.com/iceisfun/goeip/pkg/plcpool"
	"github.com/iceisfun/goeip/pkg/plcsim"
)

func dialMember(t *testing.T, addr string) *plc.Connection {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %q: %v", portStr, err)
	}
	conn, err := plc.Open(plc.NewOptions(host, plc.WithPort(port), plc.WithDirectConnection(true)))
	if err != nil {
		t.Fatalf("Open(%s) error = %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func startMember(t *testing.T, counterValue int64) string {
	t.Helper()
	ctrl := plcsim.NewController()
	ctrl.AddTag("Counter", cip.IntValue(cip.TypeDINT, counterValue))
	addr, err := ctrl.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	return addr
}

func TestPoolAddRemoveNames(t *testing.T) {
	p := plcpool.New()
	addrA := startMember(t, 1)
	addrB := startMember(t, 2)

	p.Add("a", dialMember(t, addrA))
	p.Add("b", dialMember(t, addrB))

	names := p.Names()
	if len(names) != 2 {
		t.Fatalf("Names() = %v, want 2 entries", names)
	}
	if _, ok := p.Get("a"); !ok {
		t.Errorf("Get(a) missing")
	}

	p.Remove("a")
	if _, ok := p.Get("a"); ok {
		t.Errorf("Get(a) still present after Remove")
	}
	if len(p.Names()) != 1 {
		t.Errorf("Names() after Remove = %d, want 1", len(p.Names()))
	}
}

func TestPoolReadTagFanOut(t *testing.T) {
	p := plcpool.New()
	p.Add("a", dialMember(t, startMember(t, 10)))
	p.Add("b", dialMember(t, startMember(t, 20)))

	results := p.ReadTag(context.Background(), "Counter")
	if len(results) != 2 {
		t.Fatalf("ReadTag() returned %d results, want 2", len(results))
	}

	byName := make(map[string]int64)
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("%s: unexpected error %v", r.Name, r.Err)
			continue
		}
		byName[r.Name] = r.Value.Value.Int
	}
	if byName["a"] != 10 {
		t.Errorf("a = %d, want 10", byName["a"])
	}
	if byName["b"] != 20 {
		t.Errorf("b = %d, want 20", byName["b"])
	}
}

func TestPoolWriteTagFanOut(t *testing.T) {
	p := plcpool.New()
	p.Add("a", dialMember(t, startMember(t, 0)))
	p.Add("b", dialMember(t, startMember(t, 0)))

	results := p.WriteTag(context.Background(), "Counter", cip.IntValue(cip.TypeDINT, 7))
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("%s: WriteTag error = %v", r.Name, r.Err)
		}
	}

	for _, name := range p.Names() {
		conn, _ := p.Get(name)
		tag, err := conn.ReadTag("Counter")
		if err != nil {
			t.Fatalf("%s: ReadTag() error = %v", name, err)
		}
		if tag.Value.Int != 7 {
			t.Errorf("%s: Counter = %d, want 7", name, tag.Value.Int)
		}
	}
}

func TestPoolReadTagMissingMember(t *testing.T) {
	p := plcpool.New()
	p.Add("nil-member", nil)

	results := p.ReadTag(context.Background(), "Counter")
	if len(results) != 1 {
		t.Fatalf("ReadTag() returned %d results, want 1", len(results))
	}
	if results[0].Err == nil {
		t.Errorf("expected error for member with nil connection")
	}
}

func TestPoolClose(t *testing.T) {
	p := plcpool.New()
	p.Add("a", dialMember(t, startMember(t, 1)))

	errs := p.Close()
	if len(errs) != 0 {
		t.Errorf("Close() errs = %v, want none", errs)
	}
	if len(p.Names()) != 0 {
		t.Errorf("Names() after Close = %d, want 0", len(p.Names()))
	}
}
