package catalog

import (
	"testing"

	"github.com/iceisfun/goeip/pkg/cip"
)

func TestTagInfoSymbolTypeBits(t *testing.T) {
	tests := []struct {
		name       string
		symbolType uint16
		wantStruct bool
		wantSystem bool
		wantAtomic cip.DataType
		wantTmpl   uint32
	}{
		{"atomic DINT", 0x00C4, false, false, cip.TypeDINT, 0xC4},
		{"struct", 0x8000 | 0x005A, true, false, cip.DataType(0x5A), 0x5A},
		{"system", 0x1000 | 0x00C3, false, true, cip.TypeINT, 0xC3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := TagInfo{SymbolType: tt.symbolType}
			if got := info.IsStruct(); got != tt.wantStruct {
				t.Errorf("IsStruct() = %v, want %v", got, tt.wantStruct)
			}
			if got := info.IsSystem(); got != tt.wantSystem {
				t.Errorf("IsSystem() = %v, want %v", got, tt.wantSystem)
			}
			if got := info.AtomicType(); got != tt.wantAtomic {
				t.Errorf("AtomicType() = %#x, want %#x", got, tt.wantAtomic)
			}
			if got := info.TemplateInstanceID(); got != tt.wantTmpl {
				t.Errorf("TemplateInstanceID() = %#x, want %#x", got, tt.wantTmpl)
			}
		})
	}
}

func TestTagInfoArrayDims(t *testing.T) {
	tests := []struct {
		name string
		dims [3]uint32
		want int
	}{
		{"scalar", [3]uint32{0, 0, 0}, 0},
		{"1D", [3]uint32{10, 0, 0}, 1},
		{"2D", [3]uint32{10, 5, 0}, 2},
		{"3D", [3]uint32{10, 5, 2}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := TagInfo{Dimensions: tt.dims}
			if got := info.ArrayDims(); got != tt.want {
				t.Errorf("ArrayDims() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExternalAccessString(t *testing.T) {
	tests := []struct {
		access ExternalAccess
		want   string
	}{
		{AccessReadWrite, "Read/Write"},
		{AccessRead, "Read Only"},
		{AccessWrite, "Write Only"},
		{AccessNone, "None"},
	}
	for _, tt := range tests {
		if got := tt.access.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.access, got, tt.want)
		}
	}
}

func TestMemberIsPadding(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"ZZZZZZZZZZ0000001", true},
		{"__remainder", true},
		{"Count", false},
		{"", false},
	}
	for _, tt := range tests {
		m := Member{Name: tt.name}
		if got := m.IsPadding(); got != tt.want {
			t.Errorf("Member{Name:%q}.IsPadding() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCatalogClearResetsAllTables(t *testing.T) {
	c := New(nil)
	c.storeTag(TagInfo{Name: "Counter", InstanceID: 1})
	c.storeProgram("Program:MainProgram")
	c.storeUDT(&UDT{InstanceID: 5, Name: "MyUDT"})

	if _, ok := c.Tag("Counter"); !ok {
		t.Fatalf("Tag(Counter) not found before Clear")
	}
	if len(c.Programs()) != 1 {
		t.Fatalf("Programs() len = %d, want 1", len(c.Programs()))
	}
	if _, ok := c.UDTByInstance(5); !ok {
		t.Fatalf("UDTByInstance(5) not found before Clear")
	}

	c.Clear()

	if _, ok := c.Tag("Counter"); ok {
		t.Errorf("Tag(Counter) still present after Clear")
	}
	if got := c.Programs(); len(got) != 0 {
		t.Errorf("Programs() after Clear = %v, want empty", got)
	}
	if _, ok := c.UDTByInstance(5); ok {
		t.Errorf("UDTByInstance(5) still present after Clear")
	}
}

func TestCatalogStoreTagProgramScopedKey(t *testing.T) {
	c := New(nil)
	c.storeTag(TagInfo{Name: "Program:MainProgram.Step", Program: "MainProgram", InstanceID: 9})

	if _, ok := c.Tag("Step"); ok {
		t.Errorf("Tag(Step) should not be reachable by bare name when scoped")
	}
	got, ok := c.Tag("Program:MainProgram.Step")
	if !ok {
		t.Fatalf("Tag(Program:MainProgram.Step) not found")
	}
	if got.InstanceID != 9 {
		t.Errorf("InstanceID = %d, want 9", got.InstanceID)
	}
}

func TestCatalogStoreProgramDeduplicates(t *testing.T) {
	c := New(nil)
	c.storeProgram("Program:A")
	c.storeProgram("Program:A")
	c.storeProgram("Program:B")

	if got := c.Programs(); len(got) != 2 {
		t.Errorf("Programs() = %v, want 2 unique entries", got)
	}
}
