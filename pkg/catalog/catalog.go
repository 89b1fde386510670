// Package catalog builds and caches the controller's tag directory and
// UDT (structure) descriptors by scanning the Symbol Object (class
// 0x6B) and Template Object (class 0x6C), per spec.md §4.4.
package catalog

import (
	"strings"
	"sync"

	"github.com/iceisfun/goeip/pkg/cip"
)

// Requester is the minimal interface a Connection must satisfy for the
// catalog to issue CIP requests; kept narrow so this package does not
// import pkg/plc.
type Requester interface {
	SendCIPRequest(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error)
}

// ExternalAccess is the access-right bit pattern recorded on attribute
// 10 of a symbol instance.
type ExternalAccess int

const (
	AccessReadWrite ExternalAccess = 0
	AccessRead      ExternalAccess = 1
	AccessWrite     ExternalAccess = 2
	AccessNone      ExternalAccess = 3
)

func (a ExternalAccess) String() string {
	switch a {
	case AccessReadWrite:
		return "Read/Write"
	case AccessRead:
		return "Read Only"
	case AccessWrite:
		return "Write Only"
	default:
		return "None"
	}
}

// TagInfo is one entry in the controller's tag directory (spec.md §3
// "Tag descriptor").
type TagInfo struct {
	Name             string
	InstanceID       uint32
	SymbolType       uint16
	SymbolAddress    uint32
	SymbolObjectAddr uint32
	SoftwareControl  uint32
	ExternalAccess   ExternalAccess
	Dimensions       [3]uint32
	Program          string // "" for controller scope
}

// IsStruct reports whether the symbol type's struct flag (bit 15) is
// set.
func (t TagInfo) IsStruct() bool {
	return t.SymbolType&0x8000 != 0
}

// IsSystem reports whether the symbol type's system-tag flag (bit 12)
// is set; such tags are always filtered out of the catalog.
func (t TagInfo) IsSystem() bool {
	return t.SymbolType&0x1000 != 0
}

// AtomicType returns the atomic CIP data type encoded in the symbol
// type's low 12 bits when IsStruct is false.
func (t TagInfo) AtomicType() cip.DataType {
	return cip.DataType(t.SymbolType & 0x0FFF)
}

// TemplateInstanceID returns the Template Object instance id encoded in
// the symbol type's low 12 bits when IsStruct is true.
func (t TagInfo) TemplateInstanceID() uint32 {
	return uint32(t.SymbolType & 0x0FFF)
}

// ArrayDims returns the number of non-zero dimensions (0, 1, 2, or 3).
func (t TagInfo) ArrayDims() int {
	n := 0
	for _, d := range t.Dimensions {
		if d != 0 {
			n++
		}
	}
	return n
}

// Member is one field of a UDT, in declaration order.
type Member struct {
	Name       string
	Offset     uint32
	Type       cip.DataType // atomic type, or TypeSTRUCT when TemplateID != 0
	TemplateID uint32       // nonzero when Type refers to a nested UDT
	ArrayDim   uint32
	BitPos     int // -1 unless this member is a BOOL packed into a parent DINT
}

// IsPadding reports whether this member is internal padding hidden from
// user-facing attribute listings (spec.md §3: names starting with
// "ZZZZZZZZZZ" or "__").
func (m Member) IsPadding() bool {
	return strings.HasPrefix(m.Name, "ZZZZZZZZZZ") || strings.HasPrefix(m.Name, "__")
}

// UDT is a resolved structure template (spec.md §3 "UDT descriptor").
type UDT struct {
	Name                 string
	InstanceID           uint32
	ObjectDefinitionSize uint32 // 4-byte words
	StructureSize        uint32 // bytes
	MemberCount          uint16
	StructureHandle      uint16
	Members              []Member

	// StringCapacity is >0 when this UDT is exactly {LEN:DINT,
	// DATA:SINT[N]} (the Logix STRING convention); N is the capacity.
	StringCapacity int
}

// Catalog caches the tag directory and UDT templates for the lifetime
// of a Connection; Clear resets all three memo tables on reconnect
// (spec.md §3 invariant).
type Catalog struct {
	req Requester

	mu             sync.RWMutex
	nameToInstance map[string]uint32
	tags           map[string]TagInfo
	makeups        map[uint32]*UDT
	programs       []string
}

// New creates a Catalog bound to req.
func New(req Requester) *Catalog {
	return &Catalog{
		req:            req,
		nameToInstance: make(map[string]uint32),
		tags:           make(map[string]TagInfo),
		makeups:        make(map[uint32]*UDT),
	}
}

// Clear empties all cached state; call after a reconnect.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nameToInstance = make(map[string]uint32)
	c.tags = make(map[string]TagInfo)
	c.makeups = make(map[uint32]*UDT)
	c.programs = nil
}

// Tag returns the cached descriptor for name, if known.
func (c *Catalog) Tag(name string) (TagInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tags[name]
	return t, ok
}

// InstanceID returns the cached instance id for name, if known. Used by
// the EPATH builder's firmware >= v21 logical-segment optimization
// (spec.md §4.2).
func (c *Catalog) InstanceID(name string) (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.nameToInstance[name]
	return id, ok
}

// UDTByInstance returns the cached structure template for instanceID.
func (c *Catalog) UDTByInstance(instanceID uint32) (*UDT, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.makeups[instanceID]
	return u, ok
}

// Programs returns the program names discovered by the most recent
// controller-scope scan.
func (c *Catalog) Programs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.programs))
	copy(out, c.programs)
	return out
}

// storeTag caches t under its own Name, which ScanTags has already
// qualified to "Program:<program>.<name>" for program-scoped tags (spec.md
// §4.4) so the cached key matches the name handed back to the caller.
func (c *Catalog) storeTag(t TagInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags[t.Name] = t
	c.nameToInstance[t.Name] = t.InstanceID
}

func (c *Catalog) storeProgram(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.programs {
		if p == name {
			return
		}
	}
	c.programs = append(c.programs, name)
}

func (c *Catalog) storeUDT(u *UDT) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.makeups[u.InstanceID] = u
}

func (c *Catalog) cachedUDT(instanceID uint32) (*UDT, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.makeups[instanceID]
	return u, ok
}
