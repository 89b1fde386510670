// Package planner implements the read/write planner (spec.md §4.5): tag
// syntax parsing, Multiple Service Packet batching under a per-connection
// byte budget, Read/Write Tag Fragmented continuation, Read-Modify-Write
// bit coalescing, and response demultiplexing.
package planner

import (
	"github.com/iceisfun/goeip/pkg/catalog"
	"github.com/iceisfun/goeip/pkg/cip"
)

// Requester is the minimal interface a Connection must satisfy for the
// planner to issue CIP requests; kept narrow so this package does not
// import pkg/plc.
type Requester interface {
	SendCIPRequest(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error)
}

// Tag is a single user-facing read or write result (spec.md §4.5: "User
// visible Tag results always carry four fields {name, value, type,
// error}").
type Tag struct {
	Name  string
	Value cip.Value
	Type  cip.DataType
	Err   error
}

// Planner batches tag reads/writes for a single Connection.
type Planner struct {
	req            Requester
	cat            *catalog.Catalog
	connectionSize int
}

// New builds a Planner bound to req, using cat to resolve tag types for
// batching decisions and connectionSize as the per-packet byte budget
// negotiated by Forward Open.
func New(req Requester, cat *catalog.Catalog, connectionSize int) *Planner {
	return &Planner{req: req, cat: cat, connectionSize: connectionSize}
}

// compileTagPath compiles parsed.PathExpr, substituting the firmware >=
// v21 instance-id logical-segment shortcut (spec.md §4.2) for the base
// segment whenever the catalog already has a cached instance id for
// parsed.BaseTag. Member and index segments after the base stay
// symbolic either way.
func (p *Planner) compileTagPath(parsed *ParsedTag) ([]byte, error) {
	if instanceID, ok := p.cat.InstanceID(parsed.BaseTag); ok {
		return cip.CompileTagPathShortcut(parsed.PathExpr, instanceID, false)
	}
	return cip.CompileTagPath(parsed.PathExpr, false)
}
