package plc

import (
	"sync"

	"github.com/iceisfun/goeip/pkg/catalog"
	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/planner"
)

// tagSupport lazily builds the Catalog and Planner bound to this
// Connection; both are created on first use so a Connection opened only
// for unconnected service calls (e.g. a bare identity read) never pays
// for them.
type tagSupport struct {
	once sync.Once
	cat  *catalog.Catalog
	pln  *planner.Planner
}

func (c *Connection) tags() *tagSupport {
	c.tagSupportOnce.once.Do(func() {
		c.tagSupportOnce.cat = catalog.New(c)
		c.tagSupportOnce.pln = planner.New(c, c.tagSupportOnce.cat, c.ConnectionSize())
	})
	return &c.tagSupportOnce
}

// Catalog returns the Connection's tag/UDT catalog, building it on first
// use.
func (c *Connection) Catalog() *catalog.Catalog {
	return c.tags().cat
}

// ReadTag reads a single tag-path string (spec.md §4.5 grammar: "Tag",
// "Tag{N}", "Tag[i]", "Tag.Member", "Tag.5", ...).
func (c *Connection) ReadTag(tagString string) (planner.Tag, error) {
	results, err := c.tags().pln.ReadTags([]string{tagString})
	if err != nil {
		return planner.Tag{}, err
	}
	return results[0], nil
}

// ReadAll reads many tag-path strings, packing tags of known size into
// as few Multiple Service Packets as the byte budget allows and reading
// the others one fragmented request each, returning one result per
// input string in the same order.
func (c *Connection) ReadAll(tagStrings []string) ([]planner.Tag, error) {
	return c.tags().pln.ReadTags(tagStrings)
}

// WriteTag writes a single tag-path string to value, returning that
// tag's result (success or per-tag error).
func (c *Connection) WriteTag(tagString string, value cip.Value) (planner.Tag, error) {
	results, err := c.tags().pln.WriteTags([]planner.WriteRequest{{Tag: tagString, Value: value}})
	if err != nil {
		return planner.Tag{}, err
	}
	return results[0], nil
}

// WriteAll writes many tags in one batched call (bit writes against the
// same plc_tag are coalesced into a single Read-Modify-Write).
func (c *Connection) WriteAll(writes []planner.WriteRequest) ([]planner.Tag, error) {
	return c.tags().pln.WriteTags(writes)
}

// ListTags scans the controller-scope (program == "") or program-scoped
// tag directory, populating the Connection's Catalog.
func (c *Connection) ListTags(program string) ([]catalog.TagInfo, error) {
	return c.tags().cat.ScanTags(program)
}
