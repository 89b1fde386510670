// Package plcpool fans operations out across multiple independent
// Connections in parallel, since a single Connection is not safe for
// concurrent use by multiple goroutines.
package plcpool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/planner"
	"github.com/iceisfun/goeip/pkg/plc"
)

// Member is one controller in the pool, addressed by Name.
type Member struct {
	Name string
	Conn *plc.Connection
}

// Pool holds a fixed set of open Connections and dispatches operations
// against all of them concurrently.
type Pool struct {
	mu      sync.RWMutex
	members map[string]*plc.Connection
}

// New builds an empty Pool.
func New() *Pool {
	return &Pool{members: make(map[string]*plc.Connection)}
}

// Add registers an already-open Connection under name, replacing any
// existing member with that name.
func (p *Pool) Add(name string, conn *plc.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members[name] = conn
}

// Remove drops a member from the pool without closing its Connection.
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members, name)
}

// Get returns the named member's Connection.
func (p *Pool) Get(name string) (*plc.Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.members[name]
	return c, ok
}

// Names returns the current member names.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.members))
	for name := range p.members {
		names = append(names, name)
	}
	return names
}

// Close closes every member's Connection, collecting errors by name.
func (p *Pool) Close() map[string]error {
	p.mu.Lock()
	members := p.members
	p.members = make(map[string]*plc.Connection)
	p.mu.Unlock()

	errs := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, conn := range members {
		wg.Add(1)
		go func(name string, conn *plc.Connection) {
			defer wg.Done()
			if err := conn.Close(); err != nil {
				mu.Lock()
				errs[name] = err
				mu.Unlock()
			}
		}(name, conn)
	}
	wg.Wait()
	return errs
}

// Result pairs a member name with the outcome of an operation run
// against it.
type Result[T any] struct {
	Name  string
	Value T
	Err   error
}

// ReadTag reads tagString from every member concurrently.
func (p *Pool) ReadTag(ctx context.Context, tagString string) []Result[planner.Tag] {
	return fanOut(ctx, p, func(c *plc.Connection) (planner.Tag, error) {
		return c.ReadTag(tagString)
	})
}

// ReadAll reads tagStrings from every member concurrently.
func (p *Pool) ReadAll(ctx context.Context, tagStrings []string) []Result[[]planner.Tag] {
	return fanOut(ctx, p, func(c *plc.Connection) ([]planner.Tag, error) {
		return c.ReadAll(tagStrings)
	})
}

// WriteTag writes value to tagString on every member concurrently.
func (p *Pool) WriteTag(ctx context.Context, tagString string, value cip.Value) []Result[planner.Tag] {
	return fanOut(ctx, p, func(c *plc.Connection) (planner.Tag, error) {
		return c.WriteTag(tagString, value)
	})
}

// fanOut runs op against every pool member concurrently via errgroup,
// collecting one Result per member regardless of individual failures
// (an errgroup.Group would otherwise only surface the first error).
func fanOut[T any](ctx context.Context, p *Pool, op func(*plc.Connection) (T, error)) []Result[T] {
	p.mu.RLock()
	members := make([]Member, 0, len(p.members))
	for name, conn := range p.members {
		members = append(members, Member{Name: name, Conn: conn})
	}
	p.mu.RUnlock()

	results := make([]Result[T], len(members))
	g, _ := errgroup.WithContext(ctx)
	for i, m := range members {
		i, m := i, m
		g.Go(func() error {
			if m.Conn == nil {
				results[i] = Result[T]{Name: m.Name, Err: fmt.Errorf("plcpool: member %s has no connection", m.Name)}
				return nil
			}
			v, err := op(m.Conn)
			results[i] = Result[T]{Name: m.Name, Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
