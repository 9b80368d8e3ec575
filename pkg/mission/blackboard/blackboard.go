// Package blackboard provides the scoped variable store shared by the nodes of
// a running mission.
//
// Scopes form a tree that mirrors the dynamic execution path: a node that
// defines variables pushes a child scope, and everything it ticks sees that
// scope plus every enclosing one. Two siblings (for example the branches of a
// SimpleParallel) each push their own child of the same parent, so neither can
// see the other's definitions.
//
// Lookup walks outward from the innermost scope. Set mutates the nearest scope
// that defines the name and never creates a variable.
package blackboard

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/randalmurphal/mission/pkg/mission/expr"
)

var (
	// ErrNotFound indicates no visible scope defines the variable.
	ErrNotFound = errors.New("blackboard variable not found")

	// ErrRootScope indicates an attempt to pop the root scope.
	ErrRootScope = errors.New("cannot pop root scope")

	// ErrScopeClosed indicates the scope was already popped.
	ErrScopeClosed = errors.New("blackboard scope already popped")
)

// Blackboard is one scope. All scopes of a tree share one lock so readers
// outside the tick loop observe consistent state.
type Blackboard struct {
	mu     *sync.RWMutex
	parent *Blackboard
	owner  string
	depth  int
	vars   map[string]expr.Constant
	closed bool
}

// New creates a root scope holding vars. The map is copied.
func New(vars map[string]expr.Constant) *Blackboard {
	return &Blackboard{
		mu:    &sync.RWMutex{},
		owner: "root",
		vars:  cloneVars(vars),
	}
}

// Push creates a child scope owned by owner (usually a node name) holding vars.
func (b *Blackboard) Push(owner string, vars map[string]expr.Constant) *Blackboard {
	return &Blackboard{
		mu:     b.mu,
		parent: b,
		owner:  owner,
		depth:  b.depth + 1,
		vars:   cloneVars(vars),
	}
}

// Pop closes the scope. Its variables are no longer visible through it, and
// the parent scope is unaffected. A scope can be popped once.
func (b *Blackboard) Pop() error {
	if b.parent == nil {
		return ErrRootScope
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: %s", ErrScopeClosed, b.owner)
	}
	b.closed = true
	b.vars = nil
	return nil
}

// Parent returns the enclosing scope, or nil for the root.
func (b *Blackboard) Parent() *Blackboard { return b.parent }

// Owner returns the name the scope was pushed with.
func (b *Blackboard) Owner() string { return b.owner }

// Depth returns 0 for the root and increments per pushed scope.
func (b *Blackboard) Depth() int { return b.depth }

// Closed reports whether the scope has been popped.
func (b *Blackboard) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Get looks name up from this scope outward. A dotted name such as
// "state.battery" that no scope defines is read as a field of the message
// variable named by its longest defined prefix.
func (b *Blackboard) Get(name string) (expr.Constant, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s := b.find(name); s != nil {
		return s.vars[name], nil
	}
	for i := strings.LastIndexByte(name, '.'); i > 0; i = strings.LastIndexByte(name[:i], '.') {
		s := b.find(name[:i])
		if s == nil {
			continue
		}
		v, err := s.vars[name[:i]].Field(name[i+1:])
		if err != nil {
			return expr.Constant{}, fmt.Errorf("%w: %q: %w", ErrNotFound, name, err)
		}
		return v, nil
	}
	return expr.Constant{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Set replaces the value of name in the nearest scope that defines it.
func (b *Blackboard) Set(name string, v expr.Constant) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.find(name)
	if s == nil {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	s.vars[name] = v
	return nil
}

// Define creates or replaces name in this scope.
func (b *Blackboard) Define(name string, v expr.Constant) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: %s", ErrScopeClosed, b.owner)
	}
	if b.vars == nil {
		b.vars = make(map[string]expr.Constant)
	}
	b.vars[name] = v
	return nil
}

// Variable implements expr.Resolver's variable lookup.
func (b *Blackboard) Variable(name string) (expr.Constant, error) {
	return b.Get(name)
}

// Snapshot flattens every visible variable. Inner scopes shadow outer ones.
func (b *Blackboard) Snapshot() map[string]expr.Constant {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]expr.Constant)
	var chain []*Blackboard
	for s := b; s != nil; s = s.parent {
		chain = append(chain, s)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		maps.Copy(out, chain[i].vars)
	}
	return out
}

// Names returns the sorted names visible from this scope.
func (b *Blackboard) Names() []string {
	snap := b.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// find must be called with mu held.
func (b *Blackboard) find(name string) *Blackboard {
	for s := b; s != nil; s = s.parent {
		if s.closed {
			continue
		}
		if _, ok := s.vars[name]; ok {
			return s
		}
	}
	return nil
}

func cloneVars(vars map[string]expr.Constant) map[string]expr.Constant {
	out := make(map[string]expr.Constant, len(vars))
	maps.Copy(out, vars)
	return out
}
