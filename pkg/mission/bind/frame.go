// Package bind resolves parameters and applies overrides for mission nodes.
//
// Parameter bindings follow the dynamic tick path. A node carrying
// parameter_values pushes a Frame while it is ticked; everything below it
// resolves parameters through that frame and its ancestors. A bound value is
// itself an expr.Value and is resolved lazily against the frame it was
// declared in, so a binding may forward an outer parameter or read the
// blackboard.
//
// Overrides rewrite fields of a node's implementation when the node is
// entered. Fields are addressed by their wire name (the mapstructure tag);
// dotted paths reach into message-valued fields.
package bind

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// ErrUnknownParameter indicates no frame on the current path binds the parameter.
var ErrUnknownParameter = errors.New("unknown parameter")

// VariableSource is the blackboard side of resolution.
type VariableSource interface {
	Variable(name string) (expr.Constant, error)
}

// Frame is one level of parameter bindings. The zero value is not usable; use
// Root.
type Frame struct {
	parent *Frame
	owner  string
	values map[string]expr.Value
}

// Root creates the outermost frame from caller-supplied constants.
func Root(values map[string]expr.Constant) *Frame {
	f := &Frame{owner: "root", values: make(map[string]expr.Value, len(values))}
	for name, c := range values {
		f.values[name] = expr.Const(c)
	}
	return f
}

// Push returns a child frame binding kvs. With no kvs the receiver is returned.
func (f *Frame) Push(owner string, kvs []expr.KeyValue) *Frame {
	if len(kvs) == 0 {
		return f
	}
	child := &Frame{parent: f, owner: owner, values: make(map[string]expr.Value, len(kvs))}
	for _, kv := range kvs {
		child.values[kv.Key] = kv.Value
	}
	return child
}

// Owner returns the name the frame was pushed with.
func (f *Frame) Owner() string { return f.owner }

// Bound reports whether name is bound on this frame or an ancestor.
func (f *Frame) Bound(name string) bool {
	_, _, ok := f.lookup(name)
	return ok
}

func (f *Frame) lookup(name string) (expr.Value, *Frame, bool) {
	for cur := f; cur != nil; cur = cur.parent {
		if v, ok := cur.values[name]; ok {
			return v, cur, true
		}
	}
	return expr.Value{}, nil, false
}

// Resolver returns an expr.Resolver that reads parameters from f and
// variables from vars.
func (f *Frame) Resolver(vars VariableSource) expr.Resolver {
	return &resolver{frame: f, vars: vars}
}

type resolver struct {
	frame *Frame
	vars  VariableSource
}

func (r *resolver) Variable(name string) (expr.Constant, error) {
	if r.vars == nil {
		return expr.Constant{}, fmt.Errorf("variable %q: %w", name, expr.ErrNoResolver)
	}
	return r.vars.Variable(name)
}

func (r *resolver) Parameter(name string) (expr.Constant, error) {
	if r.frame == nil {
		return expr.Constant{}, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	v, owner, ok := r.frame.lookup(name)
	if !ok {
		return expr.Constant{}, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	// A binding is evaluated where it was written: one frame out from its owner.
	outer := &resolver{frame: owner.parent, vars: r.vars}
	return v.Resolve(outer)
}
