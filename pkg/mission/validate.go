package mission

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/mission/pkg/mission/bind"
	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// validate runs the per-node and parameter checks over a built graph.
func (g *Graph) validate(_ loadConfig) error {
	var errs []error
	for i := range g.vertices {
		v := &g.vertices[i]
		if err := v.checkFields(); err != nil {
			errs = append(errs, v.wrap("validate", err))
		}
	}
	errs = append(errs, g.checkParameters()...)
	return errors.Join(errs...)
}

func (v *vertex) wrap(op string, err error) error {
	return &NodeError{Node: v.name, Kind: v.kind, Op: op, Err: err}
}

func (v *vertex) overridden(field string) bool {
	for _, kv := range v.overrides {
		if kv.Key == field {
			return true
		}
	}
	return false
}

// checkFields reports impl values that can never run.
func (v *vertex) checkFields() error {
	if v.kind == KindReference {
		if len(v.overrides) > 0 {
			return fmt.Errorf("%w: overrides are not allowed on a node_reference", ErrInvalidNode)
		}
		return nil
	}

	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidNode}, args...)...))
	}

	if err := bind.Check(v.impl, v.overrides); err != nil {
		errs = append(errs, err)
	}

	switch im := v.impl.(type) {
	case *Repeat:
		if im.MaxStarts <= 0 && !v.overridden("max_starts") {
			invalid("max_starts must be positive, got %d", im.MaxStarts)
		}
	case *Retry:
		if im.MaxAttempts <= 0 && !v.overridden("max_attempts") {
			invalid("max_attempts must be positive, got %d", im.MaxAttempts)
		}
	case *ForDuration:
		if im.Duration < 0 {
			invalid("negative duration %s", im.Duration)
		}
	case *Condition:
		if im.Operation == expr.OpUnknown && !v.overridden("operation") {
			invalid("condition has no operation")
		}
		if im.Lhs.IsZero() && !v.overridden("lhs") {
			invalid("condition has no lhs")
		}
		if im.Rhs.IsZero() && !v.overridden("rhs") {
			invalid("condition has no rhs")
		}
	case *Sleep:
		if im.Seconds < 0 {
			invalid("negative sleep %v", im.Seconds)
		}
	case *RemoteGrpc:
		if im.Timeout < 0 {
			invalid("negative timeout %s", im.Timeout)
		}
		if err := checkKeys("inputs", im.Inputs); err != nil {
			errs = append(errs, err)
		}
	case *DefineBlackboard:
		if err := checkKeys("blackboard_variables", im.BlackboardVariables); err != nil {
			errs = append(errs, err)
		}
	case *SetBlackboard:
		if err := checkKeys("blackboard_variables", im.BlackboardVariables); err != nil {
			errs = append(errs, err)
		}
	case *ConstantResult:
		if !validResult(im.Result) && !v.overridden("result") {
			invalid("constant result %s", im.Result)
		}
	}
	return errors.Join(errs...)
}

func checkKeys(field string, kvs []expr.KeyValue) error {
	for i, kv := range kvs {
		if kv.Key == "" {
			return fmt.Errorf("%w: %s[%d] has an empty key", ErrInvalidNode, field, i)
		}
	}
	return nil
}

func validResult(r Result) bool {
	return r == ResultRunning || r == ResultSuccess || r == ResultFailure
}

// implValues returns every expr.Value an impl reads at tick time.
func implValues(impl Impl) []expr.Value {
	switch im := impl.(type) {
	case *Condition:
		return []expr.Value{im.Lhs, im.Rhs}
	case *RemoteGrpc:
		return kvValues(im.Inputs)
	case *DefineBlackboard:
		return kvValues(im.BlackboardVariables)
	case *SetBlackboard:
		return kvValues(im.BlackboardVariables)
	}
	return nil
}

func kvValues(kvs []expr.KeyValue) []expr.Value {
	vals := make([]expr.Value, len(kvs))
	for i, kv := range kvs {
		vals[i] = kv.Value
	}
	return vals
}

type nameSet map[string]bool

func (s nameSet) with(names ...string) nameSet {
	out := make(nameSet, len(s)+len(names))
	for k := range s {
		out[k] = true
	}
	for _, n := range names {
		out[n] = true
	}
	return out
}

func keys(kvs []expr.KeyValue) []string {
	out := make([]string, len(kvs))
	for i, kv := range kvs {
		out[i] = kv.Key
	}
	return out
}

func declared(decls []expr.VariableDeclaration) []string {
	out := make([]string, len(decls))
	for i, d := range decls {
		out[i] = d.Name
	}
	return out
}

// needs lists the parameters a vertex expects from its caller: its
// declarations less the ones it binds itself.
func (v *vertex) needs() []string {
	own := nameSet{}.with(keys(v.paramValues)...)
	var out []string
	for _, d := range v.parameters {
		if !own[d.Name] {
			out = append(out, d.Name)
		}
	}
	return out
}

// checkParameters verifies that every parameter used is declared or bound.
//
// The root and every node with a reference id are validated as separate
// units against their own declarations. A reference site, or a unit reached
// inline, only has its advertised declarations checked against what the site
// provides; its body is never re-walked.
func (g *Graph) checkParameters() []error {
	var errs []error
	unknown := func(v *vertex, what, name string) {
		errs = append(errs, v.wrap("validate", fmt.Errorf("%w: %q used by %s", ErrUnknownParameter, name, what)))
	}

	var walk func(id NodeID, avail nameSet, unitRoot bool)
	walk = func(id NodeID, avail nameSet, unitRoot bool) {
		if id == NoNode {
			return
		}
		v := &g.vertices[id]
		if unitRoot {
			avail = avail.with(declared(v.parameters)...)
		} else {
			for _, p := range v.needs() {
				if !avail[p] {
					unknown(v, "its declarations", p)
				}
			}
			if v.referenceID != "" {
				return
			}
		}

		for _, kv := range v.paramValues {
			for _, p := range expr.Parameters(kv.Value) {
				if !avail[p] {
					unknown(v, "parameter_values."+kv.Key, p)
				}
			}
		}

		inner := avail.with(keys(v.paramValues)...)

		if v.kind == KindReference {
			if v.target == NoNode {
				return
			}
			t := &g.vertices[v.target]
			for _, p := range t.needs() {
				if !inner[p] {
					unknown(v, "reference to "+t.name, p)
				}
			}
			return
		}

		for _, kv := range v.overrides {
			for _, p := range expr.Parameters(kv.Value) {
				if !inner[p] {
					unknown(v, "override "+kv.Key, p)
				}
			}
		}
		for _, p := range expr.Parameters(implValues(v.impl)...) {
			if !inner[p] {
				unknown(v, "its fields", p)
			}
		}
		for _, c := range v.children {
			walk(c, inner, false)
		}
	}

	walk(g.root, nameSet{}, true)
	for _, ref := range g.ReferenceIDs() {
		id := g.refs[ref]
		if id == g.root {
			continue
		}
		walk(id, nameSet{}, true)
	}
	return errs
}
