package expr

import (
	"errors"
	"fmt"
)

// ErrNoResolver is returned when a non-constant Value is resolved without a Resolver.
var ErrNoResolver = errors.New("no resolver for value")

// VariableDeclaration names a typed variable or parameter.
type VariableDeclaration struct {
	Name string `mapstructure:"name" json:"name" yaml:"name"`
	Type Type   `mapstructure:"type" json:"type" yaml:"type"`
}

// ValueKind identifies where a Value comes from.
type ValueKind int

const (
	// ValueConstant is a literal.
	ValueConstant ValueKind = iota
	// ValueRuntimeVar is looked up on the blackboard.
	ValueRuntimeVar
	// ValueParameter is looked up in parameter bindings.
	ValueParameter
)

func (k ValueKind) String() string {
	switch k {
	case ValueConstant:
		return "constant"
	case ValueRuntimeVar:
		return "runtime_var"
	case ValueParameter:
		return "parameter"
	}
	return "unknown"
}

// Value produces a Constant when resolved.
type Value struct {
	Kind     ValueKind
	Constant Constant
	Var      VariableDeclaration
}

// Const wraps a constant.
func Const(c Constant) Value { return Value{Kind: ValueConstant, Constant: c} }

// RuntimeVar refers to a blackboard variable. A non-unknown type coerces the looked-up value.
func RuntimeVar(name string, t Type) Value {
	return Value{Kind: ValueRuntimeVar, Var: VariableDeclaration{Name: name, Type: t}}
}

// Param refers to a parameter binding.
func Param(name string, t Type) Value {
	return Value{Kind: ValueParameter, Var: VariableDeclaration{Name: name, Type: t}}
}

// IsZero reports whether v is an unset constant.
func (v Value) IsZero() bool {
	return v.Kind == ValueConstant && v.Constant.IsZero()
}

// String describes the value for logs.
func (v Value) String() string {
	switch v.Kind {
	case ValueRuntimeVar:
		return "var:" + v.Var.Name
	case ValueParameter:
		return "param:" + v.Var.Name
	}
	return v.Constant.String()
}

// Resolver supplies the values behind runtime variables and parameters.
type Resolver interface {
	Variable(name string) (Constant, error)
	Parameter(name string) (Constant, error)
}

// Resolve produces the Constant for v. Lookups are coerced to the declared type.
func (v Value) Resolve(r Resolver) (Constant, error) {
	if v.Kind == ValueConstant {
		return v.Constant, nil
	}
	if r == nil {
		return Constant{}, ErrNoResolver
	}

	var (
		c   Constant
		err error
	)
	switch v.Kind {
	case ValueRuntimeVar:
		c, err = r.Variable(v.Var.Name)
	case ValueParameter:
		c, err = r.Parameter(v.Var.Name)
	default:
		return Constant{}, fmt.Errorf("unknown value kind %d", v.Kind)
	}
	if err != nil {
		return Constant{}, err
	}

	out, err := c.Convert(v.Var.Type)
	if err != nil {
		return Constant{}, fmt.Errorf("%s %q: %w", v.Kind, v.Var.Name, err)
	}
	return out, nil
}

// KeyValue pairs a name with a Value. Used for parameter values, overrides
// and blackboard variable lists.
type KeyValue struct {
	Key   string `mapstructure:"key" json:"key" yaml:"key"`
	Value Value  `mapstructure:"value" json:"value" yaml:"value"`
}

// Parameters returns the parameter names referenced by vals, in order, without duplicates.
func Parameters(vals ...Value) []string {
	var names []string
	seen := make(map[string]bool)
	for _, v := range vals {
		if v.Kind != ValueParameter || seen[v.Var.Name] {
			continue
		}
		seen[v.Var.Name] = true
		names = append(names, v.Var.Name)
	}
	return names
}

// MapResolver is a Resolver over plain maps. Useful in tests and for
// resolving caller-supplied parameters before any blackboard exists.
type MapResolver struct {
	Variables map[string]Constant
	Params    map[string]Constant
}

// ErrUnbound is returned by MapResolver for names it does not hold.
var ErrUnbound = errors.New("unbound name")

// Variable implements Resolver.
func (m MapResolver) Variable(name string) (Constant, error) {
	if c, ok := m.Variables[name]; ok {
		return c, nil
	}
	return Constant{}, fmt.Errorf("%w: variable %q", ErrUnbound, name)
}

// Parameter implements Resolver.
func (m MapResolver) Parameter(name string) (Constant, error) {
	if c, ok := m.Params[name]; ok {
		return c, nil
	}
	return Constant{}, fmt.Errorf("%w: parameter %q", ErrUnbound, name)
}
