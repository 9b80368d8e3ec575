package expr

import (
	"cmp"
	"fmt"
	"reflect"
	"strings"
)

// Operation is a Condition comparison operator.
type Operation int

const (
	OpUnknown Operation = iota
	OpEQ
	OpNE
	OpLT
	OpGT
	OpLE
	OpGE
)

// String returns the short name of the operator.
func (op Operation) String() string {
	switch op {
	case OpEQ:
		return "eq"
	case OpNE:
		return "ne"
	case OpLT:
		return "lt"
	case OpGT:
		return "gt"
	case OpLE:
		return "le"
	case OpGE:
		return "ge"
	default:
		return "unknown"
	}
}

// ParseOperation parses "eq", "COMPARE_EQ" or "==" style operator names.
func ParseOperation(s string) (Operation, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "compare_")
	switch name {
	case "eq", "==":
		return OpEQ, nil
	case "ne", "!=":
		return OpNE, nil
	case "lt", "<":
		return OpLT, nil
	case "gt", ">":
		return OpGT, nil
	case "le", "<=":
		return OpLE, nil
	case "ge", ">=":
		return OpGE, nil
	}
	return OpUnknown, fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// Compare evaluates lhs op rhs.
func Compare(op Operation, lhs, rhs Constant) (bool, error) {
	if op == OpUnknown || op > OpGE {
		return false, fmt.Errorf("%w: %d", ErrUnknownOperation, op)
	}
	if lhs.IsZero() || rhs.IsZero() {
		return false, fmt.Errorf("%w: comparison with no value", ErrTypeMismatch)
	}

	lf, lnum := lhs.AsFloat()
	rf, rnum := rhs.AsFloat()
	if lnum && rnum {
		if lhs.typ == TypeInt && rhs.typ == TypeInt {
			return ordered(op, lhs.i, rhs.i), nil
		}
		return ordered(op, lf, rf), nil
	}

	if rhs.typ != lhs.typ {
		converted, err := rhs.Convert(lhs.typ)
		if err != nil {
			return false, err
		}
		rhs = converted
	}

	switch lhs.typ {
	case TypeString:
		return ordered(op, lhs.s, rhs.s), nil
	case TypeFloat, TypeInt:
		// rhs converted from a string
		return Compare(op, lhs, rhs)
	case TypeBool:
		return equality(op, lhs.b == rhs.b, lhs.typ)
	case TypeMessage:
		return equality(op, reflect.DeepEqual(lhs.m, rhs.m), lhs.typ)
	}
	return false, fmt.Errorf("%w: %s", ErrTypeMismatch, lhs.typ)
}

func ordered[T cmp.Ordered](op Operation, l, r T) bool {
	c := cmp.Compare(l, r)
	switch op {
	case OpEQ:
		return c == 0
	case OpNE:
		return c != 0
	case OpLT:
		return c < 0
	case OpGT:
		return c > 0
	case OpLE:
		return c <= 0
	default:
		return c >= 0
	}
}

func equality(op Operation, equal bool, t Type) (bool, error) {
	switch op {
	case OpEQ:
		return equal, nil
	case OpNE:
		return !equal, nil
	}
	return false, fmt.Errorf("%w: %s on %s", ErrUnsupportedOperation, op, t)
}

// MarshalText implements encoding.TextMarshaler.
func (op Operation) MarshalText() ([]byte, error) { return []byte(op.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (op *Operation) UnmarshalText(b []byte) error {
	parsed, err := ParseOperation(string(b))
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}
