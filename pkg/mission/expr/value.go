package expr

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Sentinel errors for value conversion and comparison.
var (
	// ErrTypeMismatch indicates a value cannot be converted to the requested type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnknownType indicates an unrecognised variable type name.
	ErrUnknownType = errors.New("unknown type")

	// ErrUnknownOperation indicates an unrecognised comparison operator.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrNoField indicates a message has no field at the requested path.
	ErrNoField = errors.New("no such message field")

	// ErrUnsupportedOperation indicates the operator is not defined for the operand type.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// Type is the declared type of a variable or constant.
type Type int

const (
	// TypeUnknown is the zero Type. Values of unknown type are not coerced.
	TypeUnknown Type = iota
	TypeFloat
	TypeString
	TypeInt
	TypeBool
	TypeMessage
)

// String returns the wire name of the type.
func (t Type) String() string {
	switch t {
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeMessage:
		return "message"
	default:
		return "unknown"
	}
}

// ParseType parses a type name. Both the short form ("float") and the
// enum form ("TYPE_FLOAT") are accepted, case-insensitively.
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "type_")
	switch name {
	case "float", "double":
		return TypeFloat, nil
	case "string":
		return TypeString, nil
	case "int", "int64", "integer":
		return TypeInt, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "message", "msg":
		return TypeMessage, nil
	case "", "unknown":
		return TypeUnknown, nil
	}
	return TypeUnknown, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Constant is a typed literal value. The zero Constant has TypeUnknown and
// represents "no value".
type Constant struct {
	typ Type
	f   float64
	s   string
	i   int64
	b   bool
	m   map[string]any
}

// Float returns a float constant.
func Float(v float64) Constant { return Constant{typ: TypeFloat, f: v} }

// String returns a string constant.
func String(v string) Constant { return Constant{typ: TypeString, s: v} }

// Int returns an int constant.
func Int(v int64) Constant { return Constant{typ: TypeInt, i: v} }

// Bool returns a bool constant.
func Bool(v bool) Constant { return Constant{typ: TypeBool, b: v} }

// Message returns a message constant. The map is not copied.
func Message(v map[string]any) Constant {
	if v == nil {
		v = map[string]any{}
	}
	return Constant{typ: TypeMessage, m: v}
}

// FromAny infers a Constant from a Go value as produced by YAML/JSON decoding
// or by adapters.
func FromAny(v any) (Constant, error) {
	switch val := v.(type) {
	case Constant:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(int64(val)), nil
	case int32:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case uint:
		return Int(int64(val)), nil
	case uint32:
		return Int(int64(val)), nil
	case uint64:
		return Int(int64(val)), nil
	case float32:
		return Float(float64(val)), nil
	case float64:
		return Float(val), nil
	case map[string]any:
		return Message(val), nil
	case nil:
		return Constant{}, fmt.Errorf("%w: nil value", ErrTypeMismatch)
	}
	return Constant{}, fmt.Errorf("%w: unsupported go type %T", ErrTypeMismatch, v)
}

// Type returns the constant's type.
func (c Constant) Type() Type { return c.typ }

// IsZero reports whether c holds no value.
func (c Constant) IsZero() bool { return c.typ == TypeUnknown }

// AsFloat returns the float value, converting ints.
func (c Constant) AsFloat() (float64, bool) {
	switch c.typ {
	case TypeFloat:
		return c.f, true
	case TypeInt:
		return float64(c.i), true
	}
	return 0, false
}

// AsInt returns the int value, converting integral floats.
func (c Constant) AsInt() (int64, bool) {
	switch c.typ {
	case TypeInt:
		return c.i, true
	case TypeFloat:
		if c.f == math.Trunc(c.f) {
			return int64(c.f), true
		}
	}
	return 0, false
}

// AsString returns the string value.
func (c Constant) AsString() (string, bool) {
	if c.typ == TypeString {
		return c.s, true
	}
	return "", false
}

// AsBool returns the bool value.
func (c Constant) AsBool() (bool, bool) {
	if c.typ == TypeBool {
		return c.b, true
	}
	return false, false
}

// AsMessage returns the message value.
func (c Constant) AsMessage() (map[string]any, bool) {
	if c.typ == TypeMessage {
		return c.m, true
	}
	return nil, false
}

// Field walks a dotted path into a message, for example "pose.x". Each
// segment but the last must name a nested message.
func (c Constant) Field(path string) (Constant, error) {
	m, ok := c.AsMessage()
	if !ok {
		return Constant{}, fmt.Errorf("%w: %s is not a message", ErrNoField, c.typ)
	}
	var cur any = m
	for _, key := range strings.Split(path, ".") {
		fields, ok := cur.(map[string]any)
		if !ok {
			return Constant{}, fmt.Errorf("%w: %q", ErrNoField, path)
		}
		if cur, ok = fields[key]; !ok {
			return Constant{}, fmt.Errorf("%w: %q", ErrNoField, path)
		}
	}
	return FromAny(cur)
}

// Any returns the underlying Go value, or nil for the zero Constant.
func (c Constant) Any() any {
	switch c.typ {
	case TypeFloat:
		return c.f
	case TypeString:
		return c.s
	case TypeInt:
		return c.i
	case TypeBool:
		return c.b
	case TypeMessage:
		return c.m
	}
	return nil
}

// String formats the value for logs and prompt text.
func (c Constant) String() string {
	switch c.typ {
	case TypeFloat:
		return strconv.FormatFloat(c.f, 'g', -1, 64)
	case TypeString:
		return c.s
	case TypeInt:
		return strconv.FormatInt(c.i, 10)
	case TypeBool:
		return strconv.FormatBool(c.b)
	case TypeMessage:
		return fmt.Sprintf("%v", c.m)
	}
	return "<none>"
}

// Equal reports whether two constants have the same type and value.
func (c Constant) Equal(o Constant) bool {
	if c.typ != o.typ {
		return false
	}
	if c.typ == TypeMessage {
		return reflect.DeepEqual(c.m, o.m)
	}
	return c.Any() == o.Any()
}

// Convert coerces c to type t. TypeUnknown returns c unchanged.
//
// Supported coercions:
//   - int <-> float (float to int only when integral)
//   - string -> float/int/bool when the text parses
//   - any scalar -> string
func (c Constant) Convert(t Type) (Constant, error) {
	if t == TypeUnknown || t == c.typ {
		return c, nil
	}
	if c.IsZero() {
		return c, fmt.Errorf("%w: no value to convert to %s", ErrTypeMismatch, t)
	}

	switch t {
	case TypeFloat:
		if f, ok := c.AsFloat(); ok {
			return Float(f), nil
		}
		if c.typ == TypeString {
			if f, err := strconv.ParseFloat(strings.TrimSpace(c.s), 64); err == nil {
				return Float(f), nil
			}
		}
	case TypeInt:
		if i, ok := c.AsInt(); ok {
			return Int(i), nil
		}
		if c.typ == TypeString {
			if i, err := strconv.ParseInt(strings.TrimSpace(c.s), 10, 64); err == nil {
				return Int(i), nil
			}
		}
	case TypeBool:
		if c.typ == TypeString {
			if b, err := strconv.ParseBool(strings.TrimSpace(c.s)); err == nil {
				return Bool(b), nil
			}
		}
	case TypeString:
		if c.typ != TypeMessage {
			return String(c.String()), nil
		}
	}
	return Constant{}, fmt.Errorf("%w: cannot convert %s %q to %s", ErrTypeMismatch, c.typ, c.String(), t)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

type constantJSON struct {
	Type  Type            `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes c as {"type": ..., "value": ...} so ints and floats
// survive a round trip.
func (c Constant) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(c.Any())
	if err != nil {
		return nil, err
	}
	return json.Marshal(constantJSON{Type: c.typ, Value: raw})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Constant) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = Constant{}
		return nil
	}
	var wire constantJSON
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	switch wire.Type {
	case TypeFloat:
		var f float64
		if err := json.Unmarshal(wire.Value, &f); err != nil {
			return err
		}
		*c = Float(f)
	case TypeString:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return err
		}
		*c = String(s)
	case TypeInt:
		var i int64
		if err := json.Unmarshal(wire.Value, &i); err != nil {
			return err
		}
		*c = Int(i)
	case TypeBool:
		var v bool
		if err := json.Unmarshal(wire.Value, &v); err != nil {
			return err
		}
		*c = Bool(v)
	case TypeMessage:
		var m map[string]any
		if err := json.Unmarshal(wire.Value, &m); err != nil {
			return err
		}
		*c = Message(m)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownType, wire.Type)
	}
	return nil
}
