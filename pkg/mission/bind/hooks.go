package bind

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/randalmurphal/mission/pkg/mission/expr"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	valueType    = reflect.TypeOf(expr.Value{})
	constantType = reflect.TypeOf(expr.Constant{})
)

// DecodeHook is the mapstructure hook chain used for both mission documents
// and override values.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		SecondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		ValueHook(),
		ConstantHook(),
	)
}

// SecondsToDurationHook decodes numbers into time.Duration as seconds.
func SecondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case float32:
			return time.Duration(float64(v) * float64(time.Second)), nil
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case expr.Constant:
			if s, ok := v.AsFloat(); ok {
				return time.Duration(s * float64(time.Second)), nil
			}
			if s, ok := v.AsString(); ok {
				return time.ParseDuration(s)
			}
			return nil, fmt.Errorf("%w: %s is not a duration", expr.ErrTypeMismatch, v.Type())
		}
		return data, nil
	}
}

// ValueHook decodes expr.Value fields. Accepted forms:
//
//	5                                  # constant shorthand
//	{constant: {float_value: 0.5}}
//	{runtime_var: {name: battery, type: float}}
//	{parameter: {name: speed, type: float}}
func ValueHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != valueType {
			return data, nil
		}
		return ParseValue(data)
	}
}

// ConstantHook decodes expr.Constant fields from scalars, typed maps
// ({int_value: 3}) or plain maps (message constants).
func ConstantHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != constantType {
			return data, nil
		}
		return ParseConstant(data)
	}
}

// ParseValue converts decoded document data into an expr.Value.
func ParseValue(data any) (expr.Value, error) {
	switch v := data.(type) {
	case expr.Value:
		return v, nil
	case expr.Constant:
		return expr.Const(v), nil
	case map[string]any:
		if len(v) == 1 {
			for key, body := range v {
				switch key {
				case "constant":
					c, err := ParseConstant(body)
					if err != nil {
						return expr.Value{}, err
					}
					return expr.Const(c), nil
				case "runtime_var":
					decl, err := parseDeclaration(body)
					if err != nil {
						return expr.Value{}, fmt.Errorf("runtime_var: %w", err)
					}
					return expr.RuntimeVar(decl.Name, decl.Type), nil
				case "parameter":
					decl, err := parseDeclaration(body)
					if err != nil {
						return expr.Value{}, fmt.Errorf("parameter: %w", err)
					}
					return expr.Param(decl.Name, decl.Type), nil
				}
			}
		}
	}
	c, err := ParseConstant(data)
	if err != nil {
		return expr.Value{}, err
	}
	return expr.Const(c), nil
}

var typedConstantKeys = map[string]expr.Type{
	"float_value":  expr.TypeFloat,
	"string_value": expr.TypeString,
	"int_value":    expr.TypeInt,
	"bool_value":   expr.TypeBool,
	"msg_value":    expr.TypeMessage,
}

// ParseConstant converts decoded document data into an expr.Constant.
func ParseConstant(data any) (expr.Constant, error) {
	if m, ok := data.(map[string]any); ok && len(m) == 1 {
		for key, body := range m {
			typ, ok := typedConstantKeys[key]
			if !ok {
				break
			}
			c, err := expr.FromAny(body)
			if err != nil {
				return expr.Constant{}, fmt.Errorf("%s: %w", key, err)
			}
			return c.Convert(typ)
		}
	}
	return expr.FromAny(normalize(data))
}

func parseDeclaration(data any) (expr.VariableDeclaration, error) {
	var decl expr.VariableDeclaration
	if name, ok := data.(string); ok {
		decl.Name = name
		return decl, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.TextUnmarshallerHookFunc(),
		ErrorUnused: true,
		Result:      &decl,
	})
	if err != nil {
		return decl, err
	}
	if err := dec.Decode(data); err != nil {
		return decl, err
	}
	if decl.Name == "" {
		return decl, fmt.Errorf("variable declaration has no name")
	}
	return decl, nil
}

// normalize converts map[any]any produced by some decoders into map[string]any.
func normalize(data any) any {
	switch v := data.(type) {
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = normalize(val)
		}
		return out
	}
	return data
}
