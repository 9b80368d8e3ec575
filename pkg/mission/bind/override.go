package bind

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// ErrUnknownField indicates an override names a field the implementation does not have.
var ErrUnknownField = errors.New("unknown override field")

// Apply returns a copy of impl with overrides applied. impl must be a pointer
// to a struct; the returned value has the same type. The original is never
// modified. Override values are resolved with r before decoding.
func Apply(impl any, overrides []expr.KeyValue, r expr.Resolver) (any, error) {
	if len(overrides) == 0 {
		return impl, nil
	}

	src := reflect.ValueOf(impl)
	if src.Kind() != reflect.Pointer || src.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("override target must be a pointer to struct, got %T", impl)
	}
	dst := reflect.New(src.Elem().Type())
	dst.Elem().Set(src.Elem())

	for _, kv := range overrides {
		c, err := kv.Value.Resolve(r)
		if err != nil {
			return nil, fmt.Errorf("override %q: %w", kv.Key, err)
		}
		if err := setPath(dst.Elem(), kv.Key, c); err != nil {
			return nil, fmt.Errorf("override %q: %w", kv.Key, err)
		}
	}
	return dst.Interface(), nil
}

// Check reports whether every override key names an overridable field of impl,
// without resolving any values.
func Check(impl any, overrides []expr.KeyValue) error {
	t := reflect.TypeOf(impl)
	if t == nil {
		return fmt.Errorf("override target is nil")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	var errs []error
	for _, kv := range overrides {
		head, _, _ := strings.Cut(kv.Key, ".")
		ft, ok := fieldTypeByTag(t, head)
		if !ok || !overridable(ft) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownField, kv.Key))
			continue
		}
		if strings.Contains(kv.Key, ".") && ft.Kind() != reflect.Map {
			errs = append(errs, fmt.Errorf("%w: %q is not a message field", ErrUnknownField, kv.Key))
		}
	}
	return errors.Join(errs...)
}

// Fields lists the overridable wire names of impl, sorted.
func Fields(impl any) []string {
	t := reflect.TypeOf(impl)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	var names []string
	walkFields(t, func(name string, f reflect.StructField) {
		if overridable(f.Type) {
			names = append(names, name)
		}
	})
	sort.Strings(names)
	return names
}

func setPath(root reflect.Value, key string, c expr.Constant) error {
	head, rest, nested := strings.Cut(key, ".")
	field, ok := fieldByTag(root, head)
	if !ok || !overridable(field.Type()) {
		return fmt.Errorf("%w: %q", ErrUnknownField, key)
	}

	if nested {
		if field.Kind() != reflect.Map || field.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: %q is not a message field", ErrUnknownField, head)
		}
		current, _ := field.Interface().(map[string]any)
		updated, err := setMapPath(current, strings.Split(rest, "."), c.Any())
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(updated))
		return nil
	}

	return decodeInto(field, c)
}

func decodeInto(field reflect.Value, c expr.Constant) error {
	var input any = c.Any()
	switch field.Type() {
	case valueType, constantType, durationType:
		// hooks accept the typed constant directly
		input = c
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       DecodeHook(),
		WeaklyTypedInput: true,
		Result:           field.Addr().Interface(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// setMapPath returns a copy of m with path set to v. Maps along the path are
// copied so the original message is never mutated.
func setMapPath(m map[string]any, path []string, v any) (map[string]any, error) {
	out := make(map[string]any, len(m)+1)
	maps.Copy(out, m)
	if len(path) == 1 {
		out[path[0]] = v
		return out, nil
	}
	var child map[string]any
	switch existing := out[path[0]].(type) {
	case nil:
	case map[string]any:
		child = existing
	default:
		return nil, fmt.Errorf("%w: %q is %T, not a message", ErrUnknownField, path[0], existing)
	}
	updated, err := setMapPath(child, path[1:], v)
	if err != nil {
		return nil, err
	}
	out[path[0]] = updated
	return out, nil
}

// overridable excludes child links; tree shape is fixed at load.
func overridable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return false
	case reflect.Slice:
		return overridable(t.Elem())
	}
	return true
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, squash := tagName(f)
		if squash && f.Type.Kind() == reflect.Struct {
			if inner, ok := fieldByTag(v.Field(i), name); ok {
				return inner, true
			}
			continue
		}
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func fieldTypeByTag(t reflect.Type, name string) (reflect.Type, bool) {
	var (
		found reflect.Type
		ok    bool
	)
	walkFields(t, func(tag string, f reflect.StructField) {
		if !ok && tag == name {
			found, ok = f.Type, true
		}
	})
	return found, ok
}

func walkFields(t reflect.Type, fn func(string, reflect.StructField)) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, squash := tagName(f)
		if squash && f.Type.Kind() == reflect.Struct {
			walkFields(f.Type, fn)
			continue
		}
		if tag != "" && tag != "-" {
			fn(tag, f)
		}
	}
}

func tagName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("mapstructure")
	name, opts, _ := strings.Cut(tag, ",")
	squash := f.Anonymous && (name == "" || strings.Contains(opts, "squash"))
	if strings.Contains(opts, "squash") {
		squash = true
	}
	return name, squash
}
