package template

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// bracePattern matches ${name}.
	bracePattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_.]*)\}`)

	// dollarPattern matches $name followed by a non-word character or end of string.
	dollarPattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)(?:\b|$)`)
)

// Lookup returns the text for a placeholder name.
type Lookup func(name string) (string, bool)

// MapLookup adapts a map to a Lookup.
func MapLookup(vars map[string]any) Lookup {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		if !ok {
			return "", false
		}
		return fmt.Sprint(v), true
	}
}

// UndefinedVariableError lists placeholders that had no value.
type UndefinedVariableError struct {
	Names []string
}

func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return "undefined variable: " + e.Names[0]
	}
	return "undefined variables: " + strings.Join(e.Names, ", ")
}

// Expander expands placeholders. It is safe for concurrent use.
type Expander struct {
	missingAction MissingAction
	dollarStyle   bool
}

// NewExpander creates an Expander. By default missing names are kept as
// written and only ${name} is recognised.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{missingAction: MissingKeep}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand replaces placeholders in s using lookup.
func (e *Expander) Expand(s string, lookup Lookup) (string, error) {
	if s == "" || lookup == nil {
		return s, nil
	}

	var missing []string
	replace := func(name, match string) string {
		if val, ok := lookup(name); ok {
			return val
		}
		switch e.missingAction {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, name)
		}
		return match
	}

	result := bracePattern.ReplaceAllStringFunc(s, func(match string) string {
		return replace(match[2:len(match)-1], match)
	})
	if e.dollarStyle {
		result = dollarPattern.ReplaceAllStringFunc(result, func(match string) string {
			return replace(match[1:], match)
		})
	}

	if len(missing) > 0 {
		return result, &UndefinedVariableError{Names: missing}
	}
	return result, nil
}

// Names returns the distinct ${name} placeholders in s, in order of appearance.
func Names(s string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range bracePattern.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
