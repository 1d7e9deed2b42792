package expressions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/loom/pkg/schema"
)

// OutputLookup resolves stored step outputs by id. Implemented by the
// engine's execution context.
type OutputLookup interface {
	Output(id string) (string, bool)
}

// Scope is the data visible to templates and condition expressions during a
// run: the step's input text, the merged parameters, any collaborator-supplied
// named values, and the outputs of completed steps.
type Scope struct {
	InputText  string
	Parameters map[string]any
	Extra      map[string]any
	Outputs    OutputLookup

	// Value carries the match-step binding. HasValue distinguishes a bound
	// nil from no binding at all.
	Value    any
	HasValue bool
}

// Env builds the variable environment for expression evaluation. Only scope
// data and the evaluator's builtins are reachable from expressions.
func (s *Scope) Env() map[string]any {
	env := make(map[string]any, len(s.Parameters)+len(s.Extra)+3)
	for k, v := range s.Parameters {
		env[k] = v
	}
	for k, v := range s.Extra {
		env[k] = v
	}
	env["input_text"] = s.InputText
	env["parameters"] = s.Parameters
	if s.HasValue {
		env["value"] = s.Value
	}
	return env
}

// Lookup resolves a {name} reference. Fixed names win over parameters, which
// win over collaborator-supplied values.
func (s *Scope) Lookup(name string) (any, bool) {
	if name == "input_text" {
		return s.InputText, true
	}
	if name == "value" && s.HasValue {
		return s.Value, true
	}
	if v, ok := s.Parameters[name]; ok {
		return v, true
	}
	if v, ok := s.Extra[name]; ok {
		return v, true
	}
	return nil, false
}

// Interpolate substitutes {name} references in s from the scope. Substituted
// text is written out verbatim and never re-scanned. A referenced name with
// no value is a TEMPLATE_ERROR; brace sequences that are not a plain
// identifier reference are left untouched.
func Interpolate(s string, scope *Scope) (string, error) {
	if !strings.ContainsRune(s, '{') {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}

		name, end := scanBraceRef(s, i)
		if name == "" {
			b.WriteByte(c)
			i++
			continue
		}

		val, ok := scope.Lookup(name)
		if !ok {
			return "", schema.NewErrorf(schema.ErrCodeTemplate,
				"undefined variable %q in template", name).
				WithDetails(map[string]any{"variable": name})
		}

		b.WriteString(Stringify(val))
		i = end
	}

	return b.String(), nil
}

// scanBraceRef reads a {identifier} reference starting at s[start]=='{'.
// Returns the identifier and the index just past the closing brace, or
// ("", 0) when the sequence is not a plain identifier reference.
func scanBraceRef(s string, start int) (string, int) {
	i := start + 1
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	if i == start+1 || i >= len(s) || s[i] != '}' {
		return "", 0
	}
	name := s[start+1 : i]
	if name[0] >= '0' && name[0] <= '9' {
		return "", 0
	}
	return name, i + 1
}

func isIdentChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// Stringify renders a scope value for substitution into text.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Truthy reports whether an evaluated expression result selects a branch.
// Nil, false, zero numbers and empty strings/containers are falsy; everything
// else is truthy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
