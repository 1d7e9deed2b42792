package expressions

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rendis/loom/pkg/schema"
)

// Template function names. Any other $name( sequence is left as literal text.
const (
	funcParam  = "param"
	funcOutput = "output"
	funcLength = "length"
	funcIf     = "if"
)

// TemplateProcessor renders prompt templates against a run scope. Two
// substitution mechanisms compose: $name(args) function calls, resolved
// innermost-first, and {name} variable interpolation. Substituted text is
// written out verbatim and never re-scanned, so rendering a template twice
// does not re-trigger substitution on the first pass's results.
type TemplateProcessor struct {
	conditions *ConditionEvaluator
	logger     *slog.Logger
}

// NewTemplateProcessor creates a template processor. The condition evaluator
// handles $if condition arguments.
func NewTemplateProcessor(conditions *ConditionEvaluator, logger *slog.Logger) *TemplateProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateProcessor{conditions: conditions, logger: logger}
}

// Render resolves all function calls and variable references in tmpl.
func (p *TemplateProcessor) Render(ctx context.Context, tmpl string, scope *Scope) (string, error) {
	return p.render(ctx, tmpl, scope, true)
}

// render performs a single left-to-right pass. Function arguments are
// resolved recursively with interpolation disabled: {name} references belong
// to the literal template text, not to function argument expressions.
func (p *TemplateProcessor) render(ctx context.Context, s string, scope *Scope, interpolate bool) (string, error) {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]

		if c == '$' {
			name, open := scanFuncCall(s, i)
			if name != "" {
				end, ok := matchParen(s, open)
				if !ok {
					return "", schema.NewErrorf(schema.ErrCodeTemplate,
						"unterminated $%s( call in template", name)
				}
				out, err := p.apply(ctx, name, s[open+1:end], scope)
				if err != nil {
					return "", err
				}
				b.WriteString(out)
				i = end + 1
				continue
			}
		}

		if c == '{' && interpolate {
			name, end := scanBraceRef(s, i)
			if name != "" {
				val, ok := scope.Lookup(name)
				if !ok {
					return "", schema.NewErrorf(schema.ErrCodeTemplate,
						"undefined variable %q in template", name).
						WithDetails(map[string]any{"variable": name})
				}
				b.WriteString(Stringify(val))
				i = end
				continue
			}
		}

		b.WriteByte(c)
		i++
	}

	return b.String(), nil
}

// apply resolves one function call. rawArgs is the text between the call's
// parentheses, with any nested calls still unresolved.
func (p *TemplateProcessor) apply(ctx context.Context, name, rawArgs string, scope *Scope) (string, error) {
	switch name {
	case funcParam:
		arg, err := p.resolveArg(ctx, rawArgs, scope)
		if err != nil {
			return "", err
		}
		val, ok := scope.Parameters[arg]
		if !ok {
			p.logger.WarnContext(ctx, "template references unset parameter",
				slog.String("parameter", arg))
			return "", nil
		}
		return Stringify(val), nil

	case funcOutput:
		arg, err := p.resolveArg(ctx, rawArgs, scope)
		if err != nil {
			return "", err
		}
		out, ok := p.lookupOutput(scope, arg)
		if !ok {
			return "", schema.NewErrorf(schema.ErrCodeTemplate,
				"no stored output for step id %q", arg).
				WithDetails(map[string]any{"step_id": arg})
		}
		return out, nil

	case funcLength:
		arg, err := p.resolveArg(ctx, rawArgs, scope)
		if err != nil {
			return "", err
		}
		out, ok := p.lookupOutput(scope, arg)
		if !ok {
			return "", schema.NewErrorf(schema.ErrCodeTemplate,
				"no stored output for step id %q", arg).
				WithDetails(map[string]any{"step_id": arg})
		}
		return strconv.Itoa(utf8.RuneCountInString(out)), nil

	case funcIf:
		args := splitArgs(rawArgs)
		if len(args) != 3 {
			return "", schema.NewErrorf(schema.ErrCodeTemplate,
				"$if expects 3 arguments (condition, true text, false text), got %d", len(args))
		}
		cond, err := p.render(ctx, strings.TrimSpace(args[0]), scope, false)
		if err != nil {
			return "", err
		}
		truthy, err := p.conditions.EvaluateBool(ctx, cond, scope)
		if err != nil {
			return "", err
		}
		// Branches are literal text; the chosen branch is inserted as-is,
		// never re-rendered.
		if truthy {
			return strings.TrimSpace(args[1]), nil
		}
		return strings.TrimSpace(args[2]), nil
	}

	return "", schema.NewErrorf(schema.ErrCodeTemplate, "unknown template function $%s", name)
}

// resolveArg renders nested function calls inside a single-argument call and
// trims the result down to the referenced name/id.
func (p *TemplateProcessor) resolveArg(ctx context.Context, raw string, scope *Scope) (string, error) {
	out, err := p.render(ctx, raw, scope, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (p *TemplateProcessor) lookupOutput(scope *Scope, id string) (string, bool) {
	if scope.Outputs == nil {
		return "", false
	}
	return scope.Outputs.Output(id)
}

// scanFuncCall reads a $name( call head starting at s[start]=='$'. Returns
// the function name and the index of the opening paren, or ("", 0) when the
// sequence is not a supported call.
func scanFuncCall(s string, start int) (string, int) {
	i := start + 1
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	if i == start+1 || i >= len(s) || s[i] != '(' {
		return "", 0
	}
	name := s[start+1 : i]
	switch name {
	case funcParam, funcOutput, funcLength, funcIf:
		return name, i
	}
	return "", 0
}

// matchParen returns the index of the ')' matching s[open]=='(', skipping
// quoted strings.
func matchParen(s string, open int) (int, bool) {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// splitArgs splits an argument list on top-level commas, respecting nested
// parentheses and quoted strings.
func splitArgs(s string) []string {
	var args []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, s[start:i])
				start = i + 1
			}
		}
	}
	return append(args, s[start:])
}
