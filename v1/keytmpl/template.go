// Package keytmpl compiles lock key templates containing ${path} placeholders
// and resolves them against a per-call context map.
//
// Placeholders are non-greedy and never nest: "order:${a}:${b}" has two.
// The path inside a placeholder is a dotted lookup ("args.user.id") evaluated
// over the JSON encoding of the context, so nested structs and maps are
// addressed by their JSON field names. Only the context entries named by the
// first path element of some placeholder are encoded; other entries are
// ignored whatever their type.
package keytmpl

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	warderrors "github.com/mirkobrombin/go-warden/v1/errors"
)

var placeholder = regexp.MustCompile(`\$\{(.+?)\}`)

var (
	// ErrEmptyTemplate is returned when compiling an empty template.
	ErrEmptyTemplate = errors.New("keytmpl: empty template")
	// ErrBlankExpression is the cause of a ResolutionError for "${ }".
	ErrBlankExpression = errors.New("keytmpl: blank placeholder")
)

// ResolutionError reports a placeholder that could not be evaluated.
type ResolutionError struct {
	Template   string
	Expression string
	Err        error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("keytmpl: resolve %q in %q: %v", e.Expression, e.Template, e.Err)
	}
	return fmt.Sprintf("keytmpl: no value for %q in %q", e.Expression, e.Template)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Is lets callers match resolution failures against the shared error kind.
func (e *ResolutionError) Is(target error) bool {
	return target == warderrors.ErrKeyResolution
}

type segment struct {
	literal string
	expr    string
	root    string
}

// Template is a compiled key template. It is immutable and safe for
// concurrent use.
type Template struct {
	raw      string
	segments []segment
	exprs    int
}

// Compile parses template into literal and placeholder segments.
func Compile(template string) (*Template, error) {
	if template == "" {
		return nil, ErrEmptyTemplate
	}
	t := &Template{raw: template}
	last := 0
	for _, m := range placeholder.FindAllStringSubmatchIndex(template, -1) {
		if m[0] > last {
			t.segments = append(t.segments, segment{literal: template[last:m[0]]})
		}
		expr := strings.TrimSpace(template[m[2]:m[3]])
		if expr == "" {
			return nil, &ResolutionError{Template: template, Expression: template[m[2]:m[3]], Err: ErrBlankExpression}
		}
		t.segments = append(t.segments, segment{expr: expr, root: root(expr)})
		t.exprs++
		last = m[1]
	}
	if last < len(template) {
		t.segments = append(t.segments, segment{literal: template[last:]})
	}
	return t, nil
}

// String returns the source template.
func (t *Template) String() string { return t.raw }

// Expressions returns the placeholder expressions in order of appearance.
func (t *Template) Expressions() []string {
	out := make([]string, 0, t.exprs)
	for _, s := range t.segments {
		if s.expr != "" {
			out = append(out, s.expr)
		}
	}
	return out
}

// root returns the context name a path starts with: everything up to the
// first unescaped '.' or '|', with gjson escapes removed.
func root(expr string) string {
	var b strings.Builder
	for i := 0; i < len(expr); i++ {
		switch c := expr[i]; c {
		case '\\':
			if i+1 < len(expr) {
				i++
				b.WriteByte(expr[i])
			}
		case '.', '|':
			return b.String()
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Execute resolves the template against ctx.
func (t *Template) Execute(ctx map[string]any) (string, error) {
	if t.exprs == 0 {
		return t.raw, nil
	}
	used := make(map[string]json.RawMessage, t.exprs)
	for _, s := range t.segments {
		if s.expr == "" {
			continue
		}
		if _, done := used[s.root]; done {
			continue
		}
		v, ok := ctx[s.root]
		if !ok {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return "", &ResolutionError{Template: t.raw, Expression: s.expr, Err: err}
		}
		used[s.root] = raw
	}
	doc, err := json.Marshal(used)
	if err != nil {
		return "", &ResolutionError{Template: t.raw, Expression: t.Expressions()[0], Err: err}
	}
	return t.ExecuteJSON(doc)
}

// ExecuteJSON resolves the template against an already encoded JSON object.
func (t *Template) ExecuteJSON(doc []byte) (string, error) {
	var b strings.Builder
	b.Grow(len(t.raw))
	for _, s := range t.segments {
		if s.expr == "" {
			b.WriteString(s.literal)
			continue
		}
		res := gjson.GetBytes(doc, s.expr)
		if !res.Exists() || res.Type == gjson.Null {
			return "", &ResolutionError{Template: t.raw, Expression: s.expr}
		}
		b.WriteString(res.String())
	}
	return b.String(), nil
}
