// Package template implements the mustache subset used by action prompts:
// {{name}} (escaped), {{{name}}} (raw), dotted lookups, {{#name}} sections
// and {{^name}} inverted sections. Undefined variables render to the empty
// string. Rendering is a pure function of (template, context); there is no
// filesystem access and no partial inclusion.
package template

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
)

// Render substitutes variables from ctx into tmpl.
func Render(tmpl string, ctx map[string]any) string {
	var sb strings.Builder
	render(&sb, tmpl, ctx)
	return sb.String()
}

func render(sb *strings.Builder, tmpl string, ctx map[string]any) {
	for {
		open := strings.Index(tmpl, "{{")
		if open < 0 {
			sb.WriteString(tmpl)
			return
		}
		sb.WriteString(tmpl[:open])
		rest := tmpl[open:]

		switch {
		case strings.HasPrefix(rest, "{{{"):
			end := strings.Index(rest, "}}}")
			if end < 0 {
				sb.WriteString(rest)
				return
			}
			name := strings.TrimSpace(rest[3:end])
			sb.WriteString(Format(Lookup(ctx, name)))
			tmpl = rest[end+3:]

		case strings.HasPrefix(rest, "{{#"), strings.HasPrefix(rest, "{{^"):
			inverted := rest[2] == '^'
			end := strings.Index(rest, "}}")
			if end < 0 {
				sb.WriteString(rest)
				return
			}
			name := strings.TrimSpace(rest[3:end])
			body, remainder, ok := sectionBody(rest[end+2:], name)
			if !ok {
				// Unclosed section: emit the tag verbatim and continue.
				sb.WriteString(rest[:end+2])
				tmpl = rest[end+2:]
				continue
			}
			if Truthy(Lookup(ctx, name)) != inverted {
				render(sb, body, ctx)
			}
			tmpl = remainder

		default:
			end := strings.Index(rest, "}}")
			if end < 0 {
				sb.WriteString(rest)
				return
			}
			name := strings.TrimSpace(rest[2:end])
			if strings.HasPrefix(name, "/") {
				// Stray close tag; drop it.
				tmpl = rest[end+2:]
				continue
			}
			sb.WriteString(html.EscapeString(Format(Lookup(ctx, name))))
			tmpl = rest[end+2:]
		}
	}
}

// sectionBody finds the body of a {{#name}} or {{^name}} section, honoring
// nested sections of the same name. Returns the body, the remainder after
// the close tag, and whether a close tag was found.
func sectionBody(s, name string) (body, remainder string, ok bool) {
	openA := "{{#" + name + "}}"
	openB := "{{^" + name + "}}"
	closeTag := "{{/" + name + "}}"

	depth := 1
	i := 0
	for i < len(s) {
		nextClose := strings.Index(s[i:], closeTag)
		if nextClose < 0 {
			return "", "", false
		}
		nextClose += i

		nextOpen := -1
		if a := strings.Index(s[i:], openA); a >= 0 {
			nextOpen = a + i
		}
		if b := strings.Index(s[i:], openB); b >= 0 && (nextOpen < 0 || b+i < nextOpen) {
			nextOpen = b + i
		}

		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			i = nextOpen + len(openA)
			continue
		}
		depth--
		if depth == 0 {
			return s[:nextClose], s[nextClose+len(closeTag):], true
		}
		i = nextClose + len(closeTag)
	}
	return "", "", false
}

// Lookup resolves a possibly dotted name against ctx. Missing names
// resolve to nil.
func Lookup(ctx map[string]any, name string) any {
	if name == "" {
		return nil
	}
	parts := strings.Split(name, ".")
	var cur any = ctx
	for _, p := range parts {
		m, ok := toMap(cur)
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// Truthy reports whether a value renders a section body: non-nil,
// non-false, non-empty string, non-empty array or map.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
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

// Format converts a context value to its template string form.
func Format(v any) string {
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
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}
