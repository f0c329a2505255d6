package sqlast

import (
	"fmt"
	"strconv"
	"strings"
)

// ParamMap tracks the named bind parameters of one SQL statement and their
// assigned positional slots. Position assignment is first-occurrence order
// and repeated uses of the same name share one slot.
type ParamMap struct {
	names []string
	index map[string]int // name -> 1-based position
}

// NewParamMap returns an empty parameter map.
func NewParamMap() *ParamMap {
	return &ParamMap{index: make(map[string]int)}
}

// Names returns the parameter names in positional order ($1 first).
func (p *ParamMap) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Len returns the number of distinct named parameters.
func (p *ParamMap) Len() int {
	return len(p.names)
}

// IndexOf returns the 1-based positional slot for name, if assigned.
func (p *ParamMap) IndexOf(name string) (int, bool) {
	n, ok := p.index[name]
	return n, ok
}

// Ensure returns the positional slot for name, assigning the next free
// slot if the name has not been seen yet.
func (p *ParamMap) Ensure(name string) int {
	if n, ok := p.index[name]; ok {
		return n
	}
	p.names = append(p.names, name)
	p.index[name] = len(p.names)
	return len(p.names)
}

// Bind resolves the ordered positional argument list from a named value map.
// Every assigned parameter must be present in values.
func (p *ParamMap) Bind(values map[string]any) ([]any, error) {
	args := make([]any, len(p.names))
	for i, name := range p.names {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("missing bind value for parameter %q", name)
		}
		args[i] = v
	}
	return args, nil
}

// ToPositional rewrites named `:name` placeholders in sql to PostgreSQL
// positional `$N` placeholders so the statement can be parsed and executed,
// returning the rewritten SQL and the resulting parameter map.
//
// The scan is quote-aware: placeholders inside string literals, quoted
// identifiers, dollar-quoted strings and comments are left untouched, and
// `::type` casts are never mistaken for parameters. Only named placeholders
// are supported; pre-existing `$N` placeholders pass through unmodified and
// are not tracked.
func ToPositional(sql string) (string, *ParamMap) {
	params := NewParamMap()
	var out strings.Builder
	out.Grow(len(sql))

	i := 0
	for i < len(sql) {
		c := sql[i]

		switch {
		case c == '\'':
			j := scanSingleQuoted(sql, i)
			out.WriteString(sql[i:j])
			i = j
		case c == '"':
			j := scanDoubleQuoted(sql, i)
			out.WriteString(sql[i:j])
			i = j
		case c == '$':
			if j, ok := scanDollarQuoted(sql, i); ok {
				out.WriteString(sql[i:j])
				i = j
			} else {
				out.WriteByte(c)
				i++
			}
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			j := scanLineComment(sql, i)
			out.WriteString(sql[i:j])
			i = j
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			j := scanBlockComment(sql, i)
			out.WriteString(sql[i:j])
			i = j
		case c == ':':
			// `::` is a cast, `:=` is an assignment operator.
			if i+1 < len(sql) && (sql[i+1] == ':' || sql[i+1] == '=') {
				out.WriteString(sql[i : i+2])
				i += 2
				continue
			}
			if i+1 < len(sql) && isIdentStart(sql[i+1]) {
				j := i + 1
				for j < len(sql) && isIdentPart(sql[j]) {
					j++
				}
				name := sql[i+1 : j]
				pos := params.Ensure(name)
				out.WriteString("$" + strconv.Itoa(pos))
				i = j
				continue
			}
			out.WriteByte(c)
			i++
		default:
			out.WriteByte(c)
			i++
		}
	}

	return out.String(), params
}

// ToNamed rewrites `$N` placeholders back to their `:name` form using the
// positions recorded in p. Placeholders with positions outside the map are
// left as-is. Used after deparsing so user-visible SQL keeps named form.
func (p *ParamMap) ToNamed(sql string) string {
	var out strings.Builder
	out.Grow(len(sql))

	i := 0
	for i < len(sql) {
		c := sql[i]

		switch {
		case c == '\'':
			j := scanSingleQuoted(sql, i)
			out.WriteString(sql[i:j])
			i = j
		case c == '"':
			j := scanDoubleQuoted(sql, i)
			out.WriteString(sql[i:j])
			i = j
		case c == '$':
			if j, ok := scanDollarQuoted(sql, i); ok {
				out.WriteString(sql[i:j])
				i = j
				continue
			}
			j := i + 1
			for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
				j++
			}
			if j > i+1 {
				if n, err := strconv.Atoi(sql[i+1 : j]); err == nil && n >= 1 && n <= len(p.names) {
					out.WriteString(":" + p.names[n-1])
					i = j
					continue
				}
			}
			out.WriteByte(c)
			i++
		default:
			out.WriteByte(c)
			i++
		}
	}

	return out.String()
}

// scanSingleQuoted consumes a single-quoted string starting at sql[start],
// honoring doubled-quote escapes, and returns the index past the closing quote.
func scanSingleQuoted(sql string, start int) int {
	i := start + 1
	for i < len(sql) {
		if sql[i] == '\'' {
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(sql)
}

func scanDoubleQuoted(sql string, start int) int {
	i := start + 1
	for i < len(sql) {
		if sql[i] == '"' {
			if i+1 < len(sql) && sql[i+1] == '"' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(sql)
}

// scanDollarQuoted consumes a dollar-quoted string ($$...$$ or $tag$...$tag$)
// starting at sql[start]. Returns (end, true) on a valid opener, or (0, false)
// when the '$' is not a dollar-quote opener (e.g. a positional parameter).
func scanDollarQuoted(sql string, start int) (int, bool) {
	j := start + 1
	for j < len(sql) && sql[j] != '$' {
		if !isIdentPart(sql[j]) {
			return 0, false
		}
		j++
	}
	if j >= len(sql) {
		return 0, false
	}
	tag := sql[start : j+1]
	// Positional parameters look like $1; digits cannot open a tag.
	if len(tag) > 2 && sql[start+1] >= '0' && sql[start+1] <= '9' {
		return 0, false
	}
	end := strings.Index(sql[j+1:], tag)
	if end < 0 {
		return len(sql), true
	}
	return j + 1 + end + len(tag), true
}

func scanLineComment(sql string, start int) int {
	i := strings.IndexByte(sql[start:], '\n')
	if i < 0 {
		return len(sql)
	}
	return start + i + 1
}

func scanBlockComment(sql string, start int) int {
	depth := 0
	i := start
	for i < len(sql)-1 {
		if sql[i] == '/' && sql[i+1] == '*' {
			depth++
			i += 2
			continue
		}
		if sql[i] == '*' && sql[i+1] == '/' {
			depth--
			i += 2
			if depth == 0 {
				return i
			}
			continue
		}
		i++
	}
	return len(sql)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
