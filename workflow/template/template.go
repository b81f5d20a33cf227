// Package template implements C1, the Template Resolver: single-pass
// substitution of {identifier} placeholders from a context mapping.
package template

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Resolve replaces every {identifier} occurrence in s with its stringified
// value from ctx. Identifier characters are alphanumeric plus '_'. Unknown
// identifiers are left literal. Substitution is single-pass: text produced by
// a substitution is never itself rescanned for placeholders.
func Resolve(s string, ctx map[string]interface{}) string {
	var b strings.Builder
	b.Grow(len(s))

	i := 0
	for i < len(s) {
		if s[i] != '{' {
			b.WriteByte(s[i])
			i++
			continue
		}
		end := indexIdentifierEnd(s, i+1)
		if end == -1 || end == i+1 {
			// Not a well-formed {identifier}; emit the brace literally.
			b.WriteByte(s[i])
			i++
			continue
		}
		name := s[i+1 : end]
		if value, ok := ctx[name]; ok {
			b.WriteString(Stringify(value))
		} else {
			b.WriteString(s[i : end+1])
		}
		i = end + 1
	}
	return b.String()
}

// indexIdentifierEnd scans from start for a run of [A-Za-z0-9_] followed by
// '}', returning the index of the closing brace, or -1 if the run does not
// terminate in one before the string ends or an invalid character is found.
func indexIdentifierEnd(s string, start int) int {
	i := start
	for i < len(s) {
		c := s[i]
		if c == '}' {
			return i
		}
		if !isIdentChar(c) {
			return -1
		}
		i++
	}
	return -1
}

func isIdentChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// Stringify renders a context value in its canonical textual form: strings
// as-is, numbers in canonical decimal form, booleans as true/false, and
// lists/maps via a stable textual representation.
func Stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []interface{}:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Stringify(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s:%s", k, Stringify(x[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ResolveMap applies Resolve to every string value of m, returning a new map.
// Non-string values pass through unchanged.
func ResolveMap(m map[string]interface{}, ctx map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = Resolve(s, ctx)
		} else {
			out[k] = v
		}
	}
	return out
}
