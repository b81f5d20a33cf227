// Package params implements C2, the Parameter Extractor: pulls declared
// scalar fields out of an agent's free-text output into the execution
// context, scanning for the first embedded JSON object.
package params

import (
	"strings"

	"github.com/tidwall/gjson"
)

// FirstJSONObject returns the substring of text spanning the first balanced
// top-level JSON object ("{...}"), or "" if none is found. Brace balance is
// tracked ignoring braces inside string literals, so object values embedded
// in prose are located correctly.
func FirstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// Extract locates the first JSON object in output and copies the declared
// top-level scalar fields (string, number, boolean) into a fresh context
// map. Nested objects and arrays are ignored. Missing names are silently
// skipped. Extract never returns an error: malformed or absent JSON simply
// yields an empty map.
func Extract(output string, names []string) map[string]interface{} {
	result := make(map[string]interface{}, len(names))
	obj := FirstJSONObject(output)
	if obj == "" {
		return result
	}
	parsed := gjson.Parse(obj)
	if !parsed.IsObject() {
		return result
	}
	for _, name := range names {
		field := parsed.Get(gjson.Escape(name))
		if !field.Exists() {
			continue
		}
		switch field.Type {
		case gjson.String:
			result[name] = field.String()
		case gjson.Number:
			result[name] = field.Num
		case gjson.True, gjson.False:
			result[name] = field.Bool()
		default:
			// JSON, Null: nested objects/arrays/null are ignored per contract.
		}
	}
	return result
}

// ApplyTo copies the result of Extract into an existing context map,
// overwriting any keys already present.
func ApplyTo(ctx map[string]interface{}, output string, names []string) {
	for k, v := range Extract(output, names) {
		ctx[k] = v
	}
}
