// Package render substitutes {key} placeholders in message templates.
package render

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Render replaces every {key} whose key exists in vars with its value.
// A nil value renders as the empty string. Placeholders without a matching key
// are left untouched, as is any brace that does not close a placeholder.
func Render(template string, vars map[string]any) string {
	return render(template, vars, stringify)
}

// RenderJSON is Render for JSON documents: values are escaped as JSON string content, so a
// placeholder inside a quoted string stays valid whatever the value holds.
func RenderJSON(template string, vars map[string]any) string {
	return render(template, vars, func(v any) string {
		encoded, err := json.Marshal(stringify(v))
		if err != nil {
			return ""
		}
		return string(encoded[1 : len(encoded)-1])
	})
}

func render(template string, vars map[string]any, format func(any) string) string {
	if template == "" || len(vars) == 0 || !strings.Contains(template, "{") {
		return template
	}

	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			b.WriteString(template[i:])
			break
		}
		open += i
		b.WriteString(template[i:open])

		end := strings.IndexByte(template[open+1:], '}')
		if end < 0 {
			b.WriteString(template[open:])
			break
		}
		end += open + 1

		key := template[open+1 : end]
		// a nested "{" means this brace is literal text; resume scanning at the inner one
		if strings.ContainsRune(key, '{') {
			inner := strings.LastIndexByte(key, '{')
			b.WriteString(template[open : open+1+inner])
			i = open + 1 + inner
			continue
		}

		value, ok := vars[key]
		if !ok {
			b.WriteString(template[open : end+1])
		} else {
			b.WriteString(format(value))
		}
		i = end + 1
	}

	return b.String()
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
