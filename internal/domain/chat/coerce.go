package chat

import (
	"encoding/json"
	"strings"
)

// CoerceContent flattens a message content value to plain text.
// Content may be a string or an array of parts; each part contributes,
// in order of precedence: the part itself when it is a string, its
// "text" field, its "input_text" field, a recursive coerce of its
// "content" field, or its JSON serialization as a last resort.
// This is the single definition of "message text" used by the
// classifier input and by adapters that need flat strings.
func CoerceContent(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		var sb strings.Builder
		for _, part := range c {
			sb.WriteString(coercePart(part))
		}
		return sb.String()
	default:
		return jsonFallback(content)
	}
}

func coercePart(part any) string {
	switch p := part.(type) {
	case string:
		return p
	case map[string]any:
		if text, ok := p["text"].(string); ok {
			return text
		}
		if text, ok := p["input_text"].(string); ok {
			return text
		}
		if inner, ok := p["content"]; ok && inner != nil {
			return CoerceContent(inner)
		}
		return jsonFallback(part)
	default:
		return jsonFallback(part)
	}
}

func jsonFallback(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
