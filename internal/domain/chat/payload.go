package chat

// Payload is an inbound OpenAI chat-completion request body, decoded as-is.
// It stays a map so passthrough adapters can forward fields the gateway
// does not model (tools, response_format, vendor extensions) verbatim.
type Payload map[string]any

// Messages returns the messages array, or nil when absent or malformed.
func (p Payload) Messages() []any {
	msgs, _ := p["messages"].([]any)
	return msgs
}

// Model returns the client-requested model name, if any.
func (p Payload) Model() string {
	m, _ := p["model"].(string)
	return m
}

// Stream reports whether the client asked for an SSE response.
func (p Payload) Stream() bool {
	s, _ := p["stream"].(bool)
	return s
}

// Clone returns a shallow copy. Adapters clone before mutating so the
// original request body stays untouched for logging and retries.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// LastUserContent returns the coerced content of the last user-role
// message, and whether one exists.
func (p Payload) LastUserContent() (string, bool) {
	msgs := p.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		m, ok := msgs[i].(map[string]any)
		if !ok {
			continue
		}
		if role, _ := m["role"].(string); role == "user" {
			return CoerceContent(m["content"]), true
		}
	}
	return "", false
}

// AsInt converts a decoded JSON value to int. JSON numbers arrive as
// float64 after map decoding.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// AsFloat converts a decoded JSON value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// MaxTokens returns max_tokens, falling back to max_completion_tokens.
func (p Payload) MaxTokens() (int, bool) {
	if n, ok := AsInt(p["max_tokens"]); ok {
		return n, true
	}
	return AsInt(p["max_completion_tokens"])
}

// StopSequences normalizes the stop parameter to a string slice.
// OpenAI accepts either a single string or an array.
func (p Payload) StopSequences() []string {
	switch s := p["stop"].(type) {
	case string:
		return []string{s}
	case []any:
		var out []string
		for _, v := range s {
			if str, ok := v.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
