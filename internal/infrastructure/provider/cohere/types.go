package cohere

// --- Cohere chat v2 wire types ---

type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamEvent models the v2 chat stream: content-delta events carry the
// next text slice, message-end terminates the stream.
type StreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Message *struct {
			Content *struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
		Usage map[string]any `json:"usage"`
	} `json:"delta"`
}
