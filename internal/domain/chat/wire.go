package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- OpenAI chat-completion wire shapes ---
// Every adapter re-emits these regardless of the upstream dialect, so
// clients always see standard OpenAI responses.

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Completion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   any      `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type StreamChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

type ChunkChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type StreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// NewCompletionID mints a chatcmpl-style identifier.
func NewCompletionID() string {
	return fmt.Sprintf("chatcmpl-%s", uuid.NewString())
}

// NewCompletion wraps flat assistant text as a buffered completion.
func NewCompletion(model, content string, usage any) Completion {
	return Completion{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: usage,
	}
}

// NewContentChunk builds a streaming chunk carrying a content delta.
func NewContentChunk(id, model string, created int64, content string) StreamChunk {
	return StreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []ChunkChoice{{
			Index: 0,
			Delta: StreamDelta{Content: content},
		}},
	}
}

// NewStopChunk builds the terminating chunk with finish_reason "stop".
func NewStopChunk(id, model string, created int64) StreamChunk {
	stop := "stop"
	return StreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []ChunkChoice{{
			Index:        0,
			Delta:        StreamDelta{},
			FinishReason: &stop,
		}},
	}
}
