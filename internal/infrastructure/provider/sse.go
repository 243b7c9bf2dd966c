package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tiergate/tiergate/internal/domain/chat"
)

// StreamWriter re-emits upstream deltas as OpenAI chat.completion.chunk
// SSE frames. Every delta is flushed as soon as it is written; nothing
// is buffered across chunks.
type StreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      string
	model   string
	created int64
}

// NewStreamWriter sets the SSE response headers and prepares chunk
// identity fields shared by every frame of the stream.
func NewStreamWriter(w http.ResponseWriter, model string) *StreamWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	return &StreamWriter{
		w:       w,
		flusher: flusher,
		id:      chat.NewCompletionID(),
		model:   model,
		created: time.Now().Unix(),
	}
}

// WriteContent emits one content-delta chunk.
func (s *StreamWriter) WriteContent(delta string) {
	if delta == "" {
		return
	}
	s.writeChunk(chat.NewContentChunk(s.id, s.model, s.created, delta))
}

// Finish emits the finish_reason terminator chunk and the [DONE] line.
func (s *StreamWriter) Finish() {
	s.writeChunk(chat.NewStopChunk(s.id, s.model, s.created))
	io.WriteString(s.w, "data: [DONE]\n\n")
	s.flush()
}

func (s *StreamWriter) writeChunk(chunk chat.StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flush()
}

func (s *StreamWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
