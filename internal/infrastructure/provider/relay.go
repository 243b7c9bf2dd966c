package provider

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// RelayStream copies an upstream SSE body to the client byte-for-byte,
// flushing as bytes arrive, while a side decoder scans the events for
// the first usage object. Returns the captured usage, if any.
func RelayStream(w http.ResponseWriter, body io.Reader) (map[string]any, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	scanner := &usageScanner{}
	_, err := io.Copy(io.MultiWriter(&flushWriter{w: w}, scanner), body)
	scanner.flushTail()
	return scanner.usage, err
}

// RelayBuffered forwards a buffered upstream reply with its original
// status code, parsing JSON bodies to lift out the usage object.
func RelayBuffered(w http.ResponseWriter, resp *http.Response, body []byte) map[string]any {
	var captured map[string]any
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var parsed map[string]any
		if err := json.Unmarshal(body, &parsed); err == nil {
			captured, _ = parsed["usage"].(map[string]any)
		}
	}
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
	return captured
}

// flushWriter flushes after every write so relayed chunks reach the
// client as soon as the upstream delivers them.
type flushWriter struct {
	w http.ResponseWriter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}

// usageScanner accumulates relayed bytes into SSE lines and keeps the
// first usage object it sees.
type usageScanner struct {
	buf   bytes.Buffer
	usage map[string]any
}

func (u *usageScanner) Write(p []byte) (int, error) {
	u.buf.Write(p)
	for {
		line, err := u.buf.ReadString('\n')
		if err != nil {
			// Partial line: keep the remainder for the next write.
			u.buf.Reset()
			u.buf.WriteString(line)
			break
		}
		u.scanLine(line)
	}
	return len(p), nil
}

func (u *usageScanner) flushTail() {
	if u.buf.Len() > 0 {
		u.scanLine(u.buf.String())
		u.buf.Reset()
	}
}

func (u *usageScanner) scanLine(line string) {
	if u.usage != nil {
		return
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data: ") {
		return
	}
	data := strings.TrimPrefix(line, "data: ")
	if data == "[DONE]" {
		return
	}
	var chunk struct {
		Usage map[string]any `json:"usage"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return
	}
	if len(chunk.Usage) > 0 {
		u.usage = chunk.Usage
	}
}
