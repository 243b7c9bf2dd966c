package cohere

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/infrastructure/provider"
)

// translateStream consumes the v2 chat stream and re-emits OpenAI
// chunks. content-delta events carry text, message-end terminates and
// may carry final usage.
func translateStream(sw *provider.StreamWriter, body io.Reader, logger *zap.Logger) any {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var captured any

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var raw map[string]any
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			logger.Debug("skip unparseable cohere SSE event", zap.Error(err))
			continue
		}
		var evt StreamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}

		switch evt.Type {
		case "content-delta":
			if evt.Delta != nil && evt.Delta.Message != nil && evt.Delta.Message.Content != nil {
				if text := evt.Delta.Message.Content.Text; text != "" {
					sw.WriteContent(text)
				}
			}
		case "message-end":
			if captured == nil {
				if m := extractTokens(raw); m != nil {
					captured = m
				} else if evt.Delta != nil {
					if tokens := dig(evt.Delta.Usage, "tokens"); tokens != nil {
						captured = tokens
					}
				}
			}
			sw.Finish()
			return captured
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("cohere stream read failed", zap.Error(err))
	}
	sw.Finish()
	return captured
}
