package anthropic

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/infrastructure/provider"
)

// translateStream consumes Anthropic's event-based SSE and re-emits
// OpenAI chunks as each text delta arrives. Returns the usage object
// seen on message_start, if any.
//
// Anthropic SSE events of interest:
//   - message_start       → message metadata incl. input usage
//   - content_block_delta → incremental text
//   - message_stop        → stream complete
func translateStream(sw *provider.StreamWriter, body io.Reader, logger *zap.Logger) any {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var captured any

	for scanner.Scan() {
		line := scanner.Text()
		// Each event's data line repeats the type, so the "event:" frame
		// lines can be skipped outright.
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var evt StreamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			logger.Debug("skip unparseable anthropic SSE event", zap.Error(err))
			continue
		}

		switch evt.Type {
		case "message_start":
			if captured == nil && evt.Message != nil && evt.Message.Usage != nil {
				captured = evt.Message.Usage
			}
		case "content_block_delta":
			if evt.Delta != nil && evt.Delta.Text != "" {
				sw.WriteContent(evt.Delta.Text)
			}
		case "message_stop":
			sw.Finish()
			return captured
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("anthropic stream read failed", zap.Error(err))
	}
	sw.Finish()
	return captured
}
