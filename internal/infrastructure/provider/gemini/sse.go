package gemini

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/infrastructure/provider"
)

// translateStream consumes the alt=sse event stream, where every data
// line is a full GenerateContentResponse carrying the next text slice.
// The final event carries the cumulative usageMetadata, so the last
// non-empty one wins.
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

		var evt Response
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			logger.Debug("skip unparseable gemini SSE event", zap.Error(err))
			continue
		}
		if text := evt.Text(); text != "" {
			sw.WriteContent(text)
		}
		if evt.UsageMetadata != nil {
			captured = evt.UsageMetadata
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("gemini stream read failed", zap.Error(err))
	}
	sw.Finish()
	return captured
}
