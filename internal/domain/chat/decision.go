package chat

import (
	"encoding/json"
)

// Routing tiers, indexed by decision digit.
const (
	RouteCheap    = "cheap"
	RouteMedium   = "medium"
	RouteFrontier = "frontier"
)

// DecisionFrontier is the fallback decision used whenever the classifier
// is disabled or fails.
const DecisionFrontier = 2

// Classifier input strategies.
const (
	StrategyLastUser     = "last_user"
	StrategyFullMessages = "full_messages"
)

// TruncationMarker is appended when classifier input is cut at the char cap.
const TruncationMarker = "\n[TRUNCATED]"

// RouteForDecision maps a decision digit to its tier name.
// Anything outside {0, 1} routes to frontier.
func RouteForDecision(decision int) string {
	switch decision {
	case 0:
		return RouteCheap
	case 1:
		return RouteMedium
	default:
		return RouteFrontier
	}
}

// ExtractDecision scans text for the first character in [0-2] and
// returns it as an integer. A single streamed byte is enough.
func ExtractDecision(text string) (int, bool) {
	for _, r := range text {
		if r >= '0' && r <= '2' {
			return int(r - '0'), true
		}
	}
	return 0, false
}

// BuildClassifierInput renders the compact classification input for a
// payload. With StrategyFullMessages every message is serialized as
// [{role, content}] JSON with coerced content; otherwise the last user
// message's text is used, falling back to the full serialization when
// the conversation has no user turn. Output longer than maxChars is cut
// and marked with TruncationMarker.
func BuildClassifierInput(p Payload, strategy string, maxChars int) string {
	var input string
	if strategy == StrategyFullMessages {
		input = serializeMessages(p)
	} else {
		var ok bool
		input, ok = p.LastUserContent()
		if !ok {
			input = serializeMessages(p)
		}
	}
	return truncate(input, maxChars)
}

func serializeMessages(p Payload) string {
	type roleContent struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	var out []roleContent
	for _, m := range p.Messages() {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		out = append(out, roleContent{Role: role, Content: CoerceContent(msg["content"])})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(b)
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + TruncationMarker
}
