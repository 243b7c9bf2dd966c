package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprintSubset is the routing-relevant slice of a payload. Model,
// stream, and sampling parameters are deliberately excluded: the
// classifier decision depends only on task shape, so two otherwise-equal
// requests must produce the same fingerprint.
type fingerprintSubset struct {
	Messages       any `json:"messages"`
	Tools          any `json:"tools"`
	ToolChoice     any `json:"tool_choice"`
	ResponseFormat any `json:"response_format"`
}

// Fingerprint returns the hex SHA-256 over a deterministic JSON
// serialization of the routing-relevant payload subset.
// encoding/json writes map keys in sorted order, so structurally equal
// payloads hash identically.
func (p Payload) Fingerprint() string {
	subset := fingerprintSubset{
		Messages:       p["messages"],
		Tools:          p["tools"],
		ToolChoice:     p["tool_choice"],
		ResponseFormat: p["response_format"],
	}
	b, err := json.Marshal(subset)
	if err != nil {
		// Marshal of decoded JSON values cannot fail; guard anyway.
		b = []byte{}
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
