package chat

import "testing"

func basePayload() Payload {
	return Payload{
		"model": "gpt-4o",
		"messages": []any{
			map[string]any{"role": "user", "content": "What is 2+2?"},
		},
		"temperature": 0.7,
	}
}

func TestFingerprintStable(t *testing.T) {
	a := basePayload().Fingerprint()
	b := basePayload().Fingerprint()
	if a != b {
		t.Fatalf("same payload produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

// Sampling parameters and the client-chosen model are deliberately not
// part of the fingerprint: the decision depends only on task shape, so
// two requests differing only in model or temperature share one cache
// entry.
func TestFingerprintIgnoresModelAndSampling(t *testing.T) {
	a := basePayload()
	b := basePayload()
	b["model"] = "gpt-3.5-turbo"
	b["temperature"] = 0.0
	b["stream"] = true

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("model/temperature/stream must not affect the fingerprint")
	}
}

func TestFingerprintChangesWithMessages(t *testing.T) {
	a := basePayload()
	b := basePayload()
	b["messages"] = []any{
		map[string]any{"role": "user", "content": "Prove Fermat's last theorem."},
	}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("different messages must produce different fingerprints")
	}
}

func TestFingerprintChangesWithTools(t *testing.T) {
	a := basePayload()
	b := basePayload()
	b["tools"] = []any{
		map[string]any{"type": "function", "function": map[string]any{"name": "search"}},
	}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("tools must affect the fingerprint")
	}
}
