package chat

import "testing"

func TestCoerceContentString(t *testing.T) {
	if got := CoerceContent("hello"); got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
}

func TestCoerceContentNil(t *testing.T) {
	if got := CoerceContent(nil); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestCoerceContentParts(t *testing.T) {
	content := []any{
		"plain,",
		map[string]any{"type": "text", "text": " text-field,"},
		map[string]any{"type": "input_text", "input_text": " input-field,"},
		map[string]any{"content": []any{map[string]any{"text": " nested"}}},
	}
	want := "plain, text-field, input-field, nested"
	if got := CoerceContent(content); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCoerceContentTextBeatsInputText(t *testing.T) {
	part := map[string]any{"text": "a", "input_text": "b"}
	if got := CoerceContent([]any{part}); got != "a" {
		t.Fatalf("text field should win, got %q", got)
	}
}

func TestCoerceContentJSONFallback(t *testing.T) {
	part := map[string]any{"type": "image_url", "image_url": "https://example.com/x.png"}
	got := CoerceContent([]any{part})
	if got == "" {
		t.Fatal("expected JSON fallback, got empty string")
	}
	if got[0] != '{' {
		t.Fatalf("expected serialized object, got %q", got)
	}
}

func TestCoerceContentNonStringScalar(t *testing.T) {
	if got := CoerceContent(float64(42)); got != "42" {
		t.Fatalf("expected 42, got %q", got)
	}
}
