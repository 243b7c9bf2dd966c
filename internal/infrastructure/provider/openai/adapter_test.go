package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/domain/chat"
	"github.com/tiergate/tiergate/internal/infrastructure/config"
	"github.com/tiergate/tiergate/internal/infrastructure/provider"
	"github.com/tiergate/tiergate/internal/infrastructure/usage"
)

func testDeps() provider.Deps {
	return provider.Deps{
		Config: &config.Config{
			DecisionHeader: "x-openrouter-decision",
			UpstreamHeader: "x-openrouter-upstream",
		},
		Usage:  usage.New(zap.NewNop()),
		Logger: zap.NewNop(),
	}
}

func exchange(up *config.Upstream, p chat.Payload) provider.Exchange {
	return provider.Exchange{
		Payload:  p,
		Upstream: up,
		Route:    chat.RouteCheap,
		Decision: 0,
	}
}

func TestServeBufferedPassthrough(t *testing.T) {
	var gotBody map[string]any
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer srv.Close()

	deps := testDeps()
	up := &config.Upstream{Name: "cheap", BaseURL: srv.URL, APIKey: "sk-test", Model: "llama-3"}
	payload := chat.Payload{
		"model": "client-model",
		"messages": []any{
			map[string]any{"role": "user", "content": "hello"},
		},
		"custom_field": "survives",
	}

	rec := httptest.NewRecorder()
	New(deps).Serve(context.Background(), rec, exchange(up, payload))

	if gotPath != "/v1/chat/completions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["model"] != "llama-3" {
		t.Fatalf("model should be overridden, got %v", gotBody["model"])
	}
	if gotBody["custom_field"] != "survives" {
		t.Fatal("unmodeled fields must pass through verbatim")
	}
	// The original payload must not be mutated by the override.
	if payload["model"] != "client-model" {
		t.Fatal("inbound payload was mutated")
	}

	if rec.Header().Get("x-openrouter-decision") != "0" {
		t.Fatalf("decision header missing: %v", rec.Header())
	}
	if rec.Header().Get("x-openrouter-upstream") != "cheap" {
		t.Fatalf("upstream header missing: %v", rec.Header())
	}
	if !strings.Contains(rec.Body.String(), `"chatcmpl-1"`) {
		t.Fatalf("body not relayed: %s", rec.Body.String())
	}

	snap := deps.Usage.Snapshot()
	b := snap.Buckets[chat.RouteCheap]
	if b.Requests != 1 || b.WithUsage != 1 || b.PromptTokens != 3 {
		t.Fatalf("usage not recorded: %+v", b)
	}
}

func TestServeStreamRelay(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}],\"usage\":{\"prompt_tokens\":2,\"completion_tokens\":2}}\n\n" +
		"data: [DONE]\n\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, stream)
	}))
	defer srv.Close()

	deps := testDeps()
	up := &config.Upstream{Name: "cheap", BaseURL: srv.URL}
	payload := chat.Payload{
		"stream": true,
		"messages": []any{
			map[string]any{"role": "user", "content": "hello"},
		},
	}

	rec := httptest.NewRecorder()
	New(deps).Serve(context.Background(), rec, exchange(up, payload))

	if rec.Body.String() != stream {
		t.Fatalf("stream not relayed verbatim:\n%s", rec.Body.String())
	}

	b := deps.Usage.Snapshot().Buckets[chat.RouteCheap]
	if b.WithUsage != 1 || b.PromptTokens != 2 {
		t.Fatalf("stream usage not recorded: %+v", b)
	}
}

func TestServeUpstreamErrorRelayed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}))
	defer srv.Close()

	deps := testDeps()
	up := &config.Upstream{Name: "cheap", BaseURL: srv.URL}
	payload := chat.Payload{
		"messages": []any{map[string]any{"role": "user", "content": "x"}},
	}

	rec := httptest.NewRecorder()
	New(deps).Serve(context.Background(), rec, exchange(up, payload))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("upstream status should be relayed, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "slow down") {
		t.Fatalf("error body not relayed: %s", rec.Body.String())
	}
}

func TestChatCompletionsURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080/", "http://localhost:8080/v1/chat/completions"},
	}
	for _, tc := range cases {
		if got := chatCompletionsURL(tc.base); got != tc.want {
			t.Fatalf("chatCompletionsURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}
