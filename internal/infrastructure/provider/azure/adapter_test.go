package azure

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

func testAdapter() *Adapter {
	return New(provider.Deps{
		Config: &config.Config{
			DecisionHeader:  "x-openrouter-decision",
			UpstreamHeader:  "x-openrouter-upstream",
			AzureAPIVersion: "2024-10-21",
		},
		Usage:  usage.New(zap.NewNop()),
		Logger: zap.NewNop(),
	})
}

func TestDeploymentURL(t *testing.T) {
	a := testAdapter()

	cases := []struct {
		up   config.Upstream
		want string
	}{
		{
			config.Upstream{BaseURL: "https://x.openai.azure.com", Deployment: "gpt4o", APIVersion: "2024-10-21"},
			"https://x.openai.azure.com/openai/deployments/gpt4o/chat/completions?api-version=2024-10-21",
		},
		{
			// Deployment already in the base URL: path preserved.
			config.Upstream{BaseURL: "https://x.openai.azure.com/openai/deployments/gpt4o"},
			"https://x.openai.azure.com/openai/deployments/gpt4o/chat/completions?api-version=2024-10-21",
		},
		{
			// Full path: api-version still forced.
			config.Upstream{BaseURL: "https://x.openai.azure.com/openai/deployments/gpt4o/chat/completions?api-version=old", APIVersion: "2024-10-21"},
			"https://x.openai.azure.com/openai/deployments/gpt4o/chat/completions?api-version=2024-10-21",
		},
		{
			// Model doubles as deployment when none is set.
			config.Upstream{BaseURL: "https://x.openai.azure.com", Model: "gpt4o-mini"},
			"https://x.openai.azure.com/openai/deployments/gpt4o-mini/chat/completions?api-version=2024-10-21",
		},
	}
	for _, tc := range cases {
		got, err := a.deploymentURL(&tc.up)
		if err != nil {
			t.Fatalf("deploymentURL(%+v): %v", tc.up, err)
		}
		if got != tc.want {
			t.Fatalf("deploymentURL(%q) = %q, want %q", tc.up.BaseURL, got, tc.want)
		}
	}
}

func TestDeploymentURLMissingDeployment(t *testing.T) {
	a := testAdapter()
	if _, err := a.deploymentURL(&config.Upstream{BaseURL: "https://x.openai.azure.com"}); err == nil {
		t.Fatal("expected an error without a deployment")
	}
}

func TestServeStripsModelAndSetsAPIKey(t *testing.T) {
	var gotBody map[string]any
	var gotKey, gotPath, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.URL.Query().Get("api-version")
		gotKey = r.Header.Get("api-key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-az","choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer srv.Close()

	a := testAdapter()
	up := &config.Upstream{Name: "frontier", BaseURL: srv.URL, APIKey: "azkey", Deployment: "gpt4o"}
	payload := chat.Payload{
		"model": "gpt-4o",
		"messages": []any{
			map[string]any{"role": "user", "content": "hi"},
		},
	}

	rec := httptest.NewRecorder()
	a.Serve(context.Background(), rec, provider.Exchange{
		Payload: payload, Upstream: up, Route: chat.RouteFrontier, Decision: 2,
	})

	if gotPath != "/openai/deployments/gpt4o/chat/completions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotVersion != "2024-10-21" {
		t.Fatalf("unexpected api-version %q", gotVersion)
	}
	if gotKey != "azkey" {
		t.Fatalf("unexpected api-key %q", gotKey)
	}
	if _, present := gotBody["model"]; present {
		t.Fatal("model field must be stripped from the outbound body")
	}
	if payload["model"] != "gpt-4o" {
		t.Fatal("inbound payload was mutated")
	}
	if !strings.Contains(rec.Body.String(), "chatcmpl-az") {
		t.Fatalf("body not relayed: %s", rec.Body.String())
	}
}

func TestServeBearerKeyUsesAuthorization(t *testing.T) {
	var gotAuth, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("api-key")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	a := testAdapter()
	up := &config.Upstream{Name: "frontier", BaseURL: srv.URL, APIKey: "Bearer tok123", Deployment: "d"}
	payload := chat.Payload{"messages": []any{map[string]any{"role": "user", "content": "x"}}}

	rec := httptest.NewRecorder()
	a.Serve(context.Background(), rec, provider.Exchange{
		Payload: payload, Upstream: up, Route: chat.RouteFrontier, Decision: 2,
	})

	if gotAuth != "Bearer tok123" {
		t.Fatalf("expected authorization header, got %q", gotAuth)
	}
	if gotAPIKey != "" {
		t.Fatalf("api-key must not be set for bearer keys, got %q", gotAPIKey)
	}
}

func TestServeMissingDeployment(t *testing.T) {
	a := testAdapter()
	up := &config.Upstream{Name: "frontier", BaseURL: "https://x.openai.azure.com"}
	payload := chat.Payload{"messages": []any{map[string]any{"role": "user", "content": "x"}}}

	rec := httptest.NewRecorder()
	a.Serve(context.Background(), rec, provider.Exchange{
		Payload: payload, Upstream: up, Route: chat.RouteFrontier, Decision: 2,
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "missing_deployment") {
		t.Fatalf("expected missing_deployment, got %s", rec.Body.String())
	}
}
