package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/domain/chat"
	"github.com/tiergate/tiergate/internal/infrastructure/cache"
	"github.com/tiergate/tiergate/internal/infrastructure/config"
	_ "github.com/tiergate/tiergate/internal/infrastructure/provider/openai" // register passthrough adapter
	"github.com/tiergate/tiergate/internal/infrastructure/usage"
)

type stubClassifier struct {
	decision int
	err      error
	calls    int
}

func (s *stubClassifier) Classify(ctx context.Context, p chat.Payload) (int, error) {
	s.calls++
	return s.decision, s.err
}

// upstreamServer returns a minimal OpenAI-compatible upstream that
// labels its responses so tests can tell which tier was hit.
func upstreamServer(t *testing.T, label string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"chatcmpl-%s","choices":[{"message":{"content":"from %s"}}]}`, label, label)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(cheap, medium, frontier string) *config.Config {
	return &config.Config{
		BodyLimit:      1 << 20,
		DecisionHeader: "x-openrouter-decision",
		UpstreamHeader: "x-openrouter-upstream",
		Classifier:     config.ClassifierConfig{Enabled: true},
		Upstreams: config.Upstreams{
			Cheap:    &config.Upstream{Name: "cheap", BaseURL: cheap},
			Medium:   &config.Upstream{Name: "medium", BaseURL: medium},
			Frontier: &config.Upstream{Name: "frontier", BaseURL: frontier},
		},
	}
}

func doRequest(h *ChatHandler, body string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	h.HandleChatCompletions(c)
	return rec
}

const validBody = `{"messages":[{"role":"user","content":"hello"}]}`

func TestHandleChatInvalidJSON(t *testing.T) {
	cfg := testConfig("http://c", "http://m", "http://f")
	h := NewChatHandler(cfg, &stubClassifier{}, cache.Noop{}, usage.New(zap.NewNop()), zap.NewNop())

	rec := doRequest(h, "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_request") {
		t.Fatalf("expected invalid_request: %s", rec.Body.String())
	}
}

func TestHandleChatMissingMessages(t *testing.T) {
	cfg := testConfig("http://c", "http://m", "http://f")
	h := NewChatHandler(cfg, &stubClassifier{}, cache.Noop{}, usage.New(zap.NewNop()), zap.NewNop())

	rec := doRequest(h, `{"model":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleChatRoutesByDecision(t *testing.T) {
	cheap := upstreamServer(t, "cheap")
	medium := upstreamServer(t, "medium")
	frontier := upstreamServer(t, "frontier")
	cfg := testConfig(cheap.URL, medium.URL, frontier.URL)

	cases := []struct {
		decision int
		want     string
		header   string
	}{
		{0, "from cheap", "0"},
		{1, "from medium", "1"},
		{2, "from frontier", "2"},
	}
	for _, tc := range cases {
		cls := &stubClassifier{decision: tc.decision}
		h := NewChatHandler(cfg, cls, cache.Noop{}, usage.New(zap.NewNop()), zap.NewNop())

		rec := doRequest(h, validBody)
		if rec.Code != http.StatusOK {
			t.Fatalf("decision %d: status %d", tc.decision, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), tc.want) {
			t.Fatalf("decision %d routed wrong: %s", tc.decision, rec.Body.String())
		}
		if got := rec.Header().Get("x-openrouter-decision"); got != tc.header {
			t.Fatalf("decision %d: header %q", tc.decision, got)
		}
		if cls.calls != 1 {
			t.Fatalf("decision %d: classifier called %d times", tc.decision, cls.calls)
		}
	}
}

func TestHandleChatClassifierDisabled(t *testing.T) {
	frontier := upstreamServer(t, "frontier")
	cfg := testConfig("http://unused", "http://unused", frontier.URL)
	cfg.Classifier.Enabled = false

	// nil classifier mirrors the disabled wiring.
	h := NewChatHandler(cfg, nil, cache.Noop{}, usage.New(zap.NewNop()), zap.NewNop())

	rec := doRequest(h, validBody)
	if !strings.Contains(rec.Body.String(), "from frontier") {
		t.Fatalf("disabled classifier must route frontier: %s", rec.Body.String())
	}
	if rec.Header().Get("x-openrouter-decision") != "2" {
		t.Fatalf("expected decision header 2, got %q", rec.Header().Get("x-openrouter-decision"))
	}
}

func TestHandleChatClassifierErrorFallsBack(t *testing.T) {
	frontier := upstreamServer(t, "frontier")
	cfg := testConfig("http://unused", "http://unused", frontier.URL)

	cls := &stubClassifier{err: fmt.Errorf("boom")}
	h := NewChatHandler(cfg, cls, cache.Noop{}, usage.New(zap.NewNop()), zap.NewNop())

	rec := doRequest(h, validBody)
	if !strings.Contains(rec.Body.String(), "from frontier") {
		t.Fatalf("classifier failure must route frontier: %s", rec.Body.String())
	}
}

func TestHandleChatCacheHitSkipsClassifier(t *testing.T) {
	cheap := upstreamServer(t, "cheap")
	medium := upstreamServer(t, "medium")
	frontier := upstreamServer(t, "frontier")
	cfg := testConfig(cheap.URL, medium.URL, frontier.URL)

	store := cache.NewMemory(config.CacheConfig{TTLMs: 60_000, Max: 100}, zap.NewNop())
	cls := &stubClassifier{decision: 1}
	h := NewChatHandler(cfg, cls, store, usage.New(zap.NewNop()), zap.NewNop())

	// First request classifies and caches.
	doRequest(h, validBody)
	if cls.calls != 1 {
		t.Fatalf("expected 1 classifier call, got %d", cls.calls)
	}

	// Same routing-relevant fields, different temperature: must hit the
	// cache and skip the classifier.
	rec := doRequest(h, `{"temperature":0.9,"messages":[{"role":"user","content":"hello"}]}`)
	if cls.calls != 1 {
		t.Fatalf("cache hit should skip the classifier, calls=%d", cls.calls)
	}
	if !strings.Contains(rec.Body.String(), "from medium") {
		t.Fatalf("cached decision not applied: %s", rec.Body.String())
	}
}

func TestHandleChatRequestIDHeader(t *testing.T) {
	frontier := upstreamServer(t, "frontier")
	cfg := testConfig("http://unused", "http://unused", frontier.URL)
	h := NewChatHandler(cfg, &stubClassifier{decision: 2}, cache.Noop{}, usage.New(zap.NewNop()), zap.NewNop())

	rec := doRequest(h, validBody)
	if rec.Header().Get("x-request-id") == "" {
		t.Fatal("x-request-id header missing")
	}
}
