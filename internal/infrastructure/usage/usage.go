package usage

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/domain/chat"
)

// RouteUnknown buckets usage recorded for unroutable requests.
const RouteUnknown = "unknown"

var routes = []string{chat.RouteCheap, chat.RouteMedium, chat.RouteFrontier, RouteUnknown}

// Bucket accumulates normalized token counts for one route.
type Bucket struct {
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	TotalTokens      int64     `json:"totalTokens"`
	Requests         int64     `json:"requests"`
	WithUsage        int64     `json:"withUsage"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

// Aggregator holds the process-wide per-route usage buckets. All
// mutation goes through Record; Snapshot copies under the same lock so
// readers never see a torn bucket.
type Aggregator struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	logger  *zap.Logger
}

// New creates the aggregator with its four fixed buckets.
func New(logger *zap.Logger) *Aggregator {
	a := &Aggregator{
		buckets: make(map[string]*Bucket, len(routes)),
		logger:  logger.With(zap.String("component", "usage")),
	}
	for _, r := range routes {
		a.buckets[r] = &Bucket{}
	}
	return a
}

// Record counts one request against a route and folds in the upstream's
// usage object when it matches a known schema. Unrecognized or missing
// usage only increments the request counter.
func (a *Aggregator) Record(route, upstream string, raw any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buckets[route]
	if !ok {
		b = a.buckets[RouteUnknown]
	}
	b.Requests++

	prompt, completion, total, recognized := Normalize(raw)
	if !recognized {
		return
	}

	b.WithUsage++
	b.PromptTokens += prompt
	b.CompletionTokens += completion
	b.TotalTokens += total
	b.LastUpdated = time.Now()

	a.logger.Debug("usage recorded",
		zap.String("route", route),
		zap.String("upstream", upstream),
		zap.Int64("prompt_tokens", prompt),
		zap.Int64("completion_tokens", completion),
	)
}

// Normalize recognizes the OpenAI, Anthropic, and Gemini usage schemas.
// Missing fields default to zero; a missing total is computed as
// prompt + completion, and a bare total is enough for recognition.
func Normalize(raw any) (prompt, completion, total int64, ok bool) {
	m, isMap := raw.(map[string]any)
	if !isMap || m == nil {
		return 0, 0, 0, false
	}

	schemas := []struct{ promptKey, completionKey, totalKey string }{
		{"prompt_tokens", "completion_tokens", "total_tokens"},     // OpenAI
		{"input_tokens", "output_tokens", "total_tokens"},          // Anthropic
		{"promptTokenCount", "candidatesTokenCount", "totalTokenCount"}, // Gemini
	}

	for _, s := range schemas {
		p, hasPrompt := numField(m, s.promptKey)
		c, hasCompletion := numField(m, s.completionKey)
		t, hasTotal := numField(m, s.totalKey)
		if !hasPrompt && !hasCompletion && !hasTotal {
			continue
		}
		if !hasTotal {
			t = p + c
		}
		return p, c, t, true
	}
	return 0, 0, 0, false
}

func numField(m map[string]any, key string) (int64, bool) {
	switch n := m[key].(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// Snapshot is the read-only view served by GET /usage.
type Snapshot struct {
	Buckets     map[string]Bucket  `json:"buckets"`
	Percent     map[string]float64 `json:"percent"`
	Total       int64              `json:"total"`
	LastUpdated time.Time          `json:"lastUpdated"`
}

// Snapshot deep-copies the buckets and derives per-route percentages of
// the tracked request total. The unknown bucket is reported but not
// part of the percentage base.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Buckets: make(map[string]Bucket, len(a.buckets)),
		Percent: make(map[string]float64, 3),
	}

	var tracked int64
	for _, r := range []string{chat.RouteCheap, chat.RouteMedium, chat.RouteFrontier} {
		tracked += a.buckets[r].Requests
	}

	for name, b := range a.buckets {
		snap.Buckets[name] = *b
		if b.LastUpdated.After(snap.LastUpdated) {
			snap.LastUpdated = b.LastUpdated
		}
	}
	snap.Total = tracked

	for _, r := range []string{chat.RouteCheap, chat.RouteMedium, chat.RouteFrontier} {
		if tracked > 0 {
			snap.Percent[r] = float64(a.buckets[r].Requests) * 100 / float64(tracked)
		} else {
			snap.Percent[r] = 0
		}
	}
	return snap
}

// Reset zeroes every bucket. Only reachable through the admin surface.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range routes {
		a.buckets[r] = &Bucket{}
	}
}
