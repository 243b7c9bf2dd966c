package usage

import (
	"testing"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/domain/chat"
)

func TestNormalizeOpenAI(t *testing.T) {
	p, c, total, ok := Normalize(map[string]any{
		"prompt_tokens":     float64(10),
		"completion_tokens": float64(5),
		"total_tokens":      float64(15),
	})
	if !ok || p != 10 || c != 5 || total != 15 {
		t.Fatalf("got (%d, %d, %d, %v)", p, c, total, ok)
	}
}

func TestNormalizeAnthropic(t *testing.T) {
	p, c, total, ok := Normalize(map[string]any{
		"input_tokens":  float64(7),
		"output_tokens": float64(3),
	})
	if !ok || p != 7 || c != 3 {
		t.Fatalf("got (%d, %d, %v)", p, c, ok)
	}
	if total != 10 {
		t.Fatalf("missing total should be computed, got %d", total)
	}
}

func TestNormalizeGemini(t *testing.T) {
	p, c, total, ok := Normalize(map[string]any{
		"promptTokenCount":     float64(20),
		"candidatesTokenCount": float64(8),
		"totalTokenCount":      float64(28),
	})
	if !ok || p != 20 || c != 8 || total != 28 {
		t.Fatalf("got (%d, %d, %d, %v)", p, c, total, ok)
	}
}

func TestNormalizeTotalOnly(t *testing.T) {
	p, c, total, ok := Normalize(map[string]any{"total_tokens": float64(42)})
	if !ok {
		t.Fatal("a bare total must be recognized")
	}
	if p != 0 || c != 0 || total != 42 {
		t.Fatalf("got (%d, %d, %d)", p, c, total)
	}
}

func TestNormalizeUnrecognized(t *testing.T) {
	if _, _, _, ok := Normalize(map[string]any{"billed": float64(1)}); ok {
		t.Fatal("unknown schema must not normalize")
	}
	if _, _, _, ok := Normalize(nil); ok {
		t.Fatal("nil must not normalize")
	}
	if _, _, _, ok := Normalize("usage"); ok {
		t.Fatal("non-map must not normalize")
	}
}

func TestRecordAndSnapshot(t *testing.T) {
	a := New(zap.NewNop())

	a.Record(chat.RouteCheap, "local", map[string]any{
		"prompt_tokens":     float64(10),
		"completion_tokens": float64(2),
		"total_tokens":      float64(12),
	})
	a.Record(chat.RouteCheap, "local", nil)
	a.Record(chat.RouteFrontier, "oai", map[string]any{
		"input_tokens":  float64(5),
		"output_tokens": float64(5),
	})

	snap := a.Snapshot()

	cheap := snap.Buckets[chat.RouteCheap]
	if cheap.Requests != 2 || cheap.WithUsage != 1 {
		t.Fatalf("cheap bucket: %+v", cheap)
	}
	if cheap.PromptTokens != 10 || cheap.TotalTokens != 12 {
		t.Fatalf("cheap tokens: %+v", cheap)
	}

	frontier := snap.Buckets[chat.RouteFrontier]
	if frontier.TotalTokens != 10 {
		t.Fatalf("frontier total should be computed: %+v", frontier)
	}

	if snap.Total != 3 {
		t.Fatalf("expected total 3, got %d", snap.Total)
	}
	if pct := snap.Percent[chat.RouteCheap]; pct < 66.6 || pct > 66.7 {
		t.Fatalf("expected cheap ~66.7%%, got %f", pct)
	}
	if snap.Percent[chat.RouteMedium] != 0 {
		t.Fatalf("expected medium 0%%, got %f", snap.Percent[chat.RouteMedium])
	}
}

func TestRecordUnknownRoute(t *testing.T) {
	a := New(zap.NewNop())
	a.Record("nonsense", "x", nil)

	snap := a.Snapshot()
	if snap.Buckets[RouteUnknown].Requests != 1 {
		t.Fatalf("unroutable request should land in unknown: %+v", snap.Buckets[RouteUnknown])
	}
	if snap.Total != 0 {
		t.Fatalf("unknown bucket must not count toward the tracked total, got %d", snap.Total)
	}
}

func TestReset(t *testing.T) {
	a := New(zap.NewNop())
	a.Record(chat.RouteMedium, "x", map[string]any{"prompt_tokens": float64(1), "completion_tokens": float64(1)})
	a.Reset()

	snap := a.Snapshot()
	if snap.Buckets[chat.RouteMedium].Requests != 0 || snap.Total != 0 {
		t.Fatalf("reset should zero buckets: %+v", snap)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	a := New(zap.NewNop())
	snap := a.Snapshot()
	b := snap.Buckets[chat.RouteCheap]
	b.Requests = 999
	snap.Buckets[chat.RouteCheap] = b

	if a.Snapshot().Buckets[chat.RouteCheap].Requests != 0 {
		t.Fatal("mutating a snapshot must not touch the aggregator")
	}
}
