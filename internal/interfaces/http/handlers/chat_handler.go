package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/domain/chat"
	"github.com/tiergate/tiergate/internal/infrastructure/cache"
	"github.com/tiergate/tiergate/internal/infrastructure/config"
	"github.com/tiergate/tiergate/internal/infrastructure/provider"
	"github.com/tiergate/tiergate/internal/infrastructure/usage"
	"github.com/tiergate/tiergate/pkg/errs"
)

// Classifier rates one payload with a routing decision in {0, 1, 2}.
type Classifier interface {
	Classify(ctx context.Context, p chat.Payload) (int, error)
}

// ChatHandler routes POST /v1/chat/completions: decide a tier, pick its
// upstream, and hand the exchange to the matching provider adapter.
type ChatHandler struct {
	cfg        *config.Config
	classifier Classifier
	cache      cache.Cache
	deps       provider.Deps
	logger     *zap.Logger
}

// NewChatHandler creates the chat-completion handler. A nil classifier
// means routing is disabled and every request goes to frontier.
func NewChatHandler(cfg *config.Config, cls Classifier, store cache.Cache, agg *usage.Aggregator, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		cfg:        cfg,
		classifier: cls,
		cache:      store,
		deps:       provider.Deps{Config: cfg, Usage: agg, Logger: logger},
		logger:     logger,
	}
}

// HandleChatCompletions is the main gateway entry point.
func (h *ChatHandler) HandleChatCompletions(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.BodyLimit)

	var payload chat.Payload
	if err := json.NewDecoder(c.Request.Body).Decode(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(errs.KindInvalidRequest)})
		return
	}
	if len(payload.Messages()) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(errs.KindInvalidRequest)})
		return
	}

	decision := h.decide(c.Request.Context(), payload)
	route := chat.RouteForDecision(decision)

	up := h.cfg.Upstreams.ByRoute(route)
	if up == nil {
		// Config validation guarantees frontier exists.
		decision = chat.DecisionFrontier
		route = chat.RouteFrontier
		up = h.cfg.Upstreams.Frontier
	}

	family := provider.ResolveFamily(up)
	adapter, ok := provider.New(family, h.deps)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": string(errs.KindProviderNotSupported)})
		return
	}

	h.logger.Debug("routing request",
		zap.Int("decision", decision),
		zap.String("route", route),
		zap.String("upstream", up.Name),
		zap.String("adapter", adapter.Name()),
	)

	adapter.Serve(c.Request.Context(), c.Writer, provider.Exchange{
		Payload:  payload,
		Upstream: up,
		Route:    route,
		Decision: decision,
	})
}

// decide returns the routing decision for one payload: cached digit if
// present, otherwise a fresh classification. Any classifier error falls
// back to frontier without caching.
func (h *ChatHandler) decide(ctx context.Context, p chat.Payload) int {
	if h.classifier == nil {
		return chat.DecisionFrontier
	}

	fp := p.Fingerprint()
	if v, ok := h.cache.Get(ctx, fp); ok {
		if d, ok := chat.ExtractDecision(v); ok {
			h.logger.Debug("decision cache hit", zap.String("fingerprint", fp), zap.Int("decision", d))
			return d
		}
	}

	d, err := h.classifier.Classify(ctx, p)
	if err != nil {
		h.logger.Warn("classifier failed, falling back to frontier", zap.Error(err))
		return chat.DecisionFrontier
	}

	h.cache.Set(ctx, fp, strconv.Itoa(d))
	return d
}
