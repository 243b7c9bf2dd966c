package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/infrastructure/config"
	"github.com/tiergate/tiergate/internal/infrastructure/provider"
)

func init() {
	provider.RegisterFactory(provider.FamilyOpenAI, func(deps provider.Deps) provider.Adapter {
		return New(deps)
	})
}

// Adapter is the transparent pass-through for OpenAI-compatible
// upstreams (OpenAI, OpenRouter, Mistral, Groq, Together, Perplexity,
// local engines). The inbound payload goes upstream verbatim except for
// the model override; replies are relayed byte-for-byte.
type Adapter struct {
	deps   provider.Deps
	client *http.Client
	logger *zap.Logger
}

// New creates the pass-through adapter.
func New(deps provider.Deps) *Adapter {
	return &Adapter{
		deps:   deps,
		client: provider.NewHTTPClient(),
		logger: deps.Logger.With(zap.String("adapter", provider.FamilyOpenAI)),
	}
}

var _ provider.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return provider.FamilyOpenAI }

// Serve forwards the request and relays the reply, scanning streams on
// the side for the first usage object.
func (a *Adapter) Serve(ctx context.Context, w http.ResponseWriter, ex provider.Exchange) {
	up := ex.Upstream
	provider.ApplyRoutingHeaders(w, a.deps.Config, ex)

	payload := ex.Payload
	if up.Model != "" {
		payload = payload.Clone()
		payload["model"] = up.Model
	}

	body, err := json.Marshal(payload)
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}

	cctx, cancel := context.WithTimeout(ctx, provider.UpstreamTimeout(up))
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, chatCompletionsURL(up.BaseURL), bytes.NewReader(body))
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if up.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+up.APIKey)
	}
	if payload.Stream() {
		req.Header.Set("Accept", "text/event-stream")
	}
	provider.SetExtraHeaders(req, up)

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("upstream request failed",
			zap.String("upstream", up.Name),
			zap.Error(err),
		)
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	if payload.Stream() && resp.StatusCode == http.StatusOK {
		captured, err := provider.RelayStream(w, resp.Body)
		if err != nil {
			a.logger.Warn("stream relay interrupted",
				zap.String("upstream", up.Name),
				zap.Error(err),
			)
		}
		a.deps.Usage.Record(ex.Route, up.Name, anyMap(captured))
		return
	}

	// Buffered replies (and upstream errors on either path) are relayed
	// with the upstream's own status code.
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}
	captured := provider.RelayBuffered(w, resp, respBody)
	a.deps.Usage.Record(ex.Route, up.Name, anyMap(captured))
}

// anyMap keeps a nil map from becoming a non-nil interface.
func anyMap(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

// chatCompletionsURL normalizes the base URL and appends the /v1 prefix
// when the upstream does not already carry it.
func chatCompletionsURL(base string) string {
	b := config.NormalizeBaseURL(base)
	if !strings.HasSuffix(b, "/v1") {
		b += "/v1"
	}
	return b + "/chat/completions"
}
