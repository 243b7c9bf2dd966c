package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/domain/chat"
	"github.com/tiergate/tiergate/internal/infrastructure/config"
	"github.com/tiergate/tiergate/internal/infrastructure/provider"
	"github.com/tiergate/tiergate/pkg/errs"
)

func init() {
	provider.RegisterFactory(provider.FamilyAnthropic, func(deps provider.Deps) provider.Adapter {
		return New(deps)
	})
}

// Adapter translates between the OpenAI chat-completion shape and the
// Anthropic Messages API, re-emitting OpenAI SSE chunks on streams.
type Adapter struct {
	deps   provider.Deps
	client *http.Client
	logger *zap.Logger
}

// New creates the Anthropic adapter.
func New(deps provider.Deps) *Adapter {
	return &Adapter{
		deps:   deps,
		client: provider.NewHTTPClient(),
		logger: deps.Logger.With(zap.String("adapter", provider.FamilyAnthropic)),
	}
}

var _ provider.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return provider.FamilyAnthropic }

func (a *Adapter) Serve(ctx context.Context, w http.ResponseWriter, ex provider.Exchange) {
	up := ex.Upstream
	provider.ApplyRoutingHeaders(w, a.deps.Config, ex)

	model := up.Model
	if model == "" {
		model = ex.Payload.Model()
	}
	if model == "" {
		provider.WriteError(w, http.StatusBadRequest, errs.KindMissingModel)
		return
	}

	apiReq := a.buildRequest(ex.Payload, model)
	apiReq.Stream = ex.Payload.Stream()

	body, err := json.Marshal(apiReq)
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}

	cctx, cancel := context.WithTimeout(ctx, provider.UpstreamTimeout(up))
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, messagesURL(up.BaseURL), bytes.NewReader(body))
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", up.APIKey)
	req.Header.Set("anthropic-version", a.deps.Config.AnthropicVersion)
	if apiReq.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	provider.SetExtraHeaders(req, up)

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("upstream request failed", zap.String("upstream", up.Name), zap.Error(err))
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		provider.WriteUpstreamError(w, resp.StatusCode, string(respBody))
		return
	}

	if apiReq.Stream {
		captured := translateStream(provider.NewStreamWriter(w, model), resp.Body, a.logger)
		a.deps.Usage.Record(ex.Route, up.Name, captured)
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}
	var apiResp Response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "" || block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	var usageAny any
	if apiResp.Usage != nil {
		usageAny = apiResp.Usage
	}
	completion := chat.NewCompletion(model, sb.String(), usageAny)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(completion)
	a.deps.Usage.Record(ex.Route, up.Name, usageAny)
}

// buildRequest maps the OpenAI payload onto the Messages dialect:
// system turns are concatenated into body.system, other roles collapse
// to assistant/user with flat text content.
func (a *Adapter) buildRequest(p chat.Payload, model string) *Request {
	apiReq := &Request{Model: model}

	var system []string
	for _, m := range p.Messages() {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		text := chat.CoerceContent(msg["content"])

		switch role {
		case "system":
			system = append(system, text)
		case "assistant":
			apiReq.Messages = append(apiReq.Messages, Message{Role: "assistant", Content: text})
		default:
			apiReq.Messages = append(apiReq.Messages, Message{Role: "user", Content: text})
		}
	}
	apiReq.System = strings.Join(system, "\n")

	// Anthropic requires an explicit completion budget.
	if n, ok := p.MaxTokens(); ok {
		apiReq.MaxTokens = n
	} else {
		apiReq.MaxTokens = a.deps.Config.AnthropicMaxTokens
	}

	if t, ok := chat.AsFloat(p["temperature"]); ok {
		apiReq.Temperature = &t
	}
	if t, ok := chat.AsFloat(p["top_p"]); ok {
		apiReq.TopP = &t
	}
	apiReq.StopSequences = p.StopSequences()

	return apiReq
}

// messagesURL appends /v1/messages to the normalized base, tolerating
// bases that already end in /v1.
func messagesURL(base string) string {
	b := config.NormalizeBaseURL(base)
	b = strings.TrimSuffix(b, "/v1")
	return b + "/v1/messages"
}
