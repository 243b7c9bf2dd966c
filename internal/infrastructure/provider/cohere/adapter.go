package cohere

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
	provider.RegisterFactory(provider.FamilyCohere, func(deps provider.Deps) provider.Adapter {
		return New(deps)
	})
}

// Adapter translates between the OpenAI chat-completion shape and the
// Cohere chat v2 API.
type Adapter struct {
	deps   provider.Deps
	client *http.Client
	logger *zap.Logger
}

func New(deps provider.Deps) *Adapter {
	return &Adapter{
		deps:   deps,
		client: provider.NewHTTPClient(),
		logger: deps.Logger.With(zap.String("adapter", provider.FamilyCohere)),
	}
}

var _ provider.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return provider.FamilyCohere }

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

	apiReq := buildRequest(ex.Payload, model)
	apiReq.Stream = ex.Payload.Stream()

	body, err := json.Marshal(apiReq)
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}

	cctx, cancel := context.WithTimeout(ctx, provider.UpstreamTimeout(up))
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, chatURL(up.BaseURL), bytes.NewReader(body))
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if up.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+up.APIKey)
	}
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
	var raw map[string]any
	if err := json.Unmarshal(respBody, &raw); err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}

	usage := extractTokens(raw)
	completion := chat.NewCompletion(model, extractText(raw), usage)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(completion)
	a.deps.Usage.Record(ex.Route, up.Name, usage)
}

// buildRequest keeps the role set {system, user, assistant, tool} and
// flattens content to plain text.
func buildRequest(p chat.Payload, model string) *Request {
	apiReq := &Request{Model: model}

	for _, m := range p.Messages() {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		switch role {
		case "system", "assistant", "tool":
		default:
			role = "user"
		}
		apiReq.Messages = append(apiReq.Messages, Message{
			Role:    role,
			Content: chat.CoerceContent(msg["content"]),
		})
	}

	if t, ok := chat.AsFloat(p["temperature"]); ok {
		apiReq.Temperature = &t
	}
	if n, ok := p.MaxTokens(); ok {
		apiReq.MaxTokens = &n
	}

	return apiReq
}

// extractText joins message.content[].text, falling back to a top-level
// text field on older response shapes.
func extractText(raw map[string]any) string {
	if msg, ok := raw["message"].(map[string]any); ok {
		if blocks, ok := msg["content"].([]any); ok {
			var sb strings.Builder
			for _, b := range blocks {
				if block, ok := b.(map[string]any); ok {
					if t, ok := block["text"].(string); ok {
						sb.WriteString(t)
					}
				}
			}
			return sb.String()
		}
	}
	if t, ok := raw["text"].(string); ok {
		return t
	}
	return ""
}

// extractTokens looks for token counts at the paths Cohere has used
// across API revisions: meta.tokens, response.meta.tokens, usage.tokens.
func extractTokens(raw map[string]any) any {
	for _, path := range [][]string{
		{"meta", "tokens"},
		{"response", "meta", "tokens"},
		{"usage", "tokens"},
	} {
		if m := dig(raw, path...); m != nil {
			return m
		}
	}
	return nil
}

func dig(raw map[string]any, path ...string) map[string]any {
	cur := raw
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// chatURL appends /v2/chat unless the base already points at a chat
// endpoint.
func chatURL(base string) string {
	b := config.NormalizeBaseURL(base)
	if strings.HasSuffix(b, "/v2/chat") || strings.HasSuffix(b, "/chat") {
		return b
	}
	return b + "/v2/chat"
}
