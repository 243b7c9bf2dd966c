package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/domain/chat"
	"github.com/tiergate/tiergate/internal/infrastructure/config"
	"github.com/tiergate/tiergate/internal/infrastructure/provider"
	"github.com/tiergate/tiergate/pkg/errs"
)

func init() {
	provider.RegisterFactory(provider.FamilyGemini, func(deps provider.Deps) provider.Adapter {
		return New(deps)
	})
}

// Adapter translates between the OpenAI chat-completion shape and the
// Gemini generateContent API.
type Adapter struct {
	deps   provider.Deps
	client *http.Client
	logger *zap.Logger
}

func New(deps provider.Deps) *Adapter {
	return &Adapter{
		deps:   deps,
		client: provider.NewHTTPClient(),
		logger: deps.Logger.With(zap.String("adapter", provider.FamilyGemini)),
	}
}

var _ provider.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return provider.FamilyGemini }

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

	streaming := ex.Payload.Stream()
	apiReq := buildRequest(ex.Payload)

	body, err := json.Marshal(apiReq)
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}

	cctx, cancel := context.WithTimeout(ctx, provider.UpstreamTimeout(up))
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, generateURL(up, model, streaming), bytes.NewReader(body))
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if up.APIKey != "" {
		req.Header.Set("x-goog-api-key", up.APIKey)
	}
	if streaming {
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

	if streaming {
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

	var usageAny any
	if apiResp.UsageMetadata != nil {
		usageAny = apiResp.UsageMetadata
	}
	completion := chat.NewCompletion(model, apiResp.Text(), usageAny)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(completion)
	a.deps.Usage.Record(ex.Route, up.Name, usageAny)
}

// buildRequest maps the OpenAI payload onto the Gemini dialect:
// assistant turns become role "model", everything else "user", and
// system turns are joined into systemInstruction.
func buildRequest(p chat.Payload) *Request {
	apiReq := &Request{}

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
			apiReq.Contents = append(apiReq.Contents, Content{Role: "model", Parts: []Part{{Text: text}}})
		default:
			apiReq.Contents = append(apiReq.Contents, Content{Role: "user", Parts: []Part{{Text: text}}})
		}
	}
	if len(system) > 0 {
		apiReq.SystemInstruction = &Content{Parts: []Part{{Text: strings.Join(system, "\n")}}}
	}

	gc := &GenerationConfig{}
	set := false
	if t, ok := chat.AsFloat(p["temperature"]); ok {
		gc.Temperature = &t
		set = true
	}
	if t, ok := chat.AsFloat(p["top_p"]); ok {
		gc.TopP = &t
		set = true
	}
	if n, ok := p.MaxTokens(); ok {
		gc.MaxOutputTokens = &n
		set = true
	}
	if stops := p.StopSequences(); len(stops) > 0 {
		gc.StopSequences = stops
		set = true
	}
	if set {
		apiReq.GenerationConfig = gc
	}

	return apiReq
}

// generateURL builds <base>/models/<model>:generateContent, switching to
// streamGenerateContent with alt=sse for streams. The API key rides as a
// query parameter unless the base URL already carries one.
func generateURL(up *config.Upstream, model string, streaming bool) string {
	base := config.NormalizeBaseURL(up.BaseURL)

	// Split off a query string so the model path lands before it.
	var baseQuery string
	if i := strings.Index(base, "?"); i >= 0 {
		base, baseQuery = base[:i], base[i+1:]
	}

	verb := "generateContent"
	if streaming {
		verb = "streamGenerateContent"
	}
	full := base + "/models/" + url.PathEscape(model) + ":" + verb

	q, _ := url.ParseQuery(baseQuery)
	if streaming {
		q.Set("alt", "sse")
	}
	if up.APIKey != "" && !q.Has("key") {
		q.Set("key", up.APIKey)
	}
	if enc := q.Encode(); enc != "" {
		full += "?" + enc
	}
	return full
}
