package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/infrastructure/config"
	"github.com/tiergate/tiergate/internal/infrastructure/provider"
	"github.com/tiergate/tiergate/pkg/errs"
)

func init() {
	provider.RegisterFactory(provider.FamilyAzure, func(deps provider.Deps) provider.Adapter {
		return New(deps)
	})
}

// Adapter routes to Azure OpenAI deployments. The wire shape is already
// OpenAI-compatible, so replies are relayed byte-for-byte; the work is
// URL composition, auth headers, and stripping the model field (the
// deployment selects the model).
type Adapter struct {
	deps   provider.Deps
	client *http.Client
	logger *zap.Logger
}

func New(deps provider.Deps) *Adapter {
	return &Adapter{
		deps:   deps,
		client: provider.NewHTTPClient(),
		logger: deps.Logger.With(zap.String("adapter", provider.FamilyAzure)),
	}
}

var _ provider.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return provider.FamilyAzure }

func (a *Adapter) Serve(ctx context.Context, w http.ResponseWriter, ex provider.Exchange) {
	up := ex.Upstream
	provider.ApplyRoutingHeaders(w, a.deps.Config, ex)

	endpoint, err := a.deploymentURL(up)
	if err != nil {
		provider.WriteError(w, http.StatusBadRequest, errs.KindMissingDeployment)
		return
	}

	payload := ex.Payload.Clone()
	delete(payload, "model")

	body, err := json.Marshal(payload)
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}

	cctx, cancel := context.WithTimeout(ctx, provider.UpstreamTimeout(up))
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.HasPrefix(up.APIKey, "Bearer ") {
		req.Header.Set("Authorization", up.APIKey)
	} else if up.APIKey != "" {
		req.Header.Set("api-key", up.APIKey)
	}
	if payload.Stream() {
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

	if payload.Stream() && resp.StatusCode == http.StatusOK {
		captured, err := provider.RelayStream(w, resp.Body)
		if err != nil {
			a.logger.Warn("stream relay interrupted", zap.String("upstream", up.Name), zap.Error(err))
		}
		a.deps.Usage.Record(ex.Route, up.Name, anyMap(captured))
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		provider.WriteUpstreamError(w, http.StatusBadGateway, err.Error())
		return
	}
	captured := provider.RelayBuffered(w, resp, respBody)
	a.deps.Usage.Record(ex.Route, up.Name, anyMap(captured))
}

func anyMap(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

// deploymentURL composes the Azure endpoint. Bases that already carry
// an /openai/deployments/ path keep it (with /chat/completions appended
// when missing); otherwise the configured deployment is required. The
// api-version query parameter is forced either way.
func (a *Adapter) deploymentURL(up *config.Upstream) (string, error) {
	base := config.NormalizeBaseURL(up.BaseURL)

	apiVersion := up.APIVersion
	if apiVersion == "" {
		apiVersion = a.deps.Config.AzureAPIVersion
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	if strings.Contains(u.Path, "/openai/deployments/") {
		if !strings.HasSuffix(u.Path, "/chat/completions") {
			u.Path = strings.TrimRight(u.Path, "/") + "/chat/completions"
		}
	} else {
		deployment := up.Deployment
		if deployment == "" {
			deployment = up.Model
		}
		if deployment == "" {
			return "", errs.New(errs.KindMissingDeployment, "azure upstream has no deployment")
		}
		u.Path = strings.TrimRight(u.Path, "/") + "/openai/deployments/" + url.PathEscape(deployment) + "/chat/completions"
	}

	q := u.Query()
	q.Set("api-version", apiVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
