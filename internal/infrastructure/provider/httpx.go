package provider

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tiergate/tiergate/internal/infrastructure/config"
	"github.com/tiergate/tiergate/pkg/errs"
)

// NewHTTPClient builds the shared upstream transport. Per-request
// deadlines come from context; the transport only bounds connection
// setup and idle pooling.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: transport}
}

// UpstreamTimeout returns the per-tier call deadline.
func UpstreamTimeout(up *config.Upstream) time.Duration {
	if up.TimeoutMs > 0 {
		return time.Duration(up.TimeoutMs) * time.Millisecond
	}
	return 60 * time.Second
}

// ApplyRoutingHeaders stamps the decision and upstream headers plus a
// request id before any body bytes are written.
func ApplyRoutingHeaders(w http.ResponseWriter, cfg *config.Config, ex Exchange) {
	w.Header().Set(cfg.DecisionHeader, decisionDigit(ex.Decision))
	w.Header().Set(cfg.UpstreamHeader, ex.Upstream.Name)
	w.Header().Set("x-request-id", uuid.NewString())
}

func decisionDigit(decision int) string {
	switch decision {
	case 0:
		return "0"
	case 1:
		return "1"
	default:
		return "2"
	}
}

// WriteError emits the uniform {"error":"<kind>"} body.
func WriteError(w http.ResponseWriter, status int, kind errs.Kind) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": string(kind)})
}

// WriteUpstreamError surfaces an upstream failure from a translating
// adapter: the raw upstream body rides along as details.
func WriteUpstreamError(w http.ResponseWriter, status int, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(errs.KindUpstreamError),
		"details": details,
	})
}

// SetExtraHeaders applies the upstream's configured extra header map.
func SetExtraHeaders(r *http.Request, up *config.Upstream) {
	for k, v := range up.Headers {
		r.Header.Set(k, v)
	}
}
