package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/domain/chat"
	"github.com/tiergate/tiergate/internal/infrastructure/config"
	"github.com/tiergate/tiergate/internal/infrastructure/usage"
)

// Adapter owns the upstream HTTP exchange for one routed request: it
// translates the payload into the vendor dialect, relays or re-emits
// the reply in the OpenAI wire shape, and records usage exactly once.
type Adapter interface {
	// Name returns the adapter family identifier (e.g. "anthropic").
	Name() string

	// Serve performs the exchange and writes the complete client response.
	Serve(ctx context.Context, w http.ResponseWriter, ex Exchange)
}

// Exchange is the per-request routing outcome handed to an adapter.
type Exchange struct {
	Payload  chat.Payload
	Upstream *config.Upstream
	Route    string
	Decision int
}

// Deps are the shared collaborators injected into every adapter.
type Deps struct {
	Config *config.Config
	Usage  *usage.Aggregator
	Logger *zap.Logger
}

// Adapter family keys. Several provider tags share one family.
const (
	FamilyOpenAI    = "openai_compatible"
	FamilyAnthropic = "anthropic"
	FamilyGemini    = "gemini"
	FamilyCohere    = "cohere"
	FamilyAzure     = "azure_openai"
)

// --- Adapter factory registry ---
// Adapter families register themselves via init() in their own package.

// Factory creates an Adapter from shared deps.
type Factory func(deps Deps) Adapter

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory registers an adapter factory for the given family key.
// Called from init() in each adapter sub-package.
func RegisterFactory(family string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[family] = factory
}

// New creates the adapter for a family, reporting false when no adapter
// is registered for it (surfaced as provider_not_supported).
func New(family string, deps Deps) (Adapter, bool) {
	factoryMu.RLock()
	factory, ok := factories[family]
	factoryMu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(deps), true
}

// tagFamilies maps explicit provider tags to adapter families.
var tagFamilies = map[string]string{
	"openai_compatible": FamilyOpenAI,
	"openrouter":        FamilyOpenAI,
	"openai":            FamilyOpenAI,
	"mistral":           FamilyOpenAI,
	"groq":              FamilyOpenAI,
	"together":          FamilyOpenAI,
	"perplexity":        FamilyOpenAI,
	"anthropic":         FamilyAnthropic,
	"gemini":            FamilyGemini,
	"cohere":            FamilyCohere,
	"azure_openai":      FamilyAzure,
}

// ResolveFamily picks the adapter family for an upstream. An explicit
// tag is taken literally; empty or "auto" tags are inferred from the
// base URL host and then the API-key prefix. Tags outside the known set
// fall back to the OpenAI-compatible adapter.
func ResolveFamily(up *config.Upstream) string {
	tag := strings.ToLower(strings.TrimSpace(up.Provider))
	if tag == "" || tag == "auto" {
		return detectFamily(up)
	}
	if family, ok := tagFamilies[tag]; ok {
		return family
	}
	return FamilyOpenAI
}

// wellKnownHosts are vendor endpoints that pin an adapter family.
// Cohere documents api.cohere.ai but serves v2 from api.cohere.com;
// both are accepted here.
var wellKnownHosts = map[string]string{
	"generativelanguage.googleapis.com": FamilyGemini,
	"api.cohere.ai":                     FamilyCohere,
	"api.cohere.com":                    FamilyCohere,
	"api.mistral.ai":                    FamilyOpenAI,
	"api.groq.com":                      FamilyOpenAI,
	"api.together.xyz":                  FamilyOpenAI,
	"api.perplexity.ai":                 FamilyOpenAI,
	"api.openai.com":                    FamilyOpenAI,
}

func detectFamily(up *config.Upstream) string {
	if u, err := url.Parse(up.BaseURL); err == nil {
		host := strings.ToLower(u.Hostname())
		if family, ok := wellKnownHosts[host]; ok {
			return family
		}
		switch {
		case host == "anthropic.com" || strings.HasSuffix(host, ".anthropic.com"):
			return FamilyAnthropic
		case strings.HasSuffix(host, "openai.azure.com"):
			return FamilyAzure
		case host == "openrouter.ai" || strings.HasSuffix(host, ".openrouter.ai"):
			return FamilyOpenAI
		}
	}

	switch {
	case strings.HasPrefix(up.APIKey, "sk-ant-"):
		return FamilyAnthropic
	case strings.HasPrefix(up.APIKey, "AIza"):
		return FamilyGemini
	case strings.Contains(strings.ToLower(up.APIKey), "cohere"):
		return FamilyCohere
	}
	return FamilyOpenAI
}
