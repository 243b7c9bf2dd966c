package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the frozen gateway configuration. It is assembled once at
// startup from environment variables plus an optional upstreams file and
// treated as read-only shared state afterwards.
type Config struct {
	Host         string
	Port         int
	BodyLimit    int64
	RouterAPIKey string

	DecisionHeader string
	UpstreamHeader string

	Log        LogConfig
	Classifier ClassifierConfig
	Cache      CacheConfig
	Upstreams  Upstreams

	AzureAPIVersion    string
	AnthropicVersion   string
	AnthropicMaxTokens int
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string
	ToFile bool
	Dir    string
}

// ClassifierConfig configures the routing classifier model.
type ClassifierConfig struct {
	Enabled           bool
	BaseURL           string
	APIKey            string
	Model             string
	SystemPrompt      string
	Strategy          string // last_user | full_messages
	MaxTokens         int
	MaxChars          int
	Temperature       float64
	TimeoutMs         int
	LogitBias         map[string]float64
	ForceStream       bool
	Warmup            bool
	WarmupDelayMs     int
	KeepAliveMs       int
	LoadingRetryMs    int
	LoadingMaxRetries int
}

// CacheConfig configures the decision cache.
type CacheConfig struct {
	Enabled  bool
	RedisURL string
	TTLMs    int
	Max      int
}

// Upstream describes one tier's chat-completion endpoint.
type Upstream struct {
	Name       string            `json:"name"`
	Provider   string            `json:"provider"`
	BaseURL    string            `json:"baseUrl"`
	APIKey     string            `json:"apiKey"`
	Model      string            `json:"model"`
	APIVersion string            `json:"apiVersion"`
	Deployment string            `json:"deployment"`
	Headers    map[string]string `json:"headers"`
	TimeoutMs  int               `json:"timeoutMs"`
}

// Upstreams holds the three tiers. A nil tier is suppressed, which is
// only legal for cheap/medium when the classifier is disabled.
type Upstreams struct {
	Cheap    *Upstream
	Medium   *Upstream
	Frontier *Upstream
}

// ByRoute returns the upstream for a tier name, or nil.
func (u Upstreams) ByRoute(route string) *Upstream {
	switch route {
	case "cheap":
		return u.Cheap
	case "medium":
		return u.Medium
	case "frontier":
		return u.Frontier
	}
	return nil
}

// NormalizeBaseURL strips trailing slashes so URLs compare and join cleanly.
func NormalizeBaseURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// Load assembles the frozen config. Precedence (low → high):
// defaults → environment → upstreams file/JSON overrides.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Host:           v.GetString("HOST"),
		Port:           v.GetInt("PORT"),
		BodyLimit:      v.GetInt64("BODY_LIMIT"),
		RouterAPIKey:   v.GetString("ROUTER_API_KEY"),
		DecisionHeader: v.GetString("DECISION_HEADER"),
		UpstreamHeader: v.GetString("UPSTREAM_HEADER"),
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			ToFile: v.GetBool("LOG_TO_FILE"),
			Dir:    v.GetString("LOG_DIR"),
		},
		Classifier: ClassifierConfig{
			Enabled:           v.GetBool("CLASSIFIER_ENABLED"),
			BaseURL:           v.GetString("CLASSIFIER_BASE_URL"),
			APIKey:            v.GetString("CLASSIFIER_API_KEY"),
			Model:             v.GetString("CLASSIFIER_MODEL"),
			SystemPrompt:      v.GetString("CLASSIFIER_SYSTEM_PROMPT"),
			Strategy:          v.GetString("CLASSIFIER_STRATEGY"),
			MaxTokens:         v.GetInt("CLASSIFIER_MAX_TOKENS"),
			MaxChars:          v.GetInt("CLASSIFIER_MAX_CHARS"),
			Temperature:       v.GetFloat64("CLASSIFIER_TEMPERATURE"),
			TimeoutMs:         v.GetInt("CLASSIFIER_TIMEOUT_MS"),
			ForceStream:       v.GetBool("CLASSIFIER_FORCE_STREAM"),
			Warmup:            v.GetBool("CLASSIFIER_WARMUP"),
			WarmupDelayMs:     v.GetInt("CLASSIFIER_WARMUP_DELAY_MS"),
			KeepAliveMs:       v.GetInt("CLASSIFIER_KEEP_ALIVE_MS"),
			LoadingRetryMs:    v.GetInt("CLASSIFIER_LOADING_RETRY_MS"),
			LoadingMaxRetries: v.GetInt("CLASSIFIER_LOADING_MAX_RETRIES"),
		},
		Cache: CacheConfig{
			Enabled:  v.GetBool("CACHE_ENABLED"),
			RedisURL: v.GetString("REDIS_URL"),
			TTLMs:    v.GetInt("CACHE_TTL_MS"),
			Max:      v.GetInt("CACHE_MAX"),
		},
		AzureAPIVersion:    v.GetString("AZURE_API_VERSION"),
		AnthropicVersion:   v.GetString("ANTHROPIC_VERSION"),
		AnthropicMaxTokens: v.GetInt("ANTHROPIC_MAX_TOKENS"),
	}

	if strings.ContainsAny(cfg.Classifier.SystemPrompt, "\r\n") {
		return nil, fmt.Errorf("CLASSIFIER_SYSTEM_PROMPT must be a single line")
	}

	if bias := v.GetString("CLASSIFIER_LOGIT_BIAS"); bias != "" {
		if err := json.Unmarshal([]byte(bias), &cfg.Classifier.LogitBias); err != nil {
			return nil, fmt.Errorf("parse CLASSIFIER_LOGIT_BIAS: %w", err)
		}
	}

	ups, err := loadUpstreams(v, cfg.Classifier.Enabled)
	if err != nil {
		return nil, err
	}
	cfg.Upstreams = ups

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Co-locating cheap with the classifier on one local engine: force
	// cheap's model to the classifier's so a single server never thrashes
	// between two sets of weights.
	if cfg.Classifier.Enabled && cfg.Upstreams.Cheap != nil &&
		NormalizeBaseURL(cfg.Classifier.BaseURL) != "" &&
		NormalizeBaseURL(cfg.Upstreams.Cheap.BaseURL) == NormalizeBaseURL(cfg.Classifier.BaseURL) {
		cfg.Upstreams.Cheap.Model = cfg.Classifier.Model
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Upstreams.Frontier == nil || c.Upstreams.Frontier.BaseURL == "" {
		return fmt.Errorf("frontier upstream requires a base URL (FRONTIER_BASE_URL)")
	}
	if c.Classifier.Enabled {
		if c.Upstreams.Cheap == nil || c.Upstreams.Cheap.BaseURL == "" {
			return fmt.Errorf("classifier is enabled but cheap upstream has no base URL")
		}
		if c.Upstreams.Medium == nil || c.Upstreams.Medium.BaseURL == "" {
			return fmt.Errorf("classifier is enabled but medium upstream has no base URL")
		}
	}
	return nil
}

// Upstream timeout per tier when the env sets none.
var tierTimeoutMs = map[string]int{
	"cheap":    30000,
	"medium":   45000,
	"frontier": 60000,
}

func loadUpstreams(v *viper.Viper, classifierEnabled bool) (Upstreams, error) {
	var ups Upstreams

	for _, tier := range []string{"cheap", "medium", "frontier"} {
		up, err := upstreamFromEnv(v, tier)
		if err != nil {
			return ups, err
		}
		setTier(&ups, tier, up)
	}

	raw, source, err := readUpstreamsFile(v)
	if err != nil {
		return ups, err
	}
	if raw != nil {
		var fileUps map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fileUps); err != nil {
			return ups, fmt.Errorf("parse %s: %w", source, err)
		}
		for tier, rawTier := range fileUps {
			if tier != "cheap" && tier != "medium" && tier != "frontier" {
				return ups, fmt.Errorf("%s: unknown tier %q", source, tier)
			}
			if string(rawTier) == "null" {
				if tier == "frontier" {
					return ups, fmt.Errorf("%s: frontier tier cannot be null", source)
				}
				if classifierEnabled {
					return ups, fmt.Errorf("%s: tier %q cannot be null while the classifier is enabled", source, tier)
				}
				setTier(&ups, tier, nil)
				continue
			}
			// Fields absent from the file keep their env-derived values.
			base := tierOf(ups, tier)
			if base == nil {
				base = defaultUpstream(tier)
			}
			if err := json.Unmarshal(rawTier, base); err != nil {
				return ups, fmt.Errorf("%s: tier %q: %w", source, tier, err)
			}
			setTier(&ups, tier, base)
		}
	}

	return ups, nil
}

func readUpstreamsFile(v *viper.Viper) ([]byte, string, error) {
	if inline := v.GetString("UPSTREAMS_JSON"); inline != "" {
		return []byte(inline), "UPSTREAMS_JSON", nil
	}
	path := v.GetString("UPSTREAMS_FILE")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	return data, path, nil
}

func defaultUpstream(tier string) *Upstream {
	return &Upstream{
		Name:      tier,
		TimeoutMs: tierTimeoutMs[tier],
	}
}

func upstreamFromEnv(v *viper.Viper, tier string) (*Upstream, error) {
	prefix := strings.ToUpper(tier) + "_"

	up := defaultUpstream(tier)
	if name := v.GetString(prefix + "NAME"); name != "" {
		up.Name = name
	}
	up.Provider = v.GetString(prefix + "PROVIDER")
	up.BaseURL = v.GetString(prefix + "BASE_URL")
	up.APIKey = v.GetString(prefix + "API_KEY")
	up.Model = v.GetString(prefix + "MODEL")
	up.APIVersion = v.GetString(prefix + "API_VERSION")
	up.Deployment = v.GetString(prefix + "DEPLOYMENT")
	if t := v.GetInt(prefix + "TIMEOUT_MS"); t > 0 {
		up.TimeoutMs = t
	}
	if headers := v.GetString(prefix + "HEADERS"); headers != "" {
		if err := json.Unmarshal([]byte(headers), &up.Headers); err != nil {
			return nil, fmt.Errorf("parse %sHEADERS: %w", prefix, err)
		}
	}
	return up, nil
}

func tierOf(u Upstreams, tier string) *Upstream {
	switch tier {
	case "cheap":
		return u.Cheap
	case "medium":
		return u.Medium
	case "frontier":
		return u.Frontier
	}
	return nil
}

func setTier(u *Upstreams, tier string, up *Upstream) {
	switch tier {
	case "cheap":
		u.Cheap = up
	case "medium":
		u.Medium = up
	case "frontier":
		u.Frontier = up
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 3123)
	v.SetDefault("BODY_LIMIT", 10*1024*1024)

	v.SetDefault("DECISION_HEADER", "x-openrouter-decision")
	v.SetDefault("UPSTREAM_HEADER", "x-openrouter-upstream")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_TO_FILE", false)
	v.SetDefault("LOG_DIR", "logs")

	v.SetDefault("CLASSIFIER_ENABLED", true)
	v.SetDefault("CLASSIFIER_SYSTEM_PROMPT",
		"You are a routing classifier. Rate the difficulty of the task: 0 = simple, 1 = moderate, 2 = hard. Answer with one digit only.")
	v.SetDefault("CLASSIFIER_STRATEGY", "last_user")
	v.SetDefault("CLASSIFIER_MAX_TOKENS", 1)
	v.SetDefault("CLASSIFIER_MAX_CHARS", 8000)
	v.SetDefault("CLASSIFIER_TEMPERATURE", 0)
	v.SetDefault("CLASSIFIER_TIMEOUT_MS", 800)
	v.SetDefault("CLASSIFIER_FORCE_STREAM", true)
	v.SetDefault("CLASSIFIER_WARMUP", false)
	v.SetDefault("CLASSIFIER_WARMUP_DELAY_MS", 2000)
	v.SetDefault("CLASSIFIER_KEEP_ALIVE_MS", 0)
	v.SetDefault("CLASSIFIER_LOADING_RETRY_MS", 1200)
	v.SetDefault("CLASSIFIER_LOADING_MAX_RETRIES", 2)

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_TTL_MS", 3600_000)
	v.SetDefault("CACHE_MAX", 50_000)

	v.SetDefault("UPSTREAMS_FILE", "upstreams.json")

	v.SetDefault("AZURE_API_VERSION", "2024-10-21")
	v.SetDefault("ANTHROPIC_VERSION", "2023-06-01")
	v.SetDefault("ANTHROPIC_MAX_TOKENS", 1024)
}
