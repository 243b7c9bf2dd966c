package classifier

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/domain/chat"
	"github.com/tiergate/tiergate/internal/infrastructure/config"
	"github.com/tiergate/tiergate/pkg/errs"
)

const (
	// The user turn wraps the classifier input verbatim.
	userPromptPrefix = "Return only 0, 1, or 2. Input:\n"

	// Floor for the single timeout retry and for warmup calls.
	retryTimeoutFloor  = 8 * time.Second
	warmupTimeoutFloor = 10 * time.Second
)

// Local engines phrase the cold-start condition both ways.
func isLoadingBody(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "loading model") || strings.Contains(lower, "model loading")
}

// Client calls the classifier model and decodes a single routing digit
// from either a buffered JSON reply or the first usable SSE event.
type Client struct {
	cfg      config.ClassifierConfig
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// New creates the classifier client. The base URL is normalized and
// "/v1" appended when absent, matching the OpenAI-compatible layout of
// local engines.
func New(cfg config.ClassifierConfig, logger *zap.Logger) *Client {
	base := config.NormalizeBaseURL(cfg.BaseURL)
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Client{
		cfg:      cfg,
		endpoint: base + "/chat/completions",
		client:   &http.Client{Transport: transport},
		logger:   logger.With(zap.String("component", "classifier")),
	}
}

// Classify builds the compact input for a payload and returns the
// routing decision digit.
func (c *Client) Classify(ctx context.Context, p chat.Payload) (int, error) {
	input := chat.BuildClassifierInput(p, c.cfg.Strategy, c.cfg.MaxChars)
	return c.classify(ctx, input, time.Duration(c.cfg.TimeoutMs)*time.Millisecond)
}

// classify applies the retry policy around single attempts: one timeout
// retry with the budget doubled (at least retryTimeoutFloor), and up to
// LoadingMaxRetries retries while the upstream reports a loading model.
func (c *Client) classify(ctx context.Context, input string, timeout time.Duration) (int, error) {
	var (
		timeoutRetried bool
		loadingRetries int
	)

	for {
		decision, err := c.attempt(ctx, input, timeout)
		if err == nil {
			return decision, nil
		}

		if errs.IsTimeout(err) && !timeoutRetried {
			timeoutRetried = true
			timeout = 2 * timeout
			if timeout < retryTimeoutFloor {
				timeout = retryTimeoutFloor
			}
			c.logger.Warn("classifier timeout, retrying once",
				zap.Duration("retry_timeout", timeout))
			continue
		}

		if errs.IsModelLoading(err) && loadingRetries < c.cfg.LoadingMaxRetries {
			loadingRetries++
			c.logger.Warn("classifier model loading, retrying",
				zap.Int("attempt", loadingRetries),
				zap.Int("max_retries", c.cfg.LoadingMaxRetries),
			)
			select {
			case <-time.After(time.Duration(c.cfg.LoadingRetryMs) * time.Millisecond):
			case <-ctx.Done():
				return 0, errs.Wrap(errs.KindTimeout, "cancelled while waiting for model load", ctx.Err())
			}
			continue
		}

		return 0, err
	}
}

// attempt runs one transport pass: the preferred mode first, then the
// other mode once when the first yields no decision digit.
func (c *Client) attempt(ctx context.Context, input string, timeout time.Duration) (int, error) {
	modes := []bool{true, false} // streaming, buffered
	if !c.cfg.ForceStream {
		modes = []bool{false, true}
	}

	decision, err := c.once(ctx, input, timeout, modes[0])
	if err == nil {
		return decision, nil
	}
	if !errs.IsNoDecision(err) {
		return 0, err
	}

	c.logger.Debug("no decision from first transport mode, retrying with the other",
		zap.Bool("streamed_first", modes[0]))
	return c.once(ctx, input, timeout, modes[1])
}

// --- single HTTP exchange ---

type apiRequest struct {
	Model       string             `json:"model"`
	Messages    []chat.Message     `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
	LogitBias   map[string]float64 `json:"logit_bias,omitempty"`
}

type apiChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	Text string `json:"text"`
}

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
}

func (c *Client) once(ctx context.Context, input string, timeout time.Duration, stream bool) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(apiRequest{
		Model: c.cfg.Model,
		Messages: []chat.Message{
			{Role: "system", Content: c.cfg.SystemPrompt},
			{Role: "user", Content: userPromptPrefix + input},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      stream,
		LogitBias:   c.cfg.LogitBias,
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindClassifierError, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, errs.Wrap(errs.KindClassifierError, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return 0, errs.Wrap(errs.KindTimeout, "classifier call timed out", err)
		}
		return 0, errs.Wrap(errs.KindClassifierError, "classifier request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if isLoadingBody(string(respBody)) {
			return 0, errs.New(errs.KindModelLoading, fmt.Sprintf("classifier %d: %s", resp.StatusCode, respBody))
		}
		return 0, errs.New(errs.KindClassifierError, fmt.Sprintf("classifier %d: %s", resp.StatusCode, respBody))
	}

	if stream {
		return c.decodeStream(cctx, cancel, resp.Body)
	}
	return c.decodeBuffered(resp.Body)
}

// decodeStream scans SSE events for the first decision digit and aborts
// the outbound connection as soon as it has one, so a single streamed
// byte is enough to route.
func (c *Client) decodeStream(cctx context.Context, abort context.CancelFunc, body io.Reader) (int, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 16*1024), 256*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk apiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skip unparseable classifier SSE chunk", zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			text = chunk.Choices[0].Text
		}
		if decision, ok := chat.ExtractDecision(text); ok {
			abort()
			return decision, nil
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		if cctx.Err() == context.DeadlineExceeded {
			return 0, errs.Wrap(errs.KindTimeout, "classifier stream timed out", err)
		}
		return 0, errs.Wrap(errs.KindClassifierError, "classifier stream read failed", err)
	}
	if cctx.Err() == context.DeadlineExceeded {
		return 0, errs.New(errs.KindTimeout, "classifier stream timed out")
	}
	return 0, errs.New(errs.KindNoDecision, "stream ended without a decision digit")
}

func (c *Client) decodeBuffered(body io.Reader) (int, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return 0, errs.Wrap(errs.KindClassifierError, "read classifier response", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, errs.Wrap(errs.KindClassifierError, "parse classifier response", err)
	}
	if len(parsed.Choices) == 0 {
		return 0, errs.New(errs.KindNoDecision, "classifier returned no choices")
	}

	text := parsed.Choices[0].Message.Content
	if text == "" {
		text = parsed.Choices[0].Text
	}
	if decision, ok := chat.ExtractDecision(text); ok {
		return decision, nil
	}
	return 0, errs.New(errs.KindNoDecision, "classifier reply carries no decision digit")
}

// --- warmup / keep-alive ---

// RunWarmup blocks until ctx is done, issuing a synthetic classification
// after the configured delay and then every KeepAliveMs when set. It is
// meant to run on a detached goroutine; failures are warn-logged and
// never fatal.
func (c *Client) RunWarmup(ctx context.Context) {
	select {
	case <-time.After(time.Duration(c.cfg.WarmupDelayMs) * time.Millisecond):
	case <-ctx.Done():
		return
	}

	c.warmOnce(ctx)

	if c.cfg.KeepAliveMs <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(c.cfg.KeepAliveMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.warmOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) warmOnce(ctx context.Context) {
	timeout := time.Duration(c.cfg.TimeoutMs) * time.Millisecond
	if timeout < warmupTimeoutFloor {
		timeout = warmupTimeoutFloor
	}
	start := time.Now()
	if _, err := c.classify(ctx, "Warmup.", timeout); err != nil {
		c.logger.Warn("classifier warmup failed", zap.Error(err))
		return
	}
	c.logger.Debug("classifier warm", zap.Duration("latency", time.Since(start)))
}
