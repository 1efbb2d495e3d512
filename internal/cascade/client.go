package cascade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acteon/acteon/internal/fault"
	"github.com/acteon/acteon/internal/health"
	"github.com/acteon/acteon/internal/schema"
)

// DefaultLLMTimeout bounds one model call.
const DefaultLLMTimeout = 40 * time.Second

// RespondTool is the synthetic tool name used in single-schema mode.
const RespondTool = "respond"

// Observer receives one event per attempted model call.
type Observer interface {
	ObserveCall(endpoint, model, outcome string, seconds float64)
}

// Client walks the cascade for each generation request.
type Client struct {
	mu        sync.RWMutex
	cfg       Config
	endpoints map[string]Endpoint

	health  health.Store
	httpc   *http.Client
	timeout time.Duration
	logger  *zap.Logger
	obs     Observer
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpc = h } }

func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

func WithObserver(o Observer) Option { return func(c *Client) { c.obs = o } }

func New(endpoints map[string]Endpoint, cfg Config, h health.Store, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:       cfg,
		endpoints: endpoints,
		health:    h,
		httpc:     &http.Client{},
		timeout:   DefaultLLMTimeout,
		logger:    logger.Named("cascade"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the current cascade configuration.
func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// SetConfig swaps the cascade configuration. Safe while requests are in
// flight; each request snapshots the config at its start.
func (c *Client) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// SetNoToolChoice updates the negotiated flag for every entry matching the
// given key. Returns true when an entry changed.
func (c *Client) SetNoToolChoice(key string, v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for tier, entries := range c.cfg.Tiers {
		for i, e := range entries {
			if e.Key() == key && e.NoToolChoice != v {
				entries[i].NoToolChoice = v
				changed = true
			}
		}
		c.cfg.Tiers[tier] = entries
	}
	return changed
}

// Generate runs the primary cascade pass for the tier, then the best-health
// fallback pass, and returns the first successful assistant message.
func (c *Client) Generate(ctx context.Context, messages []Message, tier Tier, tools []Tool) (*Message, error) {
	return c.generate(ctx, messages, tier, tools)
}

// GenerateWithSchema wraps the schema as a single "respond" tool so the
// parsing pipeline is the same as for tool requests.
func (c *Client) GenerateWithSchema(ctx context.Context, messages []Message, tier Tier, s schema.Schema) (*Message, error) {
	tool := NewTool(RespondTool, "Respond with the requested fields.", s)
	return c.generate(ctx, messages, tier, []Tool{tool})
}

func (c *Client) generate(ctx context.Context, messages []Message, tier Tier, tools []Tool) (*Message, error) {
	cfg := c.Config()

	var lastErr error

	// Primary pass: requested tier then lower tiers, skip-gated.
	for _, entry := range cfg.Entries(tier) {
		key := entry.Key()
		stats := c.health.Stats(key)
		errs := stats[health.MetricError].Total
		skips := stats[health.MetricSkip].Total
		if errs > 0 && skips < errs {
			c.health.Increment(key, health.MetricSkip, 1)
			c.observe(entry, "skip", 0)
			c.logger.Debug("skipping unhealthy model",
				zap.String("key", key), zap.Int64("errors", errs), zap.Int64("skips", skips))
			continue
		}

		msg, err := c.attempt(ctx, entry, messages, tools)
		if err != nil {
			lastErr = err
			continue
		}
		return msg, nil
	}

	// Fallback pass: the whole configured set ordered by errors in the
	// last hour, each retried once with the skip gate ignored.
	all := cfg.All()
	sort.SliceStable(all, func(i, j int) bool {
		return c.health.Stats(all[i].Key())[health.MetricError].LastHour <
			c.health.Stats(all[j].Key())[health.MetricError].LastHour
	})
	for _, entry := range all {
		msg, err := c.attempt(ctx, entry, messages, tools)
		if err != nil {
			lastErr = err
			continue
		}
		c.logger.Info("fallback pass recovered", zap.String("key", entry.Key()))
		return msg, nil
	}

	return nil, fault.Provider(lastErr, "all models exhausted for tier %s", tier)
}

// attempt performs one call and records its health outcome. Success resets
// the entry's error and skip counters.
func (c *Client) attempt(ctx context.Context, entry Entry, messages []Message, tools []Tool) (*Message, error) {
	key := entry.Key()
	start := time.Now()
	msg, err := c.call(ctx, entry, messages, tools, 0)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.health.Increment(key, health.MetricError, 1)
		c.observe(entry, "error", elapsed)
		c.logger.Warn("model call failed", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	c.health.Increment(key, health.MetricSuccess, 1)
	c.health.Clear(key, health.MetricError, health.MetricSkip)
	c.observe(entry, "success", elapsed)
	return msg, nil
}

func (c *Client) observe(entry Entry, outcome string, seconds float64) {
	if c.obs != nil {
		c.obs.ObserveCall(entry.Endpoint, entry.Model, outcome, seconds)
	}
}

// call sends one wire request. maxTokens zero means provider default.
func (c *Client) call(ctx context.Context, entry Entry, messages []Message, tools []Tool, maxTokens int) (*Message, error) {
	ep, ok := c.endpoints[entry.Endpoint]
	if !ok {
		return nil, &CallError{Endpoint: entry.Endpoint, Model: entry.Model, Detail: "endpoint not configured"}
	}

	req := chatRequest{
		Model:     entry.Model,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: maxTokens,
	}
	if len(tools) > 0 && !entry.NoToolChoice {
		req.ToolChoice = "required"
	}
	if entry.ProviderHint != "" {
		req.Provider = &providerHint{Only: []string{entry.ProviderHint}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if ep.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+ep.Credential)
	}
	for k, v := range ep.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, fault.Timeout("model call to %s/%s exceeded %s", entry.Endpoint, entry.Model, c.timeout)
		}
		return nil, &CallError{Endpoint: entry.Endpoint, Model: entry.Model, Detail: err.Error()}
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &CallError{Endpoint: entry.Endpoint, Model: entry.Model, Detail: "read response: " + err.Error()}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &CallError{
			Endpoint: entry.Endpoint,
			Model:    entry.Model,
			Status:   httpResp.StatusCode,
			Detail:   extractErrorDetail(respBody),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &CallError{Endpoint: entry.Endpoint, Model: entry.Model, Detail: "unmarshal response: " + err.Error()}
	}
	if parsed.Error != nil {
		return nil, &CallError{Endpoint: entry.Endpoint, Model: entry.Model, Detail: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, &CallError{Endpoint: entry.Endpoint, Model: entry.Model, Detail: "empty choices"}
	}

	msg := parsed.Choices[0].Message
	if len(msg.ToolCalls) > 0 && msg.ToolCalls[0].Function.Name == "" {
		return nil, &CallError{Endpoint: entry.Endpoint, Model: entry.Model, Detail: "tool call without function name"}
	}
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return nil, &CallError{Endpoint: entry.Endpoint, Model: entry.Model, Detail: "empty assistant message"}
	}
	return &msg, nil
}

// extractErrorDetail pulls the provider's error message out of a non-2xx
// body; falls back to the (truncated) raw body.
func extractErrorDetail(body []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
		var s string
		if err := json.Unmarshal(envelope.Error, &s); err == nil && s != "" {
			return s
		}
	}
	const maxDetail = 512
	if len(body) > maxDetail {
		body = body[:maxDetail]
	}
	return string(body)
}
