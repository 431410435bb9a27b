// Package backend adapts the model providers to the pipeline's needs. It
// owns the cross-cutting call policy: a concurrency gate protecting the
// local runtime, per-call timeouts, a single retry on transport errors
// (never on content errors), fence stripping and strict JSON decoding for
// classifier calls, and a liveness probe feeding /health. The adapter never
// fabricates content on failure — a failed call is an error, full stop.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sefton37/kelloggchat/pkg/provider/embeddings"
	"github.com/sefton37/kelloggchat/pkg/provider/llm"
)

// ErrGateBusy is returned when the concurrency gate cannot be entered before
// the call's deadline. The pipeline maps it to a rate-limit refusal: the
// runtime is saturated and queueing further would only burn the deadline.
var ErrGateBusy = errors.New("backend: model gate busy until deadline")

// ErrMalformedJSON marks a structurally invalid model response where strict
// JSON was required. It is a content error: never retried by the adapter,
// and the calling stage decides what failing closed means for it.
var ErrMalformedJSON = errors.New("backend: malformed JSON from model")

// CallStats describes one completed model call, for tracing.
type CallStats struct {
	Model     string
	Duration  time.Duration
	TokensIn  int
	TokensOut int
}

// Options tunes a single Chat call.
type Options struct {
	// Timeout bounds this call. The effective deadline is the earlier of
	// ctx's deadline and this timeout. Zero means ctx alone bounds the call.
	Timeout time.Duration

	// Temperature and MaxTokens pass through to the provider.
	Temperature float64
	MaxTokens   int
}

// Client is the pipeline-facing model backend. Safe for concurrent use.
type Client struct {
	chat  llm.Provider
	embed embeddings.Provider // nil when no embedding backend is configured
	gate  *semaphore.Weighted

	probeModel string
	healthy    atomic.Bool
}

// New creates a Client. maxInflight bounds concurrent model calls;
// embedProvider may be nil. probeModel is the model pinged by the health
// probe (the classifier — smallest and always loaded).
func New(chat llm.Provider, embedProvider embeddings.Provider, maxInflight int, probeModel string) *Client {
	if maxInflight < 1 {
		maxInflight = 1
	}
	c := &Client{
		chat:       chat,
		embed:      embedProvider,
		gate:       semaphore.NewWeighted(int64(maxInflight)),
		probeModel: probeModel,
	}
	// Optimistic until the first probe says otherwise.
	c.healthy.Store(true)
	return c
}

// Chat performs one gated, deadline-bounded chat call with the retry policy
// applied. The returned CallStats is valid whenever err is nil.
func (c *Client) Chat(ctx context.Context, model string, req llm.ChatRequest, opts Options) (string, CallStats, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return "", CallStats{}, ErrGateBusy
	}
	defer c.gate.Release(1)

	callCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req.Temperature = opts.Temperature
	req.MaxTokens = opts.MaxTokens

	start := time.Now()
	resp, err := c.chat.Chat(callCtx, model, req)
	if err != nil && retryable(callCtx, err) {
		slog.Debug("model call failed, retrying once", "model", model, "err", err)
		resp, err = c.chat.Chat(callCtx, model, req)
	}
	if err != nil {
		return "", CallStats{}, fmt.Errorf("backend: chat %s: %w", model, err)
	}

	stats := CallStats{
		Model:     model,
		Duration:  time.Since(start),
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}
	if stats.TokensIn == 0 {
		stats.TokensIn = llm.EstimateTokens(req.Messages)
	}
	if stats.TokensOut == 0 {
		stats.TokensOut = llm.EstimateTextTokens(resp.Content)
	}
	return resp.Content, stats, nil
}

// ChatJSON performs Chat and strictly decodes the response into out after
// stripping fence noise. A decode failure wraps [ErrMalformedJSON].
func (c *Client) ChatJSON(ctx context.Context, model string, req llm.ChatRequest, opts Options, out any) (CallStats, error) {
	content, stats, err := c.Chat(ctx, model, req, opts)
	if err != nil {
		return stats, err
	}
	cleaned := StripFences(content)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return stats, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return stats, nil
}

// Embed computes an embedding vector, or reports that no embedding backend
// is configured.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embed == nil {
		return nil, errors.New("backend: no embedding provider configured")
	}
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, ErrGateBusy
	}
	defer c.gate.Release(1)
	return c.embed.Embed(ctx, text)
}

// HasEmbeddings reports whether an embedding backend is configured.
func (c *Client) HasEmbeddings() bool {
	return c.embed != nil
}

// Healthy reports the result of the most recent probe.
func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

// Probe issues a minimal chat call to verify the runtime responds. It
// records the outcome for [Healthy].
func (c *Client) Probe(ctx context.Context) error {
	_, _, err := c.Chat(ctx, c.probeModel, llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: "ping"}},
	}, Options{Timeout: 10 * time.Second, MaxTokens: 1})
	c.healthy.Store(err == nil)
	return err
}

// RunProbe probes on an interval until ctx is cancelled. Run it in its own
// goroutine.
func (c *Client) RunProbe(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Probe(ctx); err != nil {
				slog.Warn("model backend probe failed", "err", err)
			}
		}
	}
}

// retryable reports whether err is worth one retry: transport-level
// failures are; content errors and an expired caller deadline are not.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, llm.ErrEmptyResponse) {
		return false
	}
	return true
}

// StripFences removes a leading/trailing markdown code fence (with optional
// language tag) from a model response expected to be bare JSON, plus any
// chatter before the opening fence when a fence was present.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	// Take the content of the first fenced block.
	start := strings.Index(s, "```")
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line (e.g. "json").
		firstLine := strings.TrimSpace(rest[:nl])
		if len(firstLine) <= 10 && !strings.ContainsAny(firstLine, "{}") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
