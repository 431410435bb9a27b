// Package oai provides a chat provider backed by the official OpenAI Go SDK,
// pointed at any OpenAI-compatible server (vLLM, llama.cpp's OpenAI endpoint,
// LocalAI, or api.openai.com itself).
package oai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/sefton37/kelloggchat/pkg/provider/llm"
)

// Compile-time assertion that Provider satisfies the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the OpenAI chat-completions API.
type Provider struct {
	client oaisdk.Client
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithAPIKey sets the bearer token. Local servers usually accept any value.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithTimeout sets a per-request HTTP timeout on the underlying client.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Provider. Without options it targets api.openai.com and
// reads OPENAI_API_KEY from the environment (SDK default behaviour).
func New(opts ...Option) *Provider {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{}
	if cfg.apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oaisdk.NewClient(reqOpts...)}
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, model string, req llm.ChatRequest) (*llm.ChatResponse, error) {
	params := buildParams(model, req)

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("oai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, llm.ErrEmptyResponse
	}

	return &llm.ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// buildParams converts a ChatRequest into OpenAI SDK params.
func buildParams(model string, req llm.ChatRequest) oaisdk.ChatCompletionNewParams {
	messages := make([]oaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, oaisdk.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, oaisdk.AssistantMessage(m.Content))
		default:
			messages = append(messages, oaisdk.UserMessage(m.Content))
		}
	}

	params := oaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}
