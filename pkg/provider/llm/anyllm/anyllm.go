// Package anyllm provides a chat provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider client that
// covers Ollama, llama.cpp, OpenAI, and other runtimes behind one interface.
//
// Usage:
//
//	p, err := anyllm.New("ollama")                                  // http://localhost:11434
//	p, err := anyllm.New("llamacpp", anyllmlib.WithBaseURL("http://gpu-box:8080/v1"))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/sefton37/kelloggchat/pkg/provider/llm"
)

// Compile-time assertion that Provider satisfies the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider by wrapping an any-llm-go backend.
// The model name is supplied per call, so one Provider serves every tier.
type Provider struct {
	backend anyllmlib.Provider
}

// New creates a Provider for the named runtime. providerName is one of
// "ollama", "llamacpp", or "openai". opts are any-llm-go options such as
// anyllmlib.WithBaseURL and anyllmlib.WithAPIKey; without options each
// runtime uses its conventional local default endpoint.
func New(providerName string, opts ...anyllmlib.Option) (*Provider, error) {
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "ollama":
		return ollama.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "openai":
		return anyllmoai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: ollama, llamacpp, openai", providerName)
	}
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, model string, req llm.ChatRequest) (*llm.ChatResponse, error) {
	params := buildParams(model, req)

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.ErrEmptyResponse
	}

	result := &llm.ChatResponse{
		Content: resp.Choices[0].Message.ContentString(),
	}
	if result.Content == "" {
		return nil, llm.ErrEmptyResponse
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// buildParams converts a ChatRequest into anyllm CompletionParams.
func buildParams(model string, req llm.ChatRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}
