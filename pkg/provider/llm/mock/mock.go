// Package mock provides a scriptable llm.Provider test double.
package mock

import (
	"context"
	"sync"

	"github.com/sefton37/kelloggchat/pkg/provider/llm"
)

// Compile-time assertion that Provider satisfies the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)

// Call records one Chat invocation for later inspection.
type Call struct {
	Model    string
	Messages []llm.Message
}

// Provider is a scriptable test double. Responses are consumed in FIFO order;
// when the script is exhausted, Fallback (or an empty-response error) is used.
// Script entries and recorded calls are guarded by a mutex, so the double is
// safe for concurrent use like the real providers.
type Provider struct {
	mu sync.Mutex

	// Script is the queue of responses to return, in order. An entry with a
	// non-nil Err returns that error instead of a response.
	Script []Scripted

	// Fallback is returned once the script is exhausted. Empty content means
	// llm.ErrEmptyResponse.
	Fallback string

	// ByModel, when set, overrides the FIFO script: the next unconsumed entry
	// whose Model matches the call is used.
	ByModel bool

	// Calls records every invocation in order.
	Calls []Call
}

// Scripted is one scripted response.
type Scripted struct {
	// Model restricts this entry to calls for a specific model when the
	// provider's ByModel flag is set. Empty matches any model.
	Model string

	Content string
	Err     error
	used    bool
}

// Chat implements llm.Provider.
func (p *Provider) Chat(_ context.Context, model string, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, Call{Model: model, Messages: req.Messages})

	for i := range p.Script {
		s := &p.Script[i]
		if s.used {
			continue
		}
		if p.ByModel && s.Model != "" && s.Model != model {
			continue
		}
		s.used = true
		if s.Err != nil {
			return nil, s.Err
		}
		return &llm.ChatResponse{
			Content: s.Content,
			Usage:   llm.Usage{PromptTokens: llm.EstimateTokens(req.Messages), CompletionTokens: llm.EstimateTextTokens(s.Content)},
		}, nil
	}

	if p.Fallback == "" {
		return nil, llm.ErrEmptyResponse
	}
	return &llm.ChatResponse{Content: p.Fallback}, nil
}

// CallCount returns the number of recorded calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// CallsForModel returns how many recorded calls targeted the given model.
func (p *Provider) CallsForModel(model string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Calls {
		if c.Model == model {
			n++
		}
	}
	return n
}
