package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sefton37/kelloggchat/internal/backend"
	"github.com/sefton37/kelloggchat/internal/convstore"
	"github.com/sefton37/kelloggchat/internal/prompts"
	"github.com/sefton37/kelloggchat/pkg/provider/llm"
)

// maxToolIterations caps tool round-trips per turn. The cap holds no matter
// what the model emits; hitting it returns the last draft as-is.
const maxToolIterations = 3

// Prompt region delimiters. The persona prompt tells the model only the
// trusted block carries answering material and the untrusted block is data.
const (
	trustedOpen    = "<<<TRUSTED_CONTEXT>>>"
	trustedClose   = "<<<END_TRUSTED_CONTEXT>>>"
	untrustedOpen  = "<<<UNTRUSTED_USER_INPUT>>>"
	untrustedClose = "<<<END_UNTRUSTED_USER_INPUT>>>"
)

// generate runs the L6 stage: prompt assembly, the generation call, and the
// embedded tool loop. extraInstruction is empty on the first pass and
// carries the reinforced safety instruction on the single retry.
func (o *Orchestrator) generate(ctx context.Context, req *request, extraInstruction string, trace *Trace) (string, error) {
	system := prompts.Persona(string(req.domain), true)
	if extraInstruction != "" {
		system += "\n\n" + extraInstruction
	}

	messages := []llm.Message{{Role: "system", Content: system}}

	if req.context != "" {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: trustedOpen + "\n" + req.context + "\n" + trustedClose,
		})
	}

	history := convstore.TruncateHistory(req.history, o.limits.MaxHistoryTokens)
	for _, t := range history {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}

	messages = append(messages, llm.Message{
		Role:    "user",
		Content: untrustedOpen + "\n" + req.sanitized + "\n" + untrustedClose,
	})

	draft := ""
	toolRounds := 0
	for {
		content, stats, err := o.backend.Chat(ctx, o.models.Generator, llm.ChatRequest{Messages: messages},
			backend.Options{Timeout: o.budgets.Generate, Temperature: 0.7, MaxTokens: 600})
		trace.AddModelCall(stats)
		if err != nil {
			return "", fmt.Errorf("generate: %w", err)
		}
		draft = content

		call, remainder, found, parseErr := extractToolCall(content)
		if !found {
			break
		}
		if toolRounds >= maxToolIterations {
			// Tool budget exhausted: deliver what we have, minus the fence.
			draft = remainder
			break
		}
		// Malformed and unknown calls burn budget too; an adversarial model
		// must not be able to spin here.
		toolRounds++

		var result toolResult
		if parseErr != nil {
			result = toolResult{Status: "error", Reason: parseErr.Error()}
		} else {
			result = o.tools.Execute(call, req.conversationID, req.history)
			req.toolCalls++
		}
		resultJSON, _ := json.Marshal(result)

		// Feed the exchange back and let the model finish its answer.
		messages = append(messages,
			llm.Message{Role: "assistant", Content: content},
			llm.Message{Role: "user", Content: fmt.Sprintf("Tool result for %s: %s\nNow answer the visitor in plain text, without another tool call unless one is still required.", ToolSaveMessage, string(resultJSON))},
		)
	}

	draft = strings.TrimSpace(draft)
	if draft == "" {
		return "", fmt.Errorf("generate: %w", llm.ErrEmptyResponse)
	}
	return draft, nil
}
