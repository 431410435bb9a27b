package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sefton37/kelloggchat/internal/backend"
	"github.com/sefton37/kelloggchat/internal/prompts"
	"github.com/sefton37/kelloggchat/pkg/provider/embeddings"
	"github.com/sefton37/kelloggchat/pkg/provider/llm"
)

// revisionResult is the L7 checker's output.
type revisionResult struct {
	NeedsRevision   bool     `json:"needs_revision"`
	Issues          []string `json:"issues"`
	RevisedResponse string   `json:"revised_response"`
}

// revise runs the L7 stage. The stage is advisory only: any backend error
// or malformed output leaves the draft unchanged, and a revision request
// without usable replacement text is ignored.
func (o *Orchestrator) revise(ctx context.Context, draft, retrievedContext string, trace *Trace) string {
	var sb strings.Builder
	sb.WriteString("Draft answer:\n")
	sb.WriteString(draft)
	sb.WriteString("\n\nTrusted context the draft was allowed to use:\n")
	sb.WriteString(retrievedContext)

	var res revisionResult
	stats, err := o.backend.ChatJSON(ctx, o.models.Generator, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: prompts.Revision()},
			{Role: "user", Content: sb.String()},
		},
	}, backend.Options{Timeout: o.budgets.Revise, MaxTokens: 700}, &res)
	trace.AddModelCall(stats)
	if err != nil {
		return draft
	}
	if !res.NeedsRevision {
		return draft
	}
	revised := strings.TrimSpace(res.RevisedResponse)
	if revised == "" {
		return draft
	}
	return revised
}

// safetyResult is the L8 checker's output.
type safetyResult struct {
	Safe   bool     `json:"safe"`
	Issues []string `json:"issues"`
}

// checkSafety runs the L8 stage against a near-final response. It returns
// whether the response may ship and, when it may not, the flagged issues
// for the reinforced regeneration. The stage fails closed: backend errors
// and malformed output are unsafe.
func (o *Orchestrator) checkSafety(ctx context.Context, response, retrievedContext string, trace *Trace) (bool, []string) {
	var res safetyResult
	stats, err := o.backend.ChatJSON(ctx, o.models.Verifier, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: prompts.Safety()},
			{Role: "user", Content: "Response to check:\n" + response},
		},
	}, backend.Options{Timeout: o.budgets.Classify, MaxTokens: 200}, &res)
	trace.AddModelCall(stats)
	if err != nil {
		return false, []string{"safety check unavailable"}
	}
	if !res.Safe {
		issues := res.Issues
		if len(issues) == 0 {
			issues = []string{"unspecified safety issue"}
		}
		return false, issues
	}

	// Optional embedding-based grounding check: a response too dissimilar
	// from its context is suspected hallucination.
	if o.groundingThreshold > 0 && o.backend.HasEmbeddings() && retrievedContext != "" {
		similar, err := o.grounded(ctx, response, retrievedContext)
		if err != nil {
			// The classifier already passed; a broken embedding backend
			// should not take the request down with it.
			return true, nil
		}
		if !similar {
			return false, []string{fmt.Sprintf("response is not grounded in the provided context (similarity below %.2f)", o.groundingThreshold)}
		}
	}
	return true, nil
}

// grounded computes cosine similarity between response and context.
func (o *Orchestrator) grounded(ctx context.Context, response, retrievedContext string) (bool, error) {
	respVec, err := o.backend.Embed(ctx, response)
	if err != nil {
		return false, err
	}
	ctxVec, err := o.backend.Embed(ctx, retrievedContext)
	if err != nil {
		return false, err
	}
	return embeddings.Cosine(respVec, ctxVec) >= o.groundingThreshold, nil
}
