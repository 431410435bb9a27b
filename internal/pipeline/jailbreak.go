package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sefton37/kelloggchat/internal/backend"
	"github.com/sefton37/kelloggchat/internal/convstore"
	"github.com/sefton37/kelloggchat/internal/prompts"
	"github.com/sefton37/kelloggchat/pkg/provider/llm"
)

// jailbreakReasonCodes is the closed set the classifier may return.
var jailbreakReasonCodes = []string{
	"none", "instruction_override", "prompt_extraction", "roleplay_attack",
	"encoding_trick", "manipulation", "multi_turn_attack",
}

// multiTurnWindow is how many recent user turns the classifier sees for
// multi-turn manipulation detection.
const multiTurnWindow = 2

// jailbreakVerdict is the classifier's constrained-JSON output.
type jailbreakVerdict struct {
	Classification string  `json:"classification"`
	ReasonCode     string  `json:"reason_code"`
	Confidence     float64 `json:"confidence"`
}

// classifyJailbreak runs the L2 model call. The bool result is true when
// the message may proceed. The stage fails closed: any backend error,
// malformed JSON, BLOCKED at sufficient confidence, or a suspiciously
// unconfident SAFE all refuse. The returned reason is recorded in the trace.
func (o *Orchestrator) classifyJailbreak(ctx context.Context, sanitized string, history []convstore.Turn, trace *Trace) (bool, string) {
	var sb strings.Builder
	recent := lastUserTurns(history, multiTurnWindow)
	if len(recent) > 0 {
		sb.WriteString("Recent user messages in this conversation:\n")
		for _, t := range recent {
			fmt.Fprintf(&sb, "- %s\n", t.Content)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Message to classify:\n")
	sb.WriteString(sanitized)

	var verdict jailbreakVerdict
	stats, err := o.backend.ChatJSON(ctx, o.models.Classifier, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: prompts.Jailbreak()},
			{Role: "user", Content: sb.String()},
		},
	}, backend.Options{Timeout: o.budgets.Classify, MaxTokens: 200}, &verdict)
	trace.AddModelCall(stats)
	if err != nil {
		return false, "classifier_error"
	}

	verdict.Classification = strings.ToUpper(strings.TrimSpace(verdict.Classification))
	verdict.ReasonCode = clampEnum(verdict.ReasonCode, jailbreakReasonCodes, "manipulation")

	switch verdict.Classification {
	case "SAFE":
		if verdict.Confidence < 0.3 {
			// A hesitant SAFE is not safe.
			return false, "low_confidence_safe"
		}
		return true, ""
	case "BLOCKED":
		if verdict.Confidence >= 0.5 {
			return false, verdict.ReasonCode
		}
		return true, ""
	default:
		return false, "malformed_classification"
	}
}

// lastUserTurns returns up to n of the most recent user turns, oldest first.
func lastUserTurns(history []convstore.Turn, n int) []convstore.Turn {
	var users []convstore.Turn
	for i := len(history) - 1; i >= 0 && len(users) < n; i-- {
		if history[i].Role == convstore.RoleUser {
			users = append(users, history[i])
		}
	}
	// Reverse into chronological order.
	for i, j := 0, len(users)-1; i < j; i, j = i+1, j-1 {
		users[i], users[j] = users[j], users[i]
	}
	return users
}
