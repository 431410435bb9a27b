package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sefton37/kelloggchat/internal/convstore"
	"github.com/sefton37/kelloggchat/internal/inbox"
)

// ToolSaveMessage is the single tool offered to the generator.
const ToolSaveMessage = "save_message_for_kellogg"

// Tool argument bounds.
const (
	maxToolMessageLen = 4000
	maxToolNameLen    = 200
)

// emailPattern accepts a simple local@domain shape; it deliberately stays
// loose — the inbox is owner-read only and a bad address costs nothing.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// toolCallPattern finds a fenced block that might carry a tool call. The
// fence tag is optional and may be "tool" or "json".
var toolCallPattern = regexp.MustCompile("(?s)```(?:tool|json)?\\s*\\n?(\\{.*?\\})\\s*```")

// toolCall is the parsed fenced block.
type toolCall struct {
	Tool         string `json:"tool"`
	Message      string `json:"message"`
	VisitorName  string `json:"visitor_name"`
	VisitorEmail string `json:"visitor_email"`
}

// toolResult is serialized back to the model after execution.
type toolResult struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ToolExecutor validates and executes tool calls against the inbox.
// Failures are reported to the model as error results, never raised.
type ToolExecutor struct {
	inbox *inbox.Store
}

// NewToolExecutor wires the executor to its message sink.
func NewToolExecutor(store *inbox.Store) *ToolExecutor {
	return &ToolExecutor{inbox: store}
}

// extractToolCall finds the first fenced tool block in a draft. It returns
// the parse result, the draft with the block removed, and whether a block
// was found at all. A block that is not valid JSON or does not name a known
// tool still counts as found — the caller reports the error to the model.
func extractToolCall(draft string) (call toolCall, remainder string, found bool, parseErr error) {
	m := toolCallPattern.FindStringSubmatchIndex(draft)
	if m == nil {
		return toolCall{}, draft, false, nil
	}
	raw := draft[m[2]:m[3]]
	remainder = strings.TrimSpace(draft[:m[0]] + draft[m[1]:])

	if err := json.Unmarshal([]byte(raw), &call); err != nil {
		return toolCall{}, remainder, true, fmt.Errorf("tool call is not valid JSON: %w", err)
	}
	if call.Tool == "" {
		// A fenced JSON object without a tool field is model prose (e.g. an
		// example), not a call.
		return toolCall{}, draft, false, nil
	}
	return call, remainder, true, nil
}

// Execute runs one validated tool call. conversationID and context may be
// empty; context carries at most the last two turns.
func (e *ToolExecutor) Execute(call toolCall, conversationID string, history []convstore.Turn) toolResult {
	if call.Tool != ToolSaveMessage {
		return toolResult{Status: "error", Reason: fmt.Sprintf("unknown tool %q", call.Tool)}
	}
	if strings.TrimSpace(call.Message) == "" {
		return toolResult{Status: "error", Reason: "message must not be empty"}
	}
	if utf8.RuneCountInString(call.Message) > maxToolMessageLen {
		return toolResult{Status: "error", Reason: "message exceeds 4000 characters"}
	}
	if utf8.RuneCountInString(call.VisitorName) > maxToolNameLen {
		return toolResult{Status: "error", Reason: "visitor_name exceeds 200 characters"}
	}
	if call.VisitorEmail != "" && !emailPattern.MatchString(call.VisitorEmail) {
		return toolResult{Status: "error", Reason: "visitor_email is not a valid address"}
	}

	msg := inbox.Message{
		SenderName:     strings.TrimSpace(call.VisitorName),
		SenderEmail:    strings.TrimSpace(call.VisitorEmail),
		Body:           strings.TrimSpace(call.Message),
		ConversationID: conversationID,
	}
	for _, t := range tailTurns(history, 2) {
		msg.Context = append(msg.Context, inbox.ContextTurn{Role: t.Role, Content: t.Content})
	}

	id, err := e.inbox.Save(msg)
	if err != nil {
		slog.Error("tool: inbox save failed", "err", err)
		return toolResult{Status: "error", Reason: "could not store the message"}
	}
	return toolResult{Status: "ok", ID: id}
}

// tailTurns returns up to n of the most recent turns, in order.
func tailTurns(turns []convstore.Turn, n int) []convstore.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
