package pipeline

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sefton37/kelloggchat/internal/convstore"
	"github.com/sefton37/kelloggchat/internal/inbox"
)

func newTestExecutor(t *testing.T) (*ToolExecutor, *inbox.Store) {
	t.Helper()
	ib, err := inbox.New(filepath.Join(t.TempDir(), "inbox"))
	if err != nil {
		t.Fatal(err)
	}
	return NewToolExecutor(ib), ib
}

func TestExtractToolCall(t *testing.T) {
	t.Run("well-formed", func(t *testing.T) {
		draft := "Sure, one sec.\n```tool\n{\"tool\": \"save_message_for_kellogg\", \"message\": \"hi\"}\n```\nDone."
		call, remainder, found, err := extractToolCall(draft)
		if !found || err != nil {
			t.Fatalf("found=%v err=%v", found, err)
		}
		if call.Tool != ToolSaveMessage || call.Message != "hi" {
			t.Errorf("call = %+v", call)
		}
		if strings.Contains(remainder, "```") {
			t.Errorf("fence left in remainder: %q", remainder)
		}
	})

	t.Run("no fence", func(t *testing.T) {
		_, _, found, _ := extractToolCall("just a plain answer")
		if found {
			t.Error("plain text misread as tool call")
		}
	})

	t.Run("fenced JSON without tool field is not a call", func(t *testing.T) {
		_, _, found, _ := extractToolCall("example:\n```json\n{\"a\": 1}\n```")
		if found {
			t.Error("non-tool JSON misread as tool call")
		}
	})

	t.Run("malformed JSON still counts as found", func(t *testing.T) {
		_, _, found, err := extractToolCall("```tool\n{not json}\n```")
		if !found {
			t.Fatal("malformed block must count as found")
		}
		if err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestExecuteValidation(t *testing.T) {
	e, ib := newTestExecutor(t)

	tests := []struct {
		name string
		call toolCall
		want string // expected failure reason fragment; "" means success
	}{
		{"ok minimal", toolCall{Tool: ToolSaveMessage, Message: "hello"}, ""},
		{"ok full", toolCall{Tool: ToolSaveMessage, Message: "hello", VisitorName: "Jane", VisitorEmail: "jane@example.com"}, ""},
		{"unknown tool", toolCall{Tool: "delete_everything", Message: "x"}, "unknown tool"},
		{"empty message", toolCall{Tool: ToolSaveMessage, Message: "   "}, "empty"},
		{"oversized message", toolCall{Tool: ToolSaveMessage, Message: strings.Repeat("a", 4001)}, "4000"},
		{"oversized name", toolCall{Tool: ToolSaveMessage, Message: "hi", VisitorName: strings.Repeat("n", 201)}, "200"},
		{"bad email", toolCall{Tool: ToolSaveMessage, Message: "hi", VisitorEmail: "not-an-email"}, "valid address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(tt.call, "conv-1", nil)
			if tt.want == "" {
				if res.Status != "ok" || res.ID == "" {
					t.Errorf("result = %+v, want ok with id", res)
				}
				return
			}
			if res.Status != "error" || !strings.Contains(res.Reason, tt.want) {
				t.Errorf("result = %+v, want error mentioning %q", res, tt.want)
			}
		})
	}

	// Failures never persist anything; the two successes above did.
	msgs, err := ib.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("inbox has %d messages, want 2", len(msgs))
	}
}

func TestExecuteStoresConversationContext(t *testing.T) {
	e, ib := newTestExecutor(t)

	history := []convstore.Turn{
		{Role: convstore.RoleUser, Content: "first"},
		{Role: convstore.RoleAssistant, Content: "second"},
		{Role: convstore.RoleUser, Content: "third"},
	}
	res := e.Execute(toolCall{Tool: ToolSaveMessage, Message: "hi"}, "conv-9", history)
	if res.Status != "ok" {
		t.Fatalf("result = %+v", res)
	}

	msg, err := ib.Get(res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ConversationID != "conv-9" {
		t.Errorf("conversation id = %q", msg.ConversationID)
	}
	// At most the last two turns are excerpted.
	if len(msg.Context) != 2 || msg.Context[0].Content != "second" || msg.Context[1].Content != "third" {
		t.Errorf("context = %+v", msg.Context)
	}
}
