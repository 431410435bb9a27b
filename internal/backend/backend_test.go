package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sefton37/kelloggchat/pkg/provider/llm"
	llmmock "github.com/sefton37/kelloggchat/pkg/provider/llm/mock"
)

func chatReq(content string) llm.ChatRequest {
	return llm.ChatRequest{Messages: []llm.Message{{Role: "user", Content: content}}}
}

func TestChatRetriesTransportErrorOnce(t *testing.T) {
	p := &llmmock.Provider{Script: []llmmock.Scripted{
		{Err: errors.New("connection refused")},
		{Content: "recovered"},
	}}
	c := New(p, nil, 2, "probe-model")

	content, stats, err := c.Chat(context.Background(), "m", chatReq("hi"), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "recovered" {
		t.Errorf("content = %q", content)
	}
	if p.CallCount() != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", p.CallCount())
	}
	if stats.Model != "m" || stats.TokensOut == 0 {
		t.Errorf("stats not populated: %+v", stats)
	}
}

func TestChatDoesNotRetryContentError(t *testing.T) {
	p := &llmmock.Provider{Script: []llmmock.Scripted{
		{Err: llm.ErrEmptyResponse},
		{Content: "should never be reached"},
	}}
	c := New(p, nil, 2, "probe-model")

	_, _, err := c.Chat(context.Background(), "m", chatReq("hi"), Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if p.CallCount() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on content error)", p.CallCount())
	}
}

func TestChatGivesUpAfterSecondFailure(t *testing.T) {
	p := &llmmock.Provider{Script: []llmmock.Scripted{
		{Err: errors.New("boom")},
		{Err: errors.New("boom again")},
		{Content: "unreachable"},
	}}
	c := New(p, nil, 2, "probe-model")

	if _, _, err := c.Chat(context.Background(), "m", chatReq("hi"), Options{}); err == nil {
		t.Fatal("expected error after retry exhausted")
	}
	if p.CallCount() != 2 {
		t.Errorf("calls = %d, want exactly 2", p.CallCount())
	}
}

func TestChatJSONStripsFences(t *testing.T) {
	p := &llmmock.Provider{Script: []llmmock.Scripted{
		{Content: "```json\n{\"safe\": true}\n```"},
	}}
	c := New(p, nil, 2, "probe-model")

	var out struct {
		Safe bool `json:"safe"`
	}
	if _, err := c.ChatJSON(context.Background(), "m", chatReq("check"), Options{}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Safe {
		t.Error("fenced JSON not decoded")
	}
}

func TestChatJSONMalformed(t *testing.T) {
	p := &llmmock.Provider{Script: []llmmock.Scripted{
		{Content: "I think the answer is yes!"},
	}}
	c := New(p, nil, 2, "probe-model")

	var out struct{}
	_, err := c.ChatJSON(context.Background(), "m", chatReq("check"), Options{}, &out)
	if !errors.Is(err, ErrMalformedJSON) {
		t.Errorf("err = %v, want ErrMalformedJSON", err)
	}
}

func TestGateBusy(t *testing.T) {
	block := make(chan struct{})
	p := &blockingProvider{release: block, started: make(chan struct{})}
	c := New(p, nil, 1, "probe-model")

	// Occupy the single slot.
	go c.Chat(context.Background(), "m", chatReq("slow"), Options{})
	<-p.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := c.Chat(ctx, "m", chatReq("queued"), Options{})
	if !errors.Is(err, ErrGateBusy) {
		t.Errorf("err = %v, want ErrGateBusy", err)
	}
	close(block)
}

// blockingProvider parks the first Chat call until released.
type blockingProvider struct {
	release chan struct{}
	started chan struct{}
	once    bool
}

func (p *blockingProvider) Chat(ctx context.Context, model string, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if !p.once {
		p.once = true
		close(p.started)
		select {
		case <-p.release:
		case <-ctx.Done():
		}
	}
	return &llm.ChatResponse{Content: "done"}, nil
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"fenced with tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no tag", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"chatter before fence", "Here you go:\n```json\n{\"a\":1}\n```", `{"a":1}`},
		{"whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestProbeSetsHealth(t *testing.T) {
	p := &llmmock.Provider{Script: []llmmock.Scripted{
		{Err: errors.New("down")},
		{Err: errors.New("down")},
		{Content: "pong"},
	}}
	c := New(p, nil, 1, "probe-model")

	if err := c.Probe(context.Background()); err == nil {
		t.Fatal("expected probe failure")
	}
	if c.Healthy() {
		t.Error("Healthy() should be false after failed probe")
	}

	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("probe should succeed: %v", err)
	}
	if !c.Healthy() {
		t.Error("Healthy() should be true after successful probe")
	}
}
