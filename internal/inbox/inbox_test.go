package inbox

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestSaveAndGet(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "inbox"))
	if err != nil {
		t.Fatal(err)
	}

	id, err := s.Save(Message{
		SenderName:  "Jane",
		SenderEmail: "jane@example.com",
		Body:        "Interested in chatting about data roles.",
		Context:     []ContextTurn{{Role: "user", Content: "please pass a message"}},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SenderName != "Jane" || got.SenderEmail != "jane@example.com" {
		t.Errorf("sender = %q/%q", got.SenderName, got.SenderEmail)
	}
	if got.Body != "Interested in chatting about data roles." {
		t.Errorf("body = %q", got.Body)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
}

func TestFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	dir := filepath.Join(t.TempDir(), "inbox")
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Save(Message{Body: "hello"})
	if err != nil {
		t.Fatal(err)
	}

	dirInfo, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0o700 {
		t.Errorf("dir perm = %o, want 700", perm)
	}
	fileInfo, err := os.Stat(filepath.Join(dir, id+".json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := fileInfo.Mode().Perm(); perm != 0o600 {
		t.Errorf("file perm = %o, want 600", perm)
	}
}

func TestListNewestFirst(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s, err := New(filepath.Join(t.TempDir(), "inbox"), WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Save(Message{Body: "first"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(Message{Body: "second"}); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Body != "second" {
		t.Errorf("newest first violated: %q", msgs[0].Body)
	}
}

func TestGetRejectsPathTraversal(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "inbox"))
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"../etc/passwd", "a/b", "..", "x.json"} {
		if _, err := s.Get(id); err == nil {
			t.Errorf("Get(%q) should fail", id)
		}
	}
}
