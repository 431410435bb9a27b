package reqlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	w, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	recs := []Record{
		{
			Timestamp:      time.Unix(1_700_000_000, 0).UTC(),
			RequestID:      "req-1",
			ClientIPHash:   "abc123",
			InputLength:    42,
			LayersPassed:   []string{"L0", "L1", "L2"},
			BlockedAtLayer: "L2",
			BlockReason:    "prompt_extraction",
			ResponseTimeMS: 120,
		},
		{
			Timestamp:      time.Unix(1_700_000_060, 0).UTC(),
			RequestID:      "req-2",
			ClientIPHash:   "abc123",
			InputLength:    10,
			LayersPassed:   []string{"L0", "L1", "L2", "L3", "L4", "L5", "L6", "L7", "L8", "L9"},
			DomainMatched:  "META",
			ResponseTimeMS: 900,
			ModelCalls:     []ModelCall{{Model: "qwen2.5:7b", DurationMS: 700, TokensIn: 500, TokensOut: 80}},
		},
	}
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d records, want 2", len(got))
	}
	if got[0].BlockedAtLayer != "L2" || got[1].DomainMatched != "META" {
		t.Errorf("records round-tripped wrong: %+v", got)
	}
}

func TestRecordHasNoRawFields(t *testing.T) {
	// Structural no-leak check: the serialized record must not contain keys
	// that could carry raw text or raw addresses.
	data, err := json.Marshal(Record{RequestID: "r", ClientIPHash: "h"})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, forbidden := range []string{"message", "response", "content", "ip", "client_ip", "remote_addr"} {
		if _, ok := m[forbidden]; ok {
			t.Errorf("record exposes forbidden key %q", forbidden)
		}
	}
}

func TestFilePermission(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	w, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestReadSkipsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	w, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(Record{RequestID: "ok"}); err != nil {
		t.Fatal(err)
	}
	w.Close()

	// Simulate a torn write at the tail.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"request_id": "torn`)
	f.Close()

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RequestID != "ok" {
		t.Errorf("got %+v, want the one intact record", got)
	}
}
