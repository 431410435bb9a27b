// Package inbox persists contact messages left by visitors for the site
// owner. Each message is one JSON file, created owner-read/write only, in a
// directory that is itself owner-only. Writes are append-only and
// serialized; nothing in the public surface can read a message back — only
// the authenticated admin endpoints list or fetch them.
package inbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an unknown message id.
var ErrNotFound = errors.New("inbox: message not found")

// ContextTurn is an excerpted conversation turn stored alongside a message.
type ContextTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message is one persisted contact message.
type Message struct {
	ID             string        `json:"id"`
	Timestamp      time.Time     `json:"timestamp"`
	SenderName     string        `json:"sender_name,omitempty"`
	SenderEmail    string        `json:"sender_email,omitempty"`
	Body           string        `json:"body"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Context        []ContextTurn `json:"context,omitempty"`
}

// Store writes and reads contact messages in a directory.
// Safe for concurrent use; writes are serialized behind a single lock.
type Store struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// Option is a functional option for [New].
type Option func(*Store)

// WithClock substitutes the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates the inbox directory (owner-only) if needed and returns a Store.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("inbox: create dir %q: %w", dir, err)
	}
	s := &Store{dir: dir, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Save assigns the message an id and timestamp and writes it to its own
// file. The returned id names the stored record.
func (s *Store) Save(msg Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = uuid.NewString()
	msg.Timestamp = s.now().UTC()

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("inbox: marshal: %w", err)
	}

	path := filepath.Join(s.dir, msg.ID+".json")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("inbox: create %q: %w", path, err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return "", fmt.Errorf("inbox: write %q: %w", path, werr)
	}
	if cerr != nil {
		return "", fmt.Errorf("inbox: close %q: %w", path, cerr)
	}
	return msg.ID, nil
}

// List returns all stored messages, newest first.
func (s *Store) List() ([]Message, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("inbox: read dir: %w", err)
	}

	var msgs []Message
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		m, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			// A torn or foreign file must not hide the rest of the inbox.
			continue
		}
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp.After(msgs[j].Timestamp) })
	return msgs, nil
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (Message, error) {
	// The id is always one of our UUIDs; reject anything path-like.
	if id != filepath.Base(id) || strings.ContainsAny(id, "/\\.") {
		return Message{}, ErrNotFound
	}
	m, err := s.read(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (s *Store) read(path string) (Message, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Message{}, err
	}
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
