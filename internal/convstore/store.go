// Package convstore is the in-memory conversation store: a TTL- and
// capacity-bounded map from conversation id to its ordered turns. The store
// exclusively owns the turn lists; callers read snapshots and the pipeline
// appends one user and one assistant turn atomically on success, so a
// failed request never grows a conversation.
package convstore

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sefton37/kelloggchat/pkg/provider/llm"
)

// Roles for [Turn.Role].
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound is returned by Append when the conversation id is unknown
// (expired or evicted between snapshot and append).
var ErrNotFound = errors.New("convstore: conversation not found")

// Turn is one message in a conversation.
type Turn struct {
	Role           string
	Content        string
	Timestamp      time.Time
	Domain         string
	ResponseTimeMS int64
}

// Snapshot is a caller-owned copy of a conversation's state.
type Snapshot struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	UserTurns    int
	Turns        []Turn
}

// conversation is the store-owned record.
type conversation struct {
	id           string
	createdAt    time.Time
	lastActivity time.Time
	userTurns    int
	turns        []Turn
}

// Config bounds a [Store].
type Config struct {
	// MaxTurns is the maximum number of user turns retained per conversation;
	// older turn pairs are evicted beyond it.
	MaxTurns int

	// TTL is the idle lifetime. Expired conversations are swept lazily on
	// access and by [Store.Sweep].
	TTL time.Duration

	// MaxConversations caps the store globally; the least-recently-active
	// conversation is evicted when a new one would exceed it.
	MaxConversations int
}

// Store holds all live conversations behind a single mutex. The per-request
// work inside the lock is bounded (snapshot copy, append, evict), so one
// mutex is enough at this service's concurrency level.
type Store struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	convs map[string]*conversation
}

// Option is a functional option for [New].
type Option func(*Store)

// WithClock substitutes the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(cfg Config, opts ...Option) *Store {
	s := &Store{
		cfg:   cfg,
		now:   time.Now,
		convs: make(map[string]*conversation),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetOrCreate returns a snapshot of the conversation with the given id,
// creating a fresh one when id is empty or unknown or when the existing
// conversation has expired. The returned id identifies the conversation the
// snapshot was taken from.
func (s *Store) GetOrCreate(id string) (string, Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id != "" {
		if c, ok := s.convs[id]; ok {
			if s.expired(c, now) {
				delete(s.convs, id)
			} else {
				return c.id, s.snapshotLocked(c)
			}
		}
	}

	c := &conversation{
		id:           uuid.NewString(),
		createdAt:    now,
		lastActivity: now,
	}
	s.evictOverCapacityLocked()
	s.convs[c.id] = c
	return c.id, s.snapshotLocked(c)
}

// Append atomically records one completed exchange: the user turn and the
// assistant turn land together, lastActivity is bumped, and the oldest turn
// pairs are evicted until the conversation is back within MaxTurns. Either
// both turns land or neither does.
func (s *Store) Append(id string, userTurn, assistantTurn Turn) error {
	if userTurn.Role != RoleUser || assistantTurn.Role != RoleAssistant {
		return errors.New("convstore: append requires one user and one assistant turn")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.convs[id]
	if !ok || s.expired(c, now) {
		if ok {
			delete(s.convs, id)
		}
		return ErrNotFound
	}

	c.turns = append(c.turns, userTurn, assistantTurn)
	c.userTurns++
	c.lastActivity = now

	for c.userTurns > s.cfg.MaxTurns {
		c.turns = dropOldestPair(c.turns)
		c.userTurns--
	}
	return nil
}

// Sweep evicts every expired conversation and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, c := range s.convs {
		if s.expired(c, now) {
			delete(s.convs, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

func (s *Store) expired(c *conversation, now time.Time) bool {
	return now.Sub(c.lastActivity) > s.cfg.TTL
}

// snapshotLocked copies c for the caller. Must hold s.mu.
func (s *Store) snapshotLocked(c *conversation) Snapshot {
	return Snapshot{
		ID:           c.id,
		CreatedAt:    c.createdAt,
		LastActivity: c.lastActivity,
		UserTurns:    c.userTurns,
		Turns:        append([]Turn(nil), c.turns...),
	}
}

// evictOverCapacityLocked makes room for one more conversation by removing
// the least-recently-active ones. Must hold s.mu.
func (s *Store) evictOverCapacityLocked() {
	for len(s.convs) >= s.cfg.MaxConversations {
		var oldest *conversation
		for _, c := range s.convs {
			if oldest == nil || c.lastActivity.Before(oldest.lastActivity) {
				oldest = c
			}
		}
		if oldest == nil {
			return
		}
		delete(s.convs, oldest.id)
	}
}

// dropOldestPair removes turns from the front up to and including the first
// assistant turn, keeping the remaining history starting on a user turn so
// alternation stays valid.
func dropOldestPair(turns []Turn) []Turn {
	for i, t := range turns {
		if t.Role == RoleAssistant {
			return append(turns[:0], turns[i+1:]...)
		}
	}
	return turns[:0]
}

// TruncateHistory drops the oldest turns until the estimated token count of
// the remainder fits maxTokens, always cutting on a user-turn boundary so
// alternation stays valid. The most recent turns are always preferred.
func TruncateHistory(turns []Turn, maxTokens int) []Turn {
	if len(turns) == 0 {
		return turns
	}

	msgs := make([]llm.Message, len(turns))
	for i, t := range turns {
		msgs[i] = llm.Message{Role: t.Role, Content: t.Content}
	}

	start := 0
	for start < len(turns) && llm.EstimateTokens(msgs[start:]) > maxTokens {
		// Advance to the next user turn so the window never opens on an
		// assistant turn.
		start++
		for start < len(turns) && turns[start].Role != RoleUser {
			start++
		}
	}
	return turns[start:]
}
