package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/GCYYfun/MengLong-sub001/conversation"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Session is one conversation addressed by id. Turns on the same session
// are serialized with Do.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	conv      *conversation.Manager
	updatedAt time.Time
	turns     int
}

// Do runs fn with exclusive access to the conversation and counts a turn
// when fn succeeds.
func (s *Session) Do(fn func(conv *conversation.Manager) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.conv); err != nil {
		return err
	}
	s.turns++
	s.updatedAt = time.Now()
	return nil
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.updatedAt,
		Turns:     s.turns,
		Messages:  s.conv.Snapshot(),
	}
}

func (s *Session) lastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Store resolves sessions by id.
type Store interface {
	// Get returns the session, creating it on first use.
	Get(id string) (*Session, error)
	// Lookup returns an existing session or ErrNotFound.
	Lookup(id string) (*Session, error)
	Delete(id string) error
	IDs() []string
}

// InMemoryStore is a volatile Store keeping sessions in a process local
// map. It is safe for concurrent access and best suited for tests or
// ephemeral servers.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	system   string
	max      int
}

// InMemoryOptions configures an InMemoryStore.
type InMemoryOptions struct {
	// System seeds every new conversation with a system message.
	System string
	// MaxSessions evicts the least recently used session once exceeded
	// (0 = unbounded).
	MaxSessions int
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *InMemoryOptions)) *InMemoryStore {
	var opts InMemoryOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{sessions: make(map[string]*Session), system: opts.System, max: opts.MaxSessions}
}

// Get returns an existing session or creates a new one lazily.
func (s *InMemoryStore) Get(id string) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	return s.createSessionLocked(id), nil
}

// Lookup returns an existing session.
func (s *InMemoryStore) Lookup(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	return nil, ErrNotFound
}

// Delete removes a session.
func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// IDs returns the session ids in sorted order.
func (s *InMemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// createSessionLocked allocates and stores a new session; caller must
// already hold the write lock.
func (s *InMemoryStore) createSessionLocked(id string) *Session {
	if s.max > 0 && len(s.sessions) >= s.max {
		s.evictLocked()
	}
	now := time.Now()
	sess := &Session{
		ID:        id,
		CreatedAt: now,
		updatedAt: now,
		conv:      conversation.NewManager(s.system),
	}
	s.sessions[id] = sess
	return sess
}

func (s *InMemoryStore) evictLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, sess := range s.sessions {
		if t := sess.lastUsed(); oldestID == "" || t.Before(oldest) {
			oldestID, oldest = id, t
		}
	}
	delete(s.sessions, oldestID)
}
