package session

import (
	"context"
	"sync"
	"time"
)

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the session for id, or ErrNotFound.
	Get(ctx context.Context, id Identity) (*Session, error)

	// Create stores a new empty session, or fails with ErrAlreadyExists.
	Create(ctx context.Context, id Identity) (*Session, error)

	// Delete removes the session and all its turns, or fails with ErrNotFound.
	Delete(ctx context.Context, id Identity) error

	// AppendTurn adds a turn to an existing session, or fails with ErrNotFound.
	AppendTurn(ctx context.Context, id Identity, turn Turn) error
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	sessions map[Identity]*Session
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[Identity]*Session),
	}
}

// Get returns a copy of the stored session.
func (m *MemoryStore) Get(_ context.Context, id Identity) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Create stores a new empty session.
func (m *MemoryStore) Create(_ context.Context, id Identity) (*Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, ErrAlreadyExists
	}
	s := New(id)
	m.sessions[id] = s
	return s.Clone(), nil
}

// Delete removes a session.
func (m *MemoryStore) Delete(_ context.Context, id Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; !exists {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// AppendTurn adds a turn to a session.
func (m *MemoryStore) AppendTurn(_ context.Context, id Identity, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[id]
	if !exists {
		return ErrNotFound
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.Turns = append(s.Turns, turn)
	s.UpdatedAt = turn.CreatedAt
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
