// Package session holds conversation sessions, their persistence backends
// and the lifecycle operations the compactor relies on.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/keeper/pkg/types"
)

var (
	// ErrNotFound is returned when no session exists for an identity.
	ErrNotFound = errors.New("session: not found")

	// ErrAlreadyExists is returned by Create when the identity is taken.
	ErrAlreadyExists = errors.New("session: already exists")

	// ErrInvalidIdentity is returned for identities with empty components.
	ErrInvalidIdentity = errors.New("session: invalid identity")
)

// Identity names a session: (application, user, session).
type Identity struct {
	AppID     string `json:"app_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// String renders the identity as app/user/session.
func (id Identity) String() string {
	return fmt.Sprintf("%s/%s/%s", id.AppID, id.UserID, id.SessionID)
}

// Validate reports whether every component is set.
func (id Identity) Validate() error {
	if id.AppID == "" || id.UserID == "" || id.SessionID == "" {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, id.String())
	}
	return nil
}

// Turn is one (user utterance, agent reply) pair with the events the runner
// recorded for it.
type Turn struct {
	CreatedAt time.Time      `json:"created_at"`
	User      string         `json:"user"`
	Agent     string         `json:"agent"`
	Events    []*types.Event `json:"events,omitempty"`

	// Seed marks the synthetic turn that carries a summary into a recreated session.
	Seed bool `json:"seed,omitempty"`
}

// Session is an ordered, append-only sequence of turns.
type Session struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ID        Identity  `json:"id"`
	Turns     []Turn    `json:"turns"`
}

// New returns an empty session for id.
func New(id Identity) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Turns:     []Turn{},
	}
}

// Clone returns a copy that shares no slices with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		c.Turns[i] = t
		if t.Events != nil {
			c.Turns[i].Events = make([]*types.Event, len(t.Events))
			for j, e := range t.Events {
				ev := *e
				c.Turns[i].Events[j] = &ev
			}
		}
	}
	return &c
}
