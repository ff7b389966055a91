package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/entrhq/keeper/pkg/logging"
)

var debugLog = logging.NewLogger("session")

// Lifecycle implements get-or-create, delete and recreate over a Store,
// and owns the per-identity locks that serialize turns for one session.
type Lifecycle struct {
	store   Store
	archive Archive
	locks   map[Identity]*sync.Mutex
	mu      sync.Mutex
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithArchive makes Delete also forget the session's archive snapshot.
func WithArchive(a Archive) LifecycleOption {
	return func(l *Lifecycle) {
		l.archive = a
	}
}

// NewLifecycle creates a lifecycle manager over store.
func NewLifecycle(store Store, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		store: store,
		locks: make(map[Identity]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying store.
func (l *Lifecycle) Store() Store {
	return l.store
}

// Archive returns the configured archive, or nil.
func (l *Lifecycle) Archive() Archive {
	return l.archive
}

// GetOrCreate returns the session for id, creating an empty one when absent.
// A concurrent creator winning the race is resolved by reading its session.
func (l *Lifecycle) GetOrCreate(ctx context.Context, id Identity) (*Session, error) {
	s, err := l.store.Get(ctx, id)
	if err == nil && s != nil {
		return s, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	debugLog.Debugf("Creating new session %s", id)
	s, err = l.store.Create(ctx, id)
	if errors.Is(err, ErrAlreadyExists) {
		return l.store.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", id, err)
	}
	return s, nil
}

// Delete removes the session and its archive snapshot. Deleting an absent
// session succeeds.
func (l *Lifecycle) Delete(ctx context.Context, id Identity) error {
	if err := l.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if l.archive != nil {
		if err := l.archive.Forget(ctx, id); err != nil {
			return fmt.Errorf("failed to forget session %s: %w", id, err)
		}
	}
	debugLog.Debugf("Deleted session %s", id)
	return nil
}

// Recreate deletes the session and creates an empty one under the same identity.
func (l *Lifecycle) Recreate(ctx context.Context, id Identity) (*Session, error) {
	if err := l.Delete(ctx, id); err != nil {
		return nil, err
	}
	s, err := l.store.Create(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to recreate session %s: %w", id, err)
	}
	return s, nil
}

// AppendTurn appends a turn, creating the session first if needed.
func (l *Lifecycle) AppendTurn(ctx context.Context, id Identity, turn Turn) error {
	err := l.store.AppendTurn(ctx, id, turn)
	if errors.Is(err, ErrNotFound) {
		if _, err := l.GetOrCreate(ctx, id); err != nil {
			return err
		}
		err = l.store.AppendTurn(ctx, id, turn)
	}
	if err != nil {
		return fmt.Errorf("failed to append turn to %s: %w", id, err)
	}
	return nil
}

// Lock acquires the per-identity lock and returns its release function.
func (l *Lifecycle) Lock(id Identity) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
