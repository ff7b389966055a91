package compaction

import (
	"errors"
	"fmt"

	"github.com/entrhq/keeper/pkg/session"
)

// Sentinel errors for compaction operations.
var (
	// ErrInvalidConfig indicates invalid compaction configuration.
	ErrInvalidConfig = errors.New("invalid compaction configuration")

	// ErrCompactionInProgress indicates a cycle is already running for the session.
	ErrCompactionInProgress = errors.New("compaction already in progress")

	// ErrPrune indicates the old session could not be deleted.
	ErrPrune = errors.New("failed to prune session")

	// ErrReseed indicates the new session could not be created.
	ErrReseed = errors.New("failed to reseed session")
)

// CompactionError provides structured error context for compaction operations.
type CompactionError struct {
	// Err is the underlying error
	Err error

	// Context holds additional key-value pairs for debugging
	Context map[string]any

	// Op is the stage that failed ("summarize", "prune", "reseed")
	Op string

	// Session is the identity being compacted
	Session session.Identity
}

// Error returns a formatted error message.
func (e *CompactionError) Error() string {
	msg := fmt.Sprintf("compaction %s failed", e.Op)
	if e.Session != (session.Identity{}) {
		msg += fmt.Sprintf(" for session %s", e.Session)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *CompactionError) Unwrap() error {
	return e.Err
}

// NewCompactionError creates a CompactionError for op.
func NewCompactionError(op string, id session.Identity, err error) *CompactionError {
	return &CompactionError{
		Op:      op,
		Session: id,
		Err:     err,
		Context: make(map[string]any),
	}
}

// WithContext adds a key-value pair to the error context and returns the error for chaining.
func (e *CompactionError) WithContext(key string, value any) *CompactionError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
