package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/keeper/pkg/compaction"
	"github.com/entrhq/keeper/pkg/session"
	"github.com/entrhq/keeper/pkg/types"
)

// TurnStatus classifies the outcome of a turn.
type TurnStatus int

const (
	// TurnOK is a turn with a non-empty reply. Only these turns are counted.
	TurnOK TurnStatus = iota
	// TurnEmpty is a turn whose final response had no text.
	TurnEmpty
	// TurnFailed is a turn that produced no final response.
	TurnFailed
)

func (s TurnStatus) String() string {
	switch s {
	case TurnOK:
		return "ok"
	case TurnEmpty:
		return "empty"
	case TurnFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TurnResult is the outcome of Conversation.Process.
type TurnResult struct {
	// Err is set for TurnFailed.
	Err error

	// Compaction is set when the turn triggered a completed compaction cycle.
	Compaction *compaction.Result

	// CompactionErr is set when the turn triggered a cycle that failed.
	CompactionErr error

	Text   string
	Status TurnStatus
}

// Compactor is the part of compaction.Compactor a conversation drives.
type Compactor interface {
	Observe(ctx context.Context, id session.Identity, user, reply string) bool
	Compact(ctx context.Context, id session.Identity) (*compaction.Result, error)
}

// Conversation processes the turns of one session identity.
type Conversation struct {
	runner    Runner
	sessions  *session.Lifecycle
	compactor Compactor
	hooks     []PostTurnHook
	id        session.Identity
}

// ConversationOption configures a Conversation.
type ConversationOption func(*Conversation)

// WithPostTurnHook registers a hook run after every successful turn.
func WithPostTurnHook(h PostTurnHook) ConversationOption {
	return func(c *Conversation) {
		c.hooks = append(c.hooks, h)
	}
}

// NewConversation creates a conversation. A nil compactor disables compaction.
func NewConversation(id session.Identity, runner Runner, sessions *session.Lifecycle, compactor Compactor, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		id:        id,
		runner:    runner,
		sessions:  sessions,
		compactor: compactor,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the session identity.
func (c *Conversation) ID() session.Identity {
	return c.id
}

// Open loads or creates the session and snapshots it into the archive.
// It reports whether the session already existed.
func (c *Conversation) Open(ctx context.Context) (bool, error) {
	if err := c.id.Validate(); err != nil {
		return false, err
	}

	existed := true
	if _, err := c.sessions.Store().Get(ctx, c.id); err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			return false, err
		}
		existed = false
	}

	sess, err := c.sessions.GetOrCreate(ctx, c.id)
	if err != nil {
		return false, err
	}
	if archive := c.sessions.Archive(); archive != nil {
		if err := archive.Add(ctx, sess); err != nil {
			debugLog.Warnf("Failed to archive session %s: %v", c.id, err)
		}
	}
	return existed, nil
}

// Process runs one user turn. The session lock is held for the turn, the
// post-turn hooks and any compaction the turn triggers.
func (c *Conversation) Process(ctx context.Context, input string) *TurnResult {
	unlock := c.sessions.Lock(c.id)
	defer unlock()

	events, err := c.runner.Run(ctx, c.id, types.NewUserMessage(input))
	if err != nil {
		return &TurnResult{Status: TurnFailed, Err: err}
	}
	text, err := FinalResponse(ctx, events)
	if err != nil {
		debugLog.Warnf("Turn failed for %s: %v", c.id, err)
		return &TurnResult{Status: TurnFailed, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return &TurnResult{Status: TurnEmpty}
	}

	result := &TurnResult{Status: TurnOK, Text: text}
	for _, hook := range c.hooks {
		if err := hook(ctx, c.id, result); err != nil {
			debugLog.Warnf("Post-turn hook failed for %s: %v", c.id, err)
		}
	}

	if c.compactor != nil && c.compactor.Observe(ctx, c.id, input, text) {
		result.Compaction, result.CompactionErr = c.compactor.Compact(ctx, c.id)
		if result.CompactionErr != nil {
			debugLog.Errorf("Compaction failed for %s: %v", c.id, result.CompactionErr)
		}
	}
	return result
}
