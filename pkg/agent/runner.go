// Package agent runs conversation turns: a Runner streams the agent's reply for
// one message and persists the turn, and a Conversation drives turns, counts
// them and triggers memory compaction.
//
//	lifecycle := session.NewLifecycle(session.NewMemoryStore())
//	runner := agent.NewSessionRunner(provider, lifecycle)
//	conv := agent.NewConversation(id, runner, lifecycle, compactor)
//	result := conv.Process(ctx, "hello")
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/keeper/pkg/llm"
	"github.com/entrhq/keeper/pkg/logging"
	"github.com/entrhq/keeper/pkg/session"
	"github.com/entrhq/keeper/pkg/types"
)

var debugLog = logging.NewLogger("agent")

// DefaultSystemPrompt is sent ahead of every turn unless overridden.
const DefaultSystemPrompt = `You are a helpful personal assistant with long-term memory.
Earlier parts of the conversation may have been replaced by a summary that starts with "SYSTEM UPDATE"; treat it as established context.
Recalled memories from earlier sessions are provided when relevant. Use them, but prefer what the user says now.`

// Runner runs one message through the agent for a session.
//
// The returned channel yields zero or more partial events followed by exactly
// one final or error event, then closes. Run returns an error only when the
// turn could not start.
type Runner interface {
	Run(ctx context.Context, id session.Identity, msg *types.Message) (<-chan *types.Event, error)
}

// SessionRunner is a Runner backed by an llm.Provider and a session lifecycle.
type SessionRunner struct {
	provider     llm.Provider
	sessions     *session.Lifecycle
	systemPrompt string
	maxTurns     int
}

// RunnerOption configures a SessionRunner.
type RunnerOption func(*SessionRunner)

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) RunnerOption {
	return func(r *SessionRunner) {
		r.systemPrompt = prompt
	}
}

// WithMaxPromptTurns limits how many prior turns are replayed into the prompt.
// Zero replays every turn.
func WithMaxPromptTurns(n int) RunnerOption {
	return func(r *SessionRunner) {
		r.maxTurns = n
	}
}

// NewSessionRunner creates a runner.
func NewSessionRunner(provider llm.Provider, sessions *session.Lifecycle, opts ...RunnerOption) *SessionRunner {
	r := &SessionRunner{
		provider:     provider,
		sessions:     sessions,
		systemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run implements Runner. The turn is persisted before the final event is
// sent; a failed turn emits an error event and persists nothing.
func (r *SessionRunner) Run(ctx context.Context, id session.Identity, msg *types.Message) (<-chan *types.Event, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("agent: nil message")
	}

	sess, err := r.sessions.GetOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	prompt := r.buildPrompt(ctx, sess, msg)

	events := make(chan *types.Event, 16)
	go r.stream(ctx, id, msg, prompt, events)
	return events, nil
}

func (r *SessionRunner) stream(ctx context.Context, id session.Identity, msg *types.Message, prompt []*types.Message, events chan<- *types.Event) {
	defer close(events)

	chunks, err := r.provider.StreamCompletion(ctx, prompt)
	if err != nil {
		debugLog.Warnf("Model call failed for %s: %v", id, err)
		send(ctx, events, types.NewErrorEvent(err))
		return
	}

	var (
		reply    strings.Builder
		recorded []*types.Event
	)
	for chunk := range chunks {
		if chunk.IsError() {
			debugLog.Warnf("Model stream failed for %s: %v", id, chunk.Error)
			send(ctx, events, types.NewErrorEvent(chunk.Error))
			// Drain so the provider goroutine can exit.
			go drainChunks(chunks)
			return
		}
		if chunk.Content == "" {
			continue
		}
		reply.WriteString(chunk.Content)
		partial := types.NewMessageContentEvent(chunk.Content)
		recorded = append(recorded, partial)
		if !send(ctx, events, partial) {
			debugLog.Debugf("Turn for %s abandoned: %v", id, ctx.Err())
			go drainChunks(chunks)
			return
		}
	}

	final := types.NewFinalResponseEvent(strings.TrimSpace(reply.String()))
	recorded = append(recorded, final)

	turn := session.Turn{
		CreatedAt: time.Now(),
		User:      msg.Content,
		Agent:     final.Content,
		Events:    recorded,
		Seed:      msg.IsSeed(),
	}
	if err := r.sessions.AppendTurn(ctx, id, turn); err != nil {
		send(ctx, events, types.NewErrorEvent(err))
		return
	}
	send(ctx, events, final)
}

// send delivers event unless ctx ends first.
func send(ctx context.Context, events chan<- *types.Event, event *types.Event) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func drainChunks(chunks <-chan *llm.StreamChunk) {
	for range chunks {
	}
}

// buildPrompt assembles the system prompt, recalled memories, prior turns and
// the new message.
func (r *SessionRunner) buildPrompt(ctx context.Context, sess *session.Session, msg *types.Message) []*types.Message {
	var system strings.Builder
	system.WriteString(r.systemPrompt)

	if archive := r.sessions.Archive(); archive != nil && !msg.IsSeed() {
		memories, err := archive.Recall(ctx, sess.ID, msg.Content)
		if err != nil {
			debugLog.Warnf("Memory recall failed for %s: %v", sess.ID, err)
		}
		if len(memories) > 0 {
			system.WriteString("\n\nRecalled memories:\n")
			for _, m := range memories {
				system.WriteString("- ")
				system.WriteString(strings.ReplaceAll(m, "\n", "\n  "))
				system.WriteString("\n")
			}
		}
	}

	turns := sess.Turns
	if r.maxTurns > 0 && len(turns) > r.maxTurns {
		turns = turns[len(turns)-r.maxTurns:]
	}

	prompt := make([]*types.Message, 0, 2*len(turns)+2)
	if system.Len() > 0 {
		prompt = append(prompt, types.NewSystemMessage(system.String()))
	}
	for _, t := range turns {
		prompt = append(prompt, types.NewUserMessage(t.User))
		if t.Agent != "" {
			prompt = append(prompt, types.NewAssistantMessage(t.Agent))
		}
	}
	return append(prompt, types.NewUserMessage(msg.Content))
}
