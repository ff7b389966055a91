// Package compaction bounds conversational memory: it counts successful
// turns per session and, every threshold turns, replaces the session's
// history with a single seed turn carrying a summary of what came before.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/keeper/pkg/logging"
	"github.com/entrhq/keeper/pkg/session"
	"github.com/entrhq/keeper/pkg/types"
)

var debugLog = logging.NewLogger("compaction")

// State is a stage of the compaction cycle of one session.
type State int

const (
	StateIdle State = iota
	StateTriggered
	StateSummarizing
	StatePruning
	StateReseeding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTriggered:
		return "triggered"
	case StateSummarizing:
		return "summarizing"
	case StatePruning:
		return "pruning"
	case StateReseeding:
		return "reseeding"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Summarizer turns a prompt into text. Any fault is reported as an error.
type Summarizer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Runner runs one message through the agent for a session and streams its events.
type Runner interface {
	Run(ctx context.Context, id session.Identity, msg *types.Message) (<-chan *types.Event, error)
}

// Sessions is the part of the session lifecycle the compactor drives.
type Sessions interface {
	Delete(ctx context.Context, id session.Identity) error
	GetOrCreate(ctx context.Context, id session.Identity) (*session.Session, error)
	AppendTurn(ctx context.Context, id session.Identity, turn session.Turn) error
}

// StateHook observes state transitions. It runs synchronously.
type StateHook func(id session.Identity, from, to State)

// Result describes a completed compaction cycle.
type Result struct {
	StartedAt time.Time

	// SummaryErr is the summarizer failure that caused the fallback, if any.
	SummaryErr error

	// SeedErr is the runner failure during reseeding, if any. The seed turn
	// is still persisted.
	SeedErr error

	ID       string
	Summary  string
	SeedText string
	Session  session.Identity

	TurnsDiscarded int
	TokensBefore   int
	TokensAfter    int
	Duration       time.Duration

	// Fallback reports whether Summary is FallbackSummary.
	Fallback bool
}

// Compactor runs the compaction state machine:
// Idle → Triggered → Summarizing → Pruning → Reseeding → Idle.
//
// Callers must not run turns for a session while its cycle is in flight;
// Conversation serializes both under the session lock.
type Compactor struct {
	summarizer Summarizer
	sessions   Sessions
	runner     Runner
	counter    *Counter
	tokens     TokenCounter
	hooks      []StateHook
	buffers    map[session.Identity]*History
	states     map[session.Identity]State
	// rearmed holds sessions whose last cycle aborted; their next turn triggers again.
	rearmed map[session.Identity]bool
	timeout    time.Duration
	mu         sync.Mutex
}

// Option configures a Compactor.
type Option func(*Compactor)

// WithCounter sets the turn counter. Defaults to NewCounter(DefaultThreshold).
func WithCounter(c *Counter) Option {
	return func(cp *Compactor) {
		cp.counter = c
	}
}

// WithTokenCounter sets the token estimator used for Result token figures.
// A nil counter keeps the four-characters-per-token estimate.
func WithTokenCounter(t TokenCounter) Option {
	return func(cp *Compactor) {
		if t != nil {
			cp.tokens = t
		}
	}
}

// WithStateHook registers an observer for state transitions.
func WithStateHook(h StateHook) Option {
	return func(cp *Compactor) {
		cp.hooks = append(cp.hooks, h)
	}
}

// WithSummaryTimeout bounds the summarization call.
func WithSummaryTimeout(d time.Duration) Option {
	return func(cp *Compactor) {
		cp.timeout = d
	}
}

// WithConfig applies the threshold and summary timeout of cfg.
func WithConfig(cfg *Config) Option {
	return func(cp *Compactor) {
		if cfg == nil {
			return
		}
		cp.counter = NewCounter(cfg.Threshold)
		cp.timeout = cfg.SummaryTimeout
	}
}

// NewCompactor creates a compactor.
func NewCompactor(summarizer Summarizer, sessions Sessions, runner Runner, opts ...Option) *Compactor {
	c := &Compactor{
		summarizer: summarizer,
		sessions:   sessions,
		runner:     runner,
		tokens:     approximateCounter{},
		buffers:    make(map[session.Identity]*History),
		states:     make(map[session.Identity]State),
		rearmed:    make(map[session.Identity]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.counter == nil {
		c.counter = NewCounter(DefaultThreshold)
	}
	return c
}

// Counter returns the turn counter.
func (c *Compactor) Counter() *Counter {
	return c.counter
}

// State returns the current state for id.
func (c *Compactor) State(id session.Identity) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[id]
}

// History returns a copy of the lines buffered for id.
func (c *Compactor) History(id session.Identity) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.buffers[id]; ok {
		return h.Lines()
	}
	return nil
}

// Observe records one successful exchange and reports whether it reached the
// threshold, in which case the session enters Triggered and the caller should
// run Compact. After an aborted cycle the next exchange triggers regardless of
// the count.
func (c *Compactor) Observe(_ context.Context, id session.Identity, user, reply string) bool {
	c.mu.Lock()
	h, ok := c.buffers[id]
	if !ok {
		h = &History{}
		c.buffers[id] = h
	}
	h.Append(user, reply)
	retry := c.rearmed[id]
	c.mu.Unlock()

	fired := c.counter.RecordTurn(id)
	if !fired && !retry {
		return false
	}
	if fired {
		debugLog.Infof("Turn threshold %d reached for %s", c.counter.Threshold(), id)
	} else {
		debugLog.Infof("Retrying aborted compaction for %s", id)
	}
	c.transition(id, StateTriggered)
	return true
}

// Compact runs one compaction cycle for id. A summarizer failure is absorbed
// into FallbackSummary; prune and reseed failures abort the cycle with a
// *CompactionError and leave the counter untouched.
func (c *Compactor) Compact(ctx context.Context, id session.Identity) (*Result, error) {
	result := &Result{
		ID:        uuid.New().String(),
		Session:   id,
		StartedAt: time.Now(),
	}

	// Triggered: freeze the window; turns observed from here on start a fresh buffer
	c.mu.Lock()
	switch c.states[id] {
	case StateSummarizing, StatePruning, StateReseeding:
		c.mu.Unlock()
		return nil, NewCompactionError("compact", id, ErrCompactionInProgress)
	}
	frozen, ok := c.buffers[id]
	if !ok {
		frozen = &History{}
	}
	c.buffers[id] = &History{}
	delete(c.rearmed, id)
	c.mu.Unlock()
	c.transition(id, StateTriggered)

	transcript := frozen.Transcript()
	result.TurnsDiscarded = frozen.Turns()
	result.TokensBefore = c.tokens.CountTokens(transcript)
	debugLog.Infof("Compaction %s started for %s: %d turns, ~%d tokens",
		result.ID, id, result.TurnsDiscarded, result.TokensBefore)

	// Summarizing
	c.transition(id, StateSummarizing)
	summary, err := c.summarize(ctx, transcript)
	if err != nil {
		debugLog.Warnf("Summarization failed for %s, using fallback: %v", id, err)
		summary = FallbackSummary
		result.Fallback = true
		result.SummaryErr = err
	}
	result.Summary = summary
	result.SeedText = SeedText(summary)

	// Pruning
	c.transition(id, StatePruning)
	if err := c.sessions.Delete(ctx, id); err != nil {
		c.abort(id, frozen)
		return nil, NewCompactionError("prune", id, errors.Join(ErrPrune, err))
	}

	// Reseeding
	c.transition(id, StateReseeding)
	if _, err := c.sessions.GetOrCreate(ctx, id); err != nil {
		c.abort(id, frozen)
		return nil, NewCompactionError("reseed", id, errors.Join(ErrReseed, err))
	}
	if err := c.seed(ctx, id, result.SeedText); err != nil {
		debugLog.Warnf("Seed run failed for %s, persisting seed turn directly: %v", id, err)
		result.SeedErr = err
		seedTurn := session.Turn{User: result.SeedText, Seed: true, CreatedAt: time.Now()}
		if err := c.sessions.AppendTurn(ctx, id, seedTurn); err != nil {
			c.abort(id, frozen)
			return nil, NewCompactionError("reseed", id, errors.Join(ErrReseed, err))
		}
	}

	// Back to Idle: the buffer restarts from the summary, then the counter resets
	c.mu.Lock()
	next := newSummaryHistory(summary)
	if pending, ok := c.buffers[id]; ok {
		next.lines = append(next.lines, pending.lines...)
		next.turns += pending.turns
	}
	c.buffers[id] = next
	c.mu.Unlock()
	c.counter.Reset(id)

	result.TokensAfter = c.tokens.CountTokens(result.SeedText)
	result.Duration = time.Since(result.StartedAt)
	c.transition(id, StateIdle)

	debugLog.Infof("Compaction %s finished for %s in %s: ~%d → ~%d tokens (fallback=%v)",
		result.ID, id, result.Duration.Round(time.Millisecond), result.TokensBefore, result.TokensAfter, result.Fallback)
	return result, nil
}

func (c *Compactor) summarize(ctx context.Context, transcript string) (string, error) {
	if c.summarizer == nil {
		return "", errors.New("no summarizer configured")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	summary, err := c.summarizer.Generate(ctx, BuildSummaryPrompt(transcript))
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", errors.New("summarizer returned empty text")
	}
	return summary, nil
}

// seed runs the seed message through the runner and discards its output.
// It fails unless the runner closed the turn with a final response.
func (c *Compactor) seed(ctx context.Context, id session.Identity, text string) error {
	if c.runner == nil {
		return errors.New("no runner configured")
	}
	msg := types.NewUserMessage(text).WithMetadata(types.MetadataSeed, true)
	events, err := c.runner.Run(ctx, id, msg)
	if err != nil {
		return err
	}

	var (
		final  bool
		runErr error
	)
	for event := range events {
		switch {
		case event.IsErrorEvent():
			runErr = event.Error
			if runErr == nil {
				runErr = errors.New(event.ErrorMessage)
			}
		case event.IsFinalResponse():
			final = true
		}
	}
	if runErr != nil {
		return runErr
	}
	if !final {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.New("seed run produced no final response")
	}
	return nil
}

// abort returns id to Idle after a failed cycle, putting the frozen window
// back in front of anything observed meanwhile, and re-arms the trigger so
// the next observed turn retries the cycle. The counter is left as it was.
func (c *Compactor) abort(id session.Identity, frozen *History) {
	c.mu.Lock()
	if pending, ok := c.buffers[id]; ok {
		frozen.lines = append(frozen.lines, pending.lines...)
		frozen.turns += pending.turns
	}
	c.buffers[id] = frozen
	c.rearmed[id] = true
	c.mu.Unlock()
	c.transition(id, StateIdle)
}

func (c *Compactor) transition(id session.Identity, to State) {
	c.mu.Lock()
	from := c.states[id]
	if to == StateIdle {
		delete(c.states, id)
	} else {
		c.states[id] = to
	}
	hooks := c.hooks
	c.mu.Unlock()

	if from == to {
		return
	}
	debugLog.Debugf("Session %s: %s → %s", id, from, to)
	for _, h := range hooks {
		h(id, from, to)
	}
}
