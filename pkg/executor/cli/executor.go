// Package cli provides a line-oriented terminal executor for a conversation.
//
// Example usage:
//
//	conv := agent.NewConversation(id, runner, lifecycle, compactor)
//	executor := cli.NewExecutor(conv, cli.WithTitle("Job_Search"))
//	if err := executor.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/entrhq/keeper/pkg/agent"
	"github.com/entrhq/keeper/pkg/compaction"
	"github.com/entrhq/keeper/pkg/session"
)

// NoAnswer is printed when a turn ends without a usable reply.
const NoAnswer = "(no final answer found)"

// exitWords end the loop, compared case-insensitively.
var exitWords = map[string]bool{"q": true, "quit": true, "exit": true}

// Processor runs one user turn.
type Processor interface {
	Process(ctx context.Context, input string) *agent.TurnResult
}

// Executor reads one line per turn from its input and prints the agent's
// final answer.
type Executor struct {
	conv   Processor
	reader *bufio.Reader
	writer io.Writer
	title  string
}

// ExecutorOption is a function that configures an Executor.
type ExecutorOption func(*Executor)

// WithWriter sets a custom output writer (default is os.Stdout).
func WithWriter(w io.Writer) ExecutorOption {
	return func(e *Executor) {
		e.writer = w
	}
}

// WithReader sets a custom input reader (default is os.Stdin).
func WithReader(r io.Reader) ExecutorOption {
	return func(e *Executor) {
		e.reader = bufio.NewReader(r)
	}
}

// WithTitle sets the banner title.
func WithTitle(title string) ExecutorOption {
	return func(e *Executor) {
		e.title = title
	}
}

// NewExecutor creates a new CLI executor for the given conversation.
func NewExecutor(conv Processor, opts ...ExecutorOption) *Executor {
	e := &Executor{
		conv:   conv,
		reader: bufio.NewReader(os.Stdin),
		writer: os.Stdout,
		title:  "Keeper",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run starts the conversation loop. It returns nil when the user exits or
// input ends, and ctx.Err() when ctx is canceled.
func (e *Executor) Run(ctx context.Context) error {
	fmt.Fprintf(e.writer, "=== %s Research Assistant ===\n", e.title)
	fmt.Fprintln(e.writer, "Type 'q', 'quit' or 'exit' to end.")
	fmt.Fprintln(e.writer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fmt.Fprint(e.writer, "> ")
		input, err := e.reader.ReadString('\n')
		if err != nil && (err != io.EOF || input == "") {
			if err == io.EOF {
				fmt.Fprintln(e.writer)
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if exitWords[strings.ToLower(input)] {
			return nil
		}
		if input == "" {
			continue
		}

		e.render(e.conv.Process(ctx, input))
	}
}

func (e *Executor) render(result *agent.TurnResult) {
	fmt.Fprintln(e.writer, "\nAgent:")
	switch result.Status {
	case agent.TurnOK:
		fmt.Fprintln(e.writer, result.Text)
	case agent.TurnFailed:
		fmt.Fprintf(e.writer, "Error: %v\n", result.Err)
		fmt.Fprintln(e.writer, NoAnswer)
	default:
		fmt.Fprintln(e.writer, NoAnswer)
	}

	if result.Compaction != nil {
		fmt.Fprintf(e.writer, "\n[Summary]: %s\n", result.Compaction.Summary)
		if result.Compaction.Fallback {
			fmt.Fprintf(e.writer, "[System] Summarization failed: %v\n", result.Compaction.SummaryErr)
		}
	}
	if result.CompactionErr != nil {
		fmt.Fprintf(e.writer, "[System] Memory compaction failed: %v\n", result.CompactionErr)
	}
	fmt.Fprintln(e.writer)
}

// ProgressHook prints compaction progress lines to w.
func ProgressHook(w io.Writer) compaction.StateHook {
	return func(_ session.Identity, _, to compaction.State) {
		switch to {
		case compaction.StateSummarizing:
			fmt.Fprintln(w, "\n[System] Summarizing conversation history...")
		case compaction.StatePruning:
			fmt.Fprintln(w, "[System] Pruning memory to prevent degradation...")
		case compaction.StateReseeding:
			fmt.Fprintln(w, "[System] Seeding new session with summary...")
		}
	}
}
