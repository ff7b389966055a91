package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/keeper/pkg/agent"
	"github.com/entrhq/keeper/pkg/logging"
)

var debugLog = logging.NewLogger("headless")

const (
	statusSuccess        = "success"
	statusFailed         = "failed"
	statusPartialSuccess = "partial_success"
	statusCanceled       = "canceled"
)

// Processor runs one user turn.
type Processor interface {
	Process(ctx context.Context, input string) *agent.TurnResult
}

// Executor implements the headless mode executor.
type Executor struct {
	conv    Processor
	script  *Script
	writer  *ArtifactWriter
	session string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSessionLabel names the session in artifacts.
func WithSessionLabel(label string) ExecutorOption {
	return func(e *Executor) {
		e.session = label
	}
}

// NewExecutor creates a headless executor for script.
func NewExecutor(conv Processor, script *Script, opts ...ExecutorOption) (*Executor, error) {
	if err := script.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	e := &Executor{
		conv:   conv,
		script: script,
		writer: NewArtifactWriter(script.Artifacts),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run processes every prompt and writes the artifacts. The returned error is
// non-nil when no turn succeeded, the run was canceled or artifacts could not
// be written; the summary is returned in every case.
func (e *Executor) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		Session:   e.session,
		StartTime: time.Now(),
		Turns:     make([]TurnRecord, 0, len(e.script.Prompts)),
	}
	debugLog.Infof("Headless run started: %d prompts", len(e.script.Prompts))

	var runErr error
	for i, prompt := range e.script.Prompts {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		record := e.processTurn(ctx, i+1, prompt)
		summary.Turns = append(summary.Turns, record)
		summary.Metrics.add(record)

		if record.Status == agent.TurnFailed.String() && e.script.StopOnFailure {
			runErr = fmt.Errorf("turn %d failed: %s", record.Index, record.Error)
			break
		}
	}

	summary.EndTime = time.Now()
	summary.Duration = summary.EndTime.Sub(summary.StartTime)
	summary.Status = status(summary.Metrics, runErr)
	if runErr == nil && summary.Metrics.Succeeded == 0 {
		runErr = errors.New("no turn produced an answer")
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}

	paths, err := e.writer.WriteAll(summary)
	if err != nil {
		debugLog.Errorf("Failed to write artifacts: %v", err)
		runErr = errors.Join(runErr, err)
	}
	for _, p := range paths {
		debugLog.Infof("Artifact written: %s", p)
	}

	debugLog.Infof("Headless run finished: status=%s turns=%d compactions=%d",
		summary.Status, summary.Metrics.Turns, summary.Metrics.Compactions)
	return summary, runErr
}

func (e *Executor) processTurn(ctx context.Context, index int, prompt string) TurnRecord {
	turnCtx := ctx
	if e.script.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, e.script.TurnTimeout)
		defer cancel()
	}

	start := time.Now()
	result := e.conv.Process(turnCtx, prompt)
	record := TurnRecord{
		Index:    index,
		Prompt:   prompt,
		Status:   result.Status.String(),
		Reply:    result.Text,
		Duration: time.Since(start),
	}
	if result.Err != nil {
		record.Error = result.Err.Error()
	}
	if c := result.Compaction; c != nil {
		record.Compaction = &CompactionRecord{
			ID:             c.ID,
			Summary:        c.Summary,
			Fallback:       c.Fallback,
			TurnsDiscarded: c.TurnsDiscarded,
			TokensBefore:   c.TokensBefore,
			TokensAfter:    c.TokensAfter,
		}
	}
	if result.CompactionErr != nil {
		record.CompactionErr = result.CompactionErr.Error()
	}
	return record
}

func (m *Metrics) add(r TurnRecord) {
	m.Turns++
	switch r.Status {
	case agent.TurnOK.String():
		m.Succeeded++
	case agent.TurnEmpty.String():
		m.Empty++
	default:
		m.Failed++
	}
	if r.Compaction != nil {
		m.Compactions++
		if r.Compaction.Fallback {
			m.Fallbacks++
		}
	}
}

func status(m Metrics, runErr error) string {
	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		return statusCanceled
	case m.Succeeded == 0:
		return statusFailed
	case m.Succeeded < m.Turns || runErr != nil:
		return statusPartialSuccess
	default:
		return statusSuccess
	}
}
