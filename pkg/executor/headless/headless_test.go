package headless

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/keeper/pkg/agent"
	"github.com/entrhq/keeper/pkg/compaction"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, input string) *agent.TurnResult {
	args := m.Called(ctx, input)
	return args.Get(0).(*agent.TurnResult)
}

func script(dir string, prompts ...string) *Script {
	s := DefaultScript()
	s.Prompts = prompts
	s.Artifacts.OutputDir = dir
	return s
}

func TestLoadScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	content := `prompts:
  - "first"
  - "second"
turn_timeout: 30s
stop_on_failure: true
artifacts:
  output_dir: out
  markdown: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := LoadScript(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, s.Prompts)
	assert.Equal(t, 30*time.Second, s.TurnTimeout)
	assert.True(t, s.StopOnFailure)
	assert.Equal(t, "out", s.Artifacts.OutputDir)
	assert.True(t, s.Artifacts.JSON, "defaults survive")
	assert.False(t, s.Artifacts.Markdown)
}

func TestScriptValidate(t *testing.T) {
	tests := []struct {
		name    string
		script  Script
		wantErr bool
	}{
		{"valid", Script{Prompts: []string{"hi"}}, false},
		{"no prompts", Script{}, true},
		{"blank prompt", Script{Prompts: []string{"hi", "  "}}, true},
		{"negative timeout", Script{Prompts: []string{"hi"}, TurnTimeout: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.script.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExecutor_Run(t *testing.T) {
	dir := t.TempDir()
	proc := new(MockProcessor)
	proc.On("Process", mock.Anything, "one").Return(&agent.TurnResult{Status: agent.TurnOK, Text: "reply one"})
	proc.On("Process", mock.Anything, "two").Return(&agent.TurnResult{
		Status: agent.TurnOK,
		Text:   "reply two",
		Compaction: &compaction.Result{
			ID:             "c1",
			Summary:        compaction.FallbackSummary,
			Fallback:       true,
			TurnsDiscarded: 2,
		},
	})
	proc.On("Process", mock.Anything, "three").Return(&agent.TurnResult{Status: agent.TurnEmpty})

	exec, err := NewExecutor(proc, script(dir, "one", "two", "three"), WithSessionLabel("keeper/u/s"))
	require.NoError(t, err)

	summary, err := exec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, statusPartialSuccess, summary.Status)
	assert.Equal(t, "keeper/u/s", summary.Session)
	assert.Equal(t, Metrics{Turns: 3, Succeeded: 2, Empty: 1, Compactions: 1, Fallbacks: 1}, summary.Metrics)
	require.Len(t, summary.Turns, 3)
	assert.Equal(t, "reply two", summary.Turns[1].Reply)
	require.NotNil(t, summary.Turns[1].Compaction)
	assert.Equal(t, "c1", summary.Turns[1].Compaction.ID)

	data, err := os.ReadFile(filepath.Join(dir, "transcript.json"))
	require.NoError(t, err)
	var decoded Summary
	require.NoError(t, codec.Unmarshal(data, &decoded))
	assert.Equal(t, summary.Metrics, decoded.Metrics)

	md, err := os.ReadFile(filepath.Join(dir, "summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "**Status:** partial_success")
	assert.Contains(t, string(md), "Memory compacted: 2 turns")
	proc.AssertExpectations(t)
}

func TestExecutor_StopOnFailure(t *testing.T) {
	proc := new(MockProcessor)
	proc.On("Process", mock.Anything, "one").Return(&agent.TurnResult{Status: agent.TurnOK, Text: "ok"})
	proc.On("Process", mock.Anything, "two").Return(&agent.TurnResult{Status: agent.TurnFailed, Err: errors.New("boom")})

	s := script("", "one", "two", "three")
	s.StopOnFailure = true
	exec, err := NewExecutor(proc, s)
	require.NoError(t, err)

	summary, err := exec.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn 2 failed: boom")
	assert.Equal(t, statusPartialSuccess, summary.Status)
	assert.Len(t, summary.Turns, 2)
	proc.AssertNotCalled(t, "Process", mock.Anything, "three")
}

func TestExecutor_AllFailed(t *testing.T) {
	proc := new(MockProcessor)
	proc.On("Process", mock.Anything, mock.Anything).Return(&agent.TurnResult{Status: agent.TurnFailed, Err: errors.New("down")})

	exec, err := NewExecutor(proc, script("", "one", "two"))
	require.NoError(t, err)

	summary, err := exec.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, statusFailed, summary.Status)
	assert.Equal(t, 2, summary.Metrics.Failed)
}

func TestExecutor_Canceled(t *testing.T) {
	proc := new(MockProcessor)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec, err := NewExecutor(proc, script("", "one"))
	require.NoError(t, err)

	summary, err := exec.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, statusCanceled, summary.Status)
	assert.Empty(t, summary.Turns)
	proc.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestExecutor_TurnTimeout(t *testing.T) {
	proc := new(MockProcessor)
	proc.On("Process", mock.Anything, "one").Return(&agent.TurnResult{Status: agent.TurnOK, Text: "ok"}).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, ok := ctx.Deadline()
			assert.True(t, ok)
		})

	s := script("", "one")
	s.TurnTimeout = time.Minute
	exec, err := NewExecutor(proc, s)
	require.NoError(t, err)

	_, err = exec.Run(context.Background())
	require.NoError(t, err)
	proc.AssertExpectations(t)
}

func TestNewExecutor_InvalidScript(t *testing.T) {
	_, err := NewExecutor(new(MockProcessor), &Script{})
	assert.Error(t, err)
}
