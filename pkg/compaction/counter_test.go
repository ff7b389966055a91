package compaction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/keeper/pkg/session"
)

func TestCounter_FiresEveryThreshold(t *testing.T) {
	c := NewCounter(3)
	id := session.Identity{AppID: "app", UserID: "u", SessionID: "s"}

	var fired []int
	for i := 1; i <= 9; i++ {
		if c.RecordTurn(id) {
			fired = append(fired, i)
		}
	}
	assert.Equal(t, []int{3, 6, 9}, fired)
	assert.Equal(t, 9, c.Count(id))
}

func TestCounter_ResetAndIsolation(t *testing.T) {
	c := NewCounter(2)
	a := session.Identity{AppID: "app", UserID: "a", SessionID: "s"}
	b := session.Identity{AppID: "app", UserID: "b", SessionID: "s"}

	c.RecordTurn(a)
	assert.False(t, c.RecordTurn(b), "counts are per identity")
	assert.True(t, c.RecordTurn(a))

	c.Reset(a)
	assert.Equal(t, 0, c.Count(a))
	assert.Equal(t, 1, c.Count(b))
}

func TestNewCounter_InvalidThresholdUsesDefault(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewCounter(0).Threshold())
	assert.Equal(t, DefaultThreshold, NewCounter(-4).Threshold())
	assert.Equal(t, 1, NewCounter(1).Threshold())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Threshold = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.SummaryTimeout = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestHistory(t *testing.T) {
	h := &History{}
	h.Append("hi", "hello")
	h.Append("bye", "see you")

	assert.Equal(t, 2, h.Turns())
	assert.Equal(t, "User: hi\nAgent: hello\nUser: bye\nAgent: see you", h.Transcript())

	lines := h.Lines()
	lines[0] = "changed"
	assert.Equal(t, "User: hi", h.Lines()[0], "Lines returns a copy")

	s := newSummaryHistory("facts")
	assert.Equal(t, []string{"Summary: facts"}, s.Lines())
	assert.Equal(t, 0, s.Turns())
}

func TestPrompts(t *testing.T) {
	prompt := BuildSummaryPrompt("User: a\nAgent: b")
	assert.True(t, strings.HasPrefix(prompt, "Please summarize the following conversation history."))
	assert.True(t, strings.HasSuffix(prompt, "History:\nUser: a\nAgent: b"))

	seed := SeedText("the user likes tea")
	assert.True(t, strings.HasPrefix(seed, SeedPreamble))
	assert.True(t, strings.HasSuffix(seed, "the user likes tea"))
}

func TestApproximateTokens(t *testing.T) {
	assert.Equal(t, 0, ApproximateTokens(""))
	assert.Equal(t, 1, ApproximateTokens("abc"))
	assert.Equal(t, 2, ApproximateTokens("abcdefgh"))

	var nilCounter *TiktokenCounter
	assert.Equal(t, 2, nilCounter.CountTokens("abcdefgh"))
}
