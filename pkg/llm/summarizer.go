package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/keeper/pkg/types"
)

// DefaultSummarySystemPrompt frames the model for summarization requests.
const DefaultSummarySystemPrompt = "You condense conversation transcripts into short factual summaries."

// Summarizer produces text from a single prompt using a Provider.
type Summarizer struct {
	provider     Provider
	systemPrompt string
}

// SummarizerOption configures a Summarizer.
type SummarizerOption func(*Summarizer)

// WithSystemPrompt overrides the system prompt sent with every request.
// An empty prompt sends none.
func WithSystemPrompt(prompt string) SummarizerOption {
	return func(s *Summarizer) {
		s.systemPrompt = prompt
	}
}

// NewSummarizer creates a summarizer backed by provider.
func NewSummarizer(provider Provider, opts ...SummarizerOption) *Summarizer {
	s := &Summarizer{provider: provider, systemPrompt: DefaultSummarySystemPrompt}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate returns the model's text for prompt. Every failure, including an
// empty reply, wraps ErrGeneration.
func (s *Summarizer) Generate(ctx context.Context, prompt string) (string, error) {
	if s.provider == nil {
		return "", fmt.Errorf("%w: no provider configured", ErrGeneration)
	}

	messages := make([]*types.Message, 0, 2)
	if s.systemPrompt != "" {
		messages = append(messages, types.NewSystemMessage(s.systemPrompt))
	}
	messages = append(messages, types.NewUserMessage(prompt))

	reply, err := s.provider.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	text := strings.TrimSpace(reply.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty reply from %s", ErrGeneration, s.provider.GetModel())
	}

	debugLog.Debugf("Generated %d characters with %s", len(text), s.provider.GetModel())
	return text, nil
}
