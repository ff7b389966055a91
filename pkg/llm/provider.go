// Package llm provides abstractions for LLM provider integration: a streaming
// Provider interface, a Summarizer built on it, and an HTTP transport that
// retries transient failures.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	    openai.WithHTTPClient(llm.NewRetryClient(llm.DefaultRetryConfig())),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	summary, err := llm.NewSummarizer(provider).Generate(ctx, prompt)
package llm

import (
	"context"

	"github.com/entrhq/keeper/pkg/types"
)

// Provider defines the interface for LLM integrations.
//
// Providers handle API communication and return plain StreamChunk values;
// turning chunks into agent events and persisting turns is the agent's job.
type Provider interface {
	// StreamCompletion sends messages to the LLM and streams back response chunks.
	//
	// The channel is closed when streaming completes or an error occurs. Returns
	// an error only if streaming cannot be initiated; stream-time errors are sent
	// as chunks with Error set.
	StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *StreamChunk, error)

	// Complete sends messages to the LLM and returns the full response.
	Complete(ctx context.Context, messages []*types.Message) (*types.Message, error)

	// GetModelInfo returns information about the LLM model being used.
	GetModelInfo() *types.ModelInfo

	// GetModel returns the model name being used.
	GetModel() string
}

// Collect drains a chunk stream into a single assistant message.
func Collect(stream <-chan *StreamChunk) (*types.Message, error) {
	var (
		content []byte
		role    string
	)
	for chunk := range stream {
		if chunk.IsError() {
			return nil, chunk.Error
		}
		if chunk.Role != "" {
			role = chunk.Role
		}
		content = append(content, chunk.Content...)
	}
	if role == "" {
		role = string(types.RoleAssistant)
	}
	return &types.Message{Role: types.MessageRole(role), Content: string(content)}, nil
}
