// Package anthropic provides an LLM provider backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/entrhq/keeper/pkg/llm"
	"github.com/entrhq/keeper/pkg/types"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-5"

	// DefaultMaxTokens caps the length of a reply.
	DefaultMaxTokens = 4096
)

// Provider implements llm.Provider over the Messages API.
type Provider struct {
	client     anthropic.Client
	httpClient *http.Client
	modelInfo  *types.ModelInfo
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int64
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client, typically one built by llm.NewRetryClient.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithMaxTokens caps reply length.
func WithMaxTokens(n int) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.maxTokens = int64(n)
		}
	}
}

// NewProvider creates a provider. An empty apiKey is read from ANTHROPIC_API_KEY.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (provide via parameter or ANTHROPIC_API_KEY environment variable)")
	}

	p := &Provider{
		apiKey:    apiKey,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}

	// Retries belong to the HTTP transport so the SDK's own retry loop is off.
	clientOpts := []option.RequestOption{
		option.WithAPIKey(p.apiKey),
		option.WithMaxRetries(0),
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(p.httpClient))
	}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = anthropic.NewClient(clientOpts...)

	p.modelInfo = &types.ModelInfo{
		Provider:          "anthropic",
		Name:              p.model,
		MaxTokens:         int(p.maxTokens),
		SupportsStreaming: true,
		Metadata:          make(map[string]interface{}),
	}
	if p.baseURL != "" {
		p.modelInfo.Metadata["base_url"] = p.baseURL
	}
	return p, nil
}

func (p *Provider) buildParams(messages []*types.Message) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
	}
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case types.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return params
}

// StreamCompletion streams text deltas from the Messages API.
func (p *Provider) StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *llm.StreamChunk, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("anthropic: at least one message is required")
	}

	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(messages))
	chunks := make(chan *llm.StreamChunk, 10)

	go func() {
		defer close(chunks)
		defer stream.Close()

		first := true
		for stream.Next() {
			var out *llm.StreamChunk
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if text := ev.Delta.AsTextDelta().Text; text != "" {
					out = &llm.StreamChunk{Content: text}
				}
			case anthropic.MessageStopEvent:
				out = &llm.StreamChunk{Finished: true}
			}
			if out == nil {
				continue
			}
			if first {
				out.Role = string(types.RoleAssistant)
				first = false
			}
			select {
			case chunks <- out:
			case <-ctx.Done():
				chunks <- &llm.StreamChunk{Error: ctx.Err()}
				return
			}
		}
		if err := stream.Err(); err != nil {
			chunks <- &llm.StreamChunk{Error: fmt.Errorf("anthropic: %w", err)}
		}
	}()

	return chunks, nil
}

// Complete sends messages and returns the text blocks of the reply.
func (p *Provider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("anthropic: at least one message is required")
	}

	resp, err := p.client.Messages.New(ctx, p.buildParams(messages))
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += text.Text
		}
	}
	return types.NewAssistantMessage(content), nil
}

// GetModelInfo returns information about the model being used.
func (p *Provider) GetModelInfo() *types.ModelInfo {
	return p.modelInfo
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}
