package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/keeper/pkg/llm"
	"github.com/entrhq/keeper/pkg/types"
)

const sseReply = ": keep-alive\n\n" +
	"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
	"data: not-json\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\", world\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
	"data: [DONE]\n\n"

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestNewProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")

	_, err := NewProvider("")
	assert.Error(t, err)

	p, err := NewProvider("key", WithModel("gpt-4o-mini"), WithBaseURL("http://localhost:8080/v1/"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", p.GetModel())
	assert.Equal(t, "http://localhost:8080/v1", p.GetBaseURL())
	assert.Equal(t, "openai", p.GetModelInfo().Provider)
	assert.Equal(t, "http://localhost:8080/v1", p.GetModelInfo().Metadata["base_url"])
}

func TestNewProvider_EnvFallbacks(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_BASE_URL", "http://proxy.local/v1")

	p, err := NewProvider("")
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.local/v1", p.GetBaseURL())
	assert.Equal(t, DefaultModel, p.GetModel())
}

func TestProvider_Complete(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"stream":true`)
		assert.Contains(t, string(body), `"model":"gpt-test"`)
		assert.Contains(t, string(body), "be brief")

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseReply)
	})

	p, err := NewProvider("key", WithModel("gpt-test"), WithBaseURL(server.URL))
	require.NoError(t, err)

	reply, err := p.Complete(context.Background(), []*types.Message{
		types.NewSystemMessage("be brief"),
		types.NewUserMessage("hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.RoleAssistant, reply.Role)
	assert.Equal(t, "Hello, world", reply.Content)
}

func TestProvider_StreamEndsWithFinishedChunk(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, sseReply)
	})

	p, err := NewProvider("key", WithBaseURL(server.URL))
	require.NoError(t, err)

	stream, err := p.StreamCompletion(context.Background(), []*types.Message{types.NewUserMessage("hi")})
	require.NoError(t, err)

	var chunks []*llm.StreamChunk
	for c := range stream {
		chunks = append(chunks, c)
	}
	require.NotEmpty(t, chunks)
	assert.Equal(t, "assistant", chunks[0].Role)
	assert.True(t, chunks[len(chunks)-1].IsLast())
}

func TestProvider_StatusError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"bad key"}`)
	})

	p, err := NewProvider("key", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []*types.Message{types.NewUserMessage("hi")})
	var statusErr *llm.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.True(t, strings.Contains(statusErr.Body, "bad key"))
	assert.NotErrorIs(t, err, llm.ErrTransient)
}

func TestConvertToOpenAIMessages(t *testing.T) {
	msgs := convertToOpenAIMessages([]*types.Message{
		types.NewSystemMessage("s"),
		types.NewUserMessage("u"),
		types.NewAssistantMessage("a"),
		{Role: "tool", Content: "t"},
	})
	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	assert.NotNil(t, msgs[2].OfAssistant)
	assert.NotNil(t, msgs[3].OfUser, "unknown roles are sent as user messages")
}
