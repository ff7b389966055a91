package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/keeper/pkg/config"
	"github.com/entrhq/keeper/pkg/llm"
	"github.com/entrhq/keeper/pkg/records"
	"github.com/entrhq/keeper/pkg/session"
)

const outreach = `{
  "emails": [
    {"id": 1, "recipient_email": "a@x.com", "recipient_name": "Ann", "date_sent": "2024-01-05", "follow_up_dates": [], "notes": "n1", "last_updated": "2024-02-01"},
    {"id": 2, "recipient_email": "A@X.com", "recipient_name": "Ann Lee", "date_sent": "2024-01-10", "follow_up_dates": ["2024-01-20"], "notes": "n2", "last_updated": "2024-02-10"},
    {"id": 3, "recipient_email": "b@x.com", "recipient_name": "Bob", "date_sent": "2024-01-07", "follow_up_dates": [], "notes": "", "last_updated": "2024-01-07"}
  ]
}`

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("KEEPER_LOG_OUTPUT", "stderr")
	t.Setenv("KEEPER_LOG_LEVEL", "error")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDedupeCommand(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "sent_emails.json")
	require.NoError(t, os.WriteFile(path, []byte(outreach), 0o600))
	envFile := filepath.Join(dir, "none.env")

	out, err := execute(t, "dedupe", "--env-file", envFile, "--file", path, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Dry run: 3 records would become 2.")
	data, _ := os.ReadFile(path)
	assert.Equal(t, outreach, string(data), "dry run writes nothing")

	out, err = execute(t, "dedupe", "--env-file", envFile, "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Original count: 3")
	assert.Contains(t, out, "New count: 2")
	assert.Contains(t, out, "Backup written to")

	doc, err := records.NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, doc.Emails, 2)
	assert.Equal(t, "2", doc.Emails[0].IDString())
	assert.Equal(t, "2024-01-05", doc.Emails[0].DateSent)

	out, err = execute(t, "dedupe", "--env-file", envFile, "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No duplicates found")
}

func TestDedupeCommand_Errors(t *testing.T) {
	dir := setupEnv(t)
	envFile := filepath.Join(dir, "none.env")

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"emails": []}`), 0o600))
	_, err := execute(t, "dedupe", "--env-file", envFile, "--file", empty, "--require-non-empty")
	assert.ErrorIs(t, err, records.ErrEmptyCollection)

	malformed := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(malformed, []byte(`{"emails": [{"id": 1}]}`), 0o600))
	_, err = execute(t, "dedupe", "--env-file", envFile, "--file", malformed)
	assert.ErrorIs(t, err, records.ErrMalformedRecord)
	data, _ := os.ReadFile(malformed)
	assert.Equal(t, `{"emails": [{"id": 1}]}`, string(data))
}

func TestScheduleCommand_InvalidSpec(t *testing.T) {
	dir := setupEnv(t)
	_, err := execute(t, "schedule", "--env-file", filepath.Join(dir, "none.env"),
		"--file", filepath.Join(dir, "x.json"), "--cron", "not a schedule")
	assert.Error(t, err)
}

func TestRunSchedule_StopsOnCancel(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "sent_emails.json")
	require.NoError(t, os.WriteFile(path, []byte(outreach), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	rc := config.RecordsConfig{Path: path, Schedule: "@every 1s", PassTimeout: time.Second}
	err := runSchedule(ctx, rc, records.DedupeOptions{}, &out)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, strings.HasPrefix(out.String(), "Deduplicating "))
}

func TestBuildProvider(t *testing.T) {
	retry := llm.DefaultRetryConfig()

	p, err := buildProvider(config.LLMConfig{Provider: config.ProviderOpenAI, APIKey: "k"}, retry, "gpt-test")
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", p.GetModel())

	p, err = buildProvider(config.LLMConfig{Provider: config.ProviderAnthropic, APIKey: "k"}, retry, "claude-test")
	require.NoError(t, err)
	assert.Equal(t, "claude-test", p.GetModel())

	_, err = buildProvider(config.LLMConfig{Provider: "gemini", APIKey: "k"}, retry, "")
	assert.Error(t, err)
}

func TestOpenSessionStore(t *testing.T) {
	store, closeFn, err := openSessionStore(context.Background(), config.StoreConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &session.MemoryStore{}, store)

	_, _, err = openSessionStore(context.Background(), config.StoreConfig{Backend: "sqlite"})
	assert.Error(t, err)
}

func TestTokenCounter_EmptyEncoding(t *testing.T) {
	assert.Nil(t, tokenCounter(""))
}

func TestRunCommand_EndToEnd(t *testing.T) {
	dir := setupEnv(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reply := "noted"
		if strings.Contains(string(body), "summarize the following") {
			reply = "they asked twice"
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\""+reply+"\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	t.Setenv("KEEPER_LLM_PROVIDER", "openai")
	t.Setenv("KEEPER_LLM_API_KEY", "test")
	t.Setenv("KEEPER_LLM_BASE_URL", server.URL)
	t.Setenv("KEEPER_COMPACTION_THRESHOLD", "2")

	scriptPath := filepath.Join(dir, "prompts.yaml")
	require.NoError(t, os.WriteFile(scriptPath, []byte("prompts:\n  - one\n  - two\n  - three\n"), 0o600))
	artifacts := filepath.Join(dir, "artifacts")

	out, err := execute(t, "run", scriptPath, "--env-file", filepath.Join(dir, "none.env"), "--output", artifacts)
	require.NoError(t, err)
	assert.Contains(t, out, "[System] Summarizing conversation history...")
	assert.Contains(t, out, "Run success: 3/3 turns answered, 1 compactions")

	assert.FileExists(t, filepath.Join(artifacts, "transcript.json"))
	assert.FileExists(t, filepath.Join(artifacts, "summary.md"))
}
