package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/entrhq/keeper/pkg/agent"
	"github.com/entrhq/keeper/pkg/compaction"
	"github.com/entrhq/keeper/pkg/config"
	"github.com/entrhq/keeper/pkg/executor/cli"
	"github.com/entrhq/keeper/pkg/llm"
	"github.com/entrhq/keeper/pkg/llm/anthropic"
	"github.com/entrhq/keeper/pkg/llm/openai"
	"github.com/entrhq/keeper/pkg/logging"
	"github.com/entrhq/keeper/pkg/session"
)

var debugLog = logging.NewLogger("keeper")

func newChatCmd(flags *globalFlags) *cobra.Command {
	var userID, sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if userID != "" {
				cfg.App.UserID = userID
			}
			if sessionID != "" {
				cfg.App.SessionID = sessionID
			}
			return runChat(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id (overrides app.user_id)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (overrides app.session_id)")
	return cmd
}

func runChat(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	conv, closeFn, err := buildConversation(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer closeFn()

	existed, err := conv.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	if existed {
		fmt.Fprintln(out, "Loaded existing session.")
	} else {
		fmt.Fprintln(out, "New session created.")
	}

	return cli.NewExecutor(conv,
		cli.WithReader(in),
		cli.WithWriter(out),
		cli.WithTitle(cfg.App.SessionID),
	).Run(ctx)
}

// buildConversation wires providers, the session store and the compactor into
// a conversation for the configured identity. Compaction progress is printed
// to out. The returned func releases the store.
func buildConversation(ctx context.Context, cfg *config.Config, out io.Writer) (*agent.Conversation, func(), error) {
	provider, err := buildProvider(cfg.LLM, cfg.Retry, cfg.LLM.Model)
	if err != nil {
		return nil, nil, err
	}
	summaryProvider := provider
	if cfg.LLM.SummaryModel != "" && cfg.LLM.SummaryModel != cfg.LLM.Model {
		if summaryProvider, err = buildProvider(cfg.LLM, cfg.Retry, cfg.LLM.SummaryModel); err != nil {
			return nil, nil, err
		}
	}

	store, closeStore, err := openSessionStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	archive, err := openArchive(cfg)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	lifecycle := session.NewLifecycle(store, session.WithArchive(archive))
	id := session.Identity{AppID: cfg.App.AppID, UserID: cfg.App.UserID, SessionID: cfg.App.SessionID}

	runnerOpts := []agent.RunnerOption{agent.WithMaxPromptTurns(cfg.App.MaxPromptTurns)}
	if cfg.App.SystemPrompt != "" {
		runnerOpts = append(runnerOpts, agent.WithSystemPrompt(cfg.App.SystemPrompt))
	}
	runner := agent.NewSessionRunner(provider, lifecycle, runnerOpts...)

	compactor := compaction.NewCompactor(
		llm.NewSummarizer(summaryProvider),
		lifecycle,
		runner,
		compaction.WithConfig(&cfg.Compaction),
		compaction.WithTokenCounter(tokenCounter(cfg.Compaction.TokenEncoding)),
		compaction.WithStateHook(cli.ProgressHook(out)),
	)

	conv := agent.NewConversation(id, runner, lifecycle, compactor,
		agent.WithPostTurnHook(agent.ArchiveHook(lifecycle)))

	debugLog.Infof("Conversation ready for %s with %s (%s store)", id, provider.GetModel(), cfg.Store.Backend)
	return conv, closeStore, nil
}

// buildProvider creates the configured model provider behind a retrying HTTP client.
func buildProvider(cfg config.LLMConfig, retry llm.RetryConfig, model string) (llm.Provider, error) {
	client := llm.NewRetryClient(retry)

	switch cfg.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewProvider(cfg.APIKey,
			anthropic.WithModel(model),
			anthropic.WithBaseURL(cfg.BaseURL),
			anthropic.WithHTTPClient(client),
			anthropic.WithMaxTokens(cfg.MaxTokens),
		)
	case config.ProviderOpenAI, "":
		return openai.NewProvider(cfg.APIKey,
			openai.WithModel(model),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithHTTPClient(client),
		)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// openSessionStore connects the configured backend and returns its closer.
func openSessionStore(ctx context.Context, cfg config.StoreConfig) (session.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendRedis:
		var opts []session.RedisOption
		if cfg.TTL > 0 {
			opts = append(opts, session.WithTTL(cfg.TTL))
		}
		store, err := session.ConnectRedis(ctx, cfg.RedisURL, opts...)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case config.BackendPostgres:
		store, err := session.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.BackendMemory, "":
		return session.NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// openArchive returns the long-term memory archive.
func openArchive(cfg *config.Config) (session.Archive, error) {
	if cfg.Store.ArchiveDir == "" {
		return session.NewMemoryArchive(cfg.App.RecallLimit), nil
	}
	return session.NewFileArchive(cfg.Store.ArchiveDir, cfg.App.RecallLimit)
}

// tokenCounter returns a tiktoken counter for encoding, or nil to keep the
// compactor's estimate when encoding is empty or cannot be loaded.
func tokenCounter(encoding string) compaction.TokenCounter {
	if encoding == "" {
		return nil
	}
	counter, err := compaction.NewTiktokenCounter(encoding)
	if err != nil {
		debugLog.Warnf("Token encoding %q unavailable, using estimates: %v", encoding, err)
		return nil
	}
	return counter
}
